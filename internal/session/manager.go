package session

import (
	"sort"
	"sync"
	"time"

	"github.com/docmanager/backend/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MaxSessionsPerUser limits concurrent logins per account; the oldest is evicted.
const MaxSessionsPerUser = 10

// SessionMaxAge is how long an idle session stays valid.
const SessionMaxAge = 30 * time.Minute

// Manager tracks authenticated login sessions. Tokens carry the session ID, so
// revoking a session here invalidates its token before expiry.
type Manager struct {
	sessions map[string]*models.LoginSession
	mu       sync.RWMutex
	maxAge   time.Duration
	now      func() time.Time
}

// NewManager creates a session manager expiring sessions idle for maxAge.
func NewManager(maxAge time.Duration) *Manager {
	if maxAge <= 0 {
		maxAge = SessionMaxAge
	}
	return &Manager{
		sessions: make(map[string]*models.LoginSession),
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Start opens a session for username.
func (m *Manager) Start(username string) *models.LoginSession {
	sess := models.NewLoginSession(uuid.New().String(), username)
	sess.CreatedAt = m.now()
	sess.LastAccessed = sess.CreatedAt

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	m.evictOldestLocked(username)

	log.Debug().Str("component", "session").Str("session", sess.ID[:8]).Str("user", username).Msg("session started")
	return sess
}

// Get returns a copy of a live session.
func (m *Manager) Get(id string) (*models.LoginSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok || m.expired(sess) {
		return nil, false
	}
	cp := *sess
	return &cp, true
}

// Touch marks a session as used now. It returns false for unknown or expired sessions.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || m.expired(sess) {
		return false
	}
	sess.LastAccessed = m.now()
	return true
}

// Revoke ends a session.
func (m *Manager) Revoke(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// RevokeUser ends every session of username and returns how many were ended.
func (m *Manager) RevokeUser(username string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, sess := range m.sessions {
		if sess.Username == username {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Count returns the number of tracked sessions, expired ones included.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions removes sessions idle for longer than maxAge.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for id, sess := range m.sessions {
		if sess.LastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Str("component", "session").Int("removed", removed).Int("remaining", len(m.sessions)).
			Msg("cleaned up idle sessions")
	}
}

func (m *Manager) expired(sess *models.LoginSession) bool {
	return m.now().Sub(sess.LastAccessed) > m.maxAge
}

func (m *Manager) evictOldestLocked(username string) {
	var mine []*models.LoginSession
	for _, sess := range m.sessions {
		if sess.Username == username {
			mine = append(mine, sess)
		}
	}
	if len(mine) <= MaxSessionsPerUser {
		return
	}
	sort.Slice(mine, func(i, j int) bool {
		return mine[i].CreatedAt.Before(mine[j].CreatedAt)
	})
	for _, sess := range mine[:len(mine)-MaxSessionsPerUser] {
		delete(m.sessions, sess.ID)
	}
}
