package models

import "time"

// LoginSession represents an authenticated browser session.
type LoginSession struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// NewLoginSession creates a session for username starting now.
func NewLoginSession(id, username string) *LoginSession {
	now := time.Now()
	return &LoginSession{
		ID:           id,
		Username:     username,
		CreatedAt:    now,
		LastAccessed: now,
	}
}
