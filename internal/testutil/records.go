// records.go - In-memory record store for handler and service tests
package testutil

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/records"
)

// MemoryRecords implements the account, taxonomy and audit stores in memory.
// It returns the same sentinel errors as records.DuckStore.
type MemoryRecords struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
	taxonomy models.Taxonomy
	audit    []models.AuditRecord

	// AuditErr, when set, is returned by AppendAudit.
	AuditErr error
}

// NewMemoryRecords creates a store seeded with the default taxonomy.
func NewMemoryRecords() *MemoryRecords {
	tax := models.DefaultTaxonomy()
	return &MemoryRecords{
		accounts: make(map[string]models.Account),
		taxonomy: *tax,
	}
}

func (m *MemoryRecords) CreateAccount(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.Username]; ok {
		return fmt.Errorf("%w: account %s", records.ErrExists, a.Username)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.accounts[a.Username] = cloneAccount(a)
	return nil
}

func (m *MemoryRecords) PutAccount(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.Username]; !ok {
		return fmt.Errorf("%w: account %s", records.ErrNotFound, a.Username)
	}
	m.accounts[a.Username] = cloneAccount(a)
	return nil
}

func (m *MemoryRecords) GetAccount(_ context.Context, username string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[username]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", records.ErrNotFound, username)
	}
	out := cloneAccount(&a)
	return &out, nil
}

func (m *MemoryRecords) ListAccounts(_ context.Context) ([]*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		c := cloneAccount(&a)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *MemoryRecords) DeleteAccount(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[username]; !ok {
		return fmt.Errorf("%w: account %s", records.ErrNotFound, username)
	}
	delete(m.accounts, username)
	return nil
}

func (m *MemoryRecords) AppendAudit(_ context.Context, rec models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AuditErr != nil {
		return m.AuditErr
	}
	rec.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, rec)
	return nil
}

func (m *MemoryRecords) RecentAudit(_ context.Context, limit int) ([]models.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	out := []models.AuditRecord{}
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}

// Audit returns every appended record, oldest first.
func (m *MemoryRecords) Audit() []models.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.audit)
}

// Actions returns the action tags of every appended record, oldest first.
func (m *MemoryRecords) Actions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.audit))
	for _, r := range m.audit {
		out = append(out, r.Action)
	}
	return out
}

func (m *MemoryRecords) Taxonomy(_ context.Context) (*models.Taxonomy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &models.Taxonomy{
		Projects:    slices.Clone(m.taxonomy.Projects),
		Disciplines: slices.Clone(m.taxonomy.Disciplines),
		Phases:      slices.Clone(m.taxonomy.Phases),
	}, nil
}

func (m *MemoryRecords) AddTerm(_ context.Context, kind models.TaxonomyKind, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, err := m.list(kind)
	if err != nil {
		return err
	}
	if !models.ValidTermName(name) {
		return fmt.Errorf("%w: %q", records.ErrInvalidTerm, name)
	}
	if !slices.Contains(*list, name) {
		*list = append(*list, name)
		sort.Strings(*list)
	}
	return nil
}

func (m *MemoryRecords) RemoveTerm(_ context.Context, kind models.TaxonomyKind, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, err := m.list(kind)
	if err != nil {
		return err
	}
	i := slices.Index(*list, name)
	if i < 0 {
		return fmt.Errorf("%w: %s %s", records.ErrNotFound, kind, name)
	}
	*list = slices.Delete(*list, i, i+1)
	return nil
}

func (m *MemoryRecords) list(kind models.TaxonomyKind) (*[]string, error) {
	switch kind {
	case models.TaxonomyProjects:
		return &m.taxonomy.Projects, nil
	case models.TaxonomyDisciplines:
		return &m.taxonomy.Disciplines, nil
	case models.TaxonomyPhases:
		return &m.taxonomy.Phases, nil
	}
	return nil, fmt.Errorf("%w: %s", records.ErrInvalidKind, kind)
}

func cloneAccount(a *models.Account) models.Account {
	out := *a
	out.Projects = slices.Clone(a.Projects)
	out.Permissions = slices.Clone(a.Permissions)
	return out
}
