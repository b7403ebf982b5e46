// Package records persists accounts, the audit log and the upload taxonomy in
// an embedded DuckDB database.
package records

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/docmanager/backend/internal/models"
	"github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when creating a record whose key is taken.
	ErrExists = errors.New("record already exists")
	// ErrInvalidKind is returned for unknown taxonomy lists.
	ErrInvalidKind = errors.New("invalid taxonomy kind")
	// ErrInvalidTerm is returned for taxonomy or project names that cannot be stored.
	ErrInvalidTerm = errors.New("invalid taxonomy term")
)

// Options tunes the DuckDB connection.
type Options struct {
	Threads     int
	MemoryLimit string
}

// DuckStore stores accounts, audit records and taxonomy terms in DuckDB.
type DuckStore struct {
	db     *sql.DB
	dbPath string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		username      VARCHAR PRIMARY KEY,
		password_hash VARCHAR NOT NULL,
		projects      VARCHAR NOT NULL DEFAULT '',
		permissions   VARCHAR NOT NULL DEFAULT '',
		is_admin      BOOLEAN NOT NULL DEFAULT false,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE SEQUENCE IF NOT EXISTS audit_seq START 1`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id        BIGINT PRIMARY KEY DEFAULT nextval('audit_seq'),
		timestamp TIMESTAMP NOT NULL,
		username  VARCHAR NOT NULL,
		action    VARCHAR NOT NULL,
		file      VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS taxonomy (
		kind VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		PRIMARY KEY (kind, name)
	)`,
}

// Open opens or creates the database at dbPath.
func Open(dbPath string, opts Options) (*DuckStore, error) {
	if opts.Threads <= 0 {
		opts.Threads = 2
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = "256MB"
	}
	log.Debug().Str("component", "records").Str("path", dbPath).Msg("opening database")

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &DuckStore{db: db, dbPath: dbPath}, nil
}

// Close closes the database.
func (s *DuckStore) Close() error {
	return s.db.Close()
}

// CreateAccount inserts a new account. It fails with ErrExists if the username is taken.
func (s *DuckStore) CreateAccount(ctx context.Context, a *models.Account) error {
	if err := checkProjects(a.Projects); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if _, err := s.GetAccount(ctx, a.Username); err == nil {
		return fmt.Errorf("%w: account %s", ErrExists, a.Username)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, password_hash, projects, permissions, is_admin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Username, a.PasswordHash, models.JoinList(a.Projects), joinPermissions(a.Permissions), a.Admin, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

// PutAccount updates an existing account.
func (s *DuckStore) PutAccount(ctx context.Context, a *models.Account) error {
	if err := checkProjects(a.Projects); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, projects = ?, permissions = ?, is_admin = ? WHERE username = ?`,
		a.PasswordHash, models.JoinList(a.Projects), joinPermissions(a.Permissions), a.Admin, a.Username)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: account %s", ErrNotFound, a.Username)
	}
	return nil
}

// GetAccount loads an account by username.
func (s *DuckStore) GetAccount(ctx context.Context, username string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, projects, permissions, is_admin, created_at
		 FROM accounts WHERE username = ?`, username)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	return a, nil
}

// ListAccounts returns every account ordered by username.
func (s *DuckStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, password_hash, projects, permissions, is_admin, created_at
		 FROM accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	accounts := []*models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account.
func (s *DuckStore) DeleteAccount(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: account %s", ErrNotFound, username)
	}
	return nil
}

// AppendAudit appends a record to the audit log. Records are never updated or deleted.
func (s *DuckStore) AppendAudit(ctx context.Context, rec models.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, username, action, file) VALUES (?, ?, ?, ?)`,
		rec.Timestamp.UTC(), rec.User, rec.Action, rec.File)
	if err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// RecentAudit returns up to limit records, newest first.
func (s *DuckStore) RecentAudit(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, username, action, file FROM audit_log
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	records := []models.AuditRecord{}
	for rows.Next() {
		var r models.AuditRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.User, &r.Action, &r.File); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Taxonomy returns the registered projects, disciplines and phases, each sorted.
func (s *DuckStore) Taxonomy(ctx context.Context) (*models.Taxonomy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, name FROM taxonomy ORDER BY kind, name`)
	if err != nil {
		return nil, fmt.Errorf("querying taxonomy: %w", err)
	}
	defer rows.Close()

	t := &models.Taxonomy{Projects: []string{}, Disciplines: []string{}, Phases: []string{}}
	for rows.Next() {
		var kind, name string
		if err := rows.Scan(&kind, &name); err != nil {
			return nil, fmt.Errorf("scanning taxonomy: %w", err)
		}
		switch models.TaxonomyKind(kind) {
		case models.TaxonomyProjects:
			t.Projects = append(t.Projects, name)
		case models.TaxonomyDisciplines:
			t.Disciplines = append(t.Disciplines, name)
		case models.TaxonomyPhases:
			t.Phases = append(t.Phases, name)
		}
	}
	return t, rows.Err()
}

// AddTerm registers name in the kind list. Adding an existing term is a no-op.
func (s *DuckStore) AddTerm(ctx context.Context, kind models.TaxonomyKind, name string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
	if !models.ValidTermName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTerm, name)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO taxonomy (kind, name) VALUES (?, ?) ON CONFLICT DO NOTHING`, string(kind), name)
	if err != nil {
		return fmt.Errorf("adding taxonomy term: %w", err)
	}
	return nil
}

// RemoveTerm unregisters name from the kind list. Stored files are untouched.
func (s *DuckStore) RemoveTerm(ctx context.Context, kind models.TaxonomyKind, name string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM taxonomy WHERE kind = ? AND name = ?`, string(kind), name)
	if err != nil {
		return fmt.Errorf("removing taxonomy term: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, name)
	}
	return nil
}

// SeedTaxonomy fills the taxonomy from seed when the table is empty.
func (s *DuckStore) SeedTaxonomy(ctx context.Context, seed *models.Taxonomy) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM taxonomy`).Scan(&n); err != nil {
		return fmt.Errorf("counting taxonomy: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, kind := range []models.TaxonomyKind{models.TaxonomyProjects, models.TaxonomyDisciplines, models.TaxonomyPhases} {
		for _, name := range seed.List(kind) {
			if err := s.AddTerm(ctx, kind, name); err != nil {
				return err
			}
		}
	}
	log.Info().Str("component", "records").
		Int("projects", len(seed.Projects)).
		Int("disciplines", len(seed.Disciplines)).
		Int("phases", len(seed.Phases)).
		Msg("taxonomy seeded")
	return nil
}

// LoadTaxonomyFile reads a YAML taxonomy seed. A missing file yields the defaults.
func LoadTaxonomyFile(path string) (*models.Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.DefaultTaxonomy(), nil
		}
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}

	t := &models.Taxonomy{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy file: %w", err)
	}
	defaults := models.DefaultTaxonomy()
	if t.Disciplines == nil {
		t.Disciplines = defaults.Disciplines
	}
	if t.Phases == nil {
		t.Phases = defaults.Phases
	}
	if t.Projects == nil {
		t.Projects = []string{}
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("taxonomy file %s: %w: %w", path, ErrInvalidTerm, err)
	}
	return t, nil
}

// checkProjects rejects project names that would not survive the comma-joined column.
func checkProjects(projects []string) error {
	for _, p := range projects {
		if !models.ValidTermName(p) {
			return fmt.Errorf("%w: project %q", ErrInvalidTerm, p)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var projects, permissions string
	if err := row.Scan(&a.Username, &a.PasswordHash, &projects, &permissions, &a.Admin, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Projects = models.SplitList(projects)
	a.Permissions = []models.Permission{}
	for _, p := range models.SplitList(permissions) {
		a.Permissions = append(a.Permissions, models.Permission(p))
	}
	return &a, nil
}

func joinPermissions(perms []models.Permission) string {
	items := make([]string, len(perms))
	for i, p := range perms {
		items[i] = string(p)
	}
	return models.JoinList(items)
}
