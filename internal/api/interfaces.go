// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/docmanager/backend/internal/models"
	"github.com/labstack/echo/v4"
)

// UploadHandler handles document upload operations
type UploadHandler interface {
	HandleUpload(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleGetUploadJob(c echo.Context) error
	HandleUploadJobStream(c echo.Context) error
}

// DocumentHandler handles browsing and retrieval of stored documents
type DocumentHandler interface {
	HandleTree(c echo.Context) error
	HandleSearch(c echo.Context) error
	HandleDownload(c echo.Context) error
	HandlePreview(c echo.Context) error
}

// AuthHandler handles login sessions and self-registration
type AuthHandler interface {
	HandleLogin(c echo.Context) error
	HandleLogout(c echo.Context) error
	HandleRegister(c echo.Context) error
	HandleMe(c echo.Context) error
}

// AuditHandler serves the action history
type AuditHandler interface {
	HandleRecentAudit(c echo.Context) error
	HandleRecentAuditMsgpack(c echo.Context) error
}

// AdminHandler handles account and taxonomy administration
type AdminHandler interface {
	HandleListUsers(c echo.Context) error
	HandleCreateUser(c echo.Context) error
	HandleUpdateUser(c echo.Context) error
	HandleDeleteUser(c echo.Context) error
	HandleGetTaxonomy(c echo.Context) error
	HandleAddTerm(c echo.Context) error
	HandleRemoveTerm(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// AccountStore persists user accounts.
// This allows mocking in tests
type AccountStore interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	PutAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, username string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	DeleteAccount(ctx context.Context, username string) error
}

// TaxonomyStore persists the project, discipline and phase lists.
type TaxonomyStore interface {
	Taxonomy(ctx context.Context) (*models.Taxonomy, error)
	AddTerm(ctx context.Context, kind models.TaxonomyKind, name string) error
	RemoveTerm(ctx context.Context, kind models.TaxonomyKind, name string) error
}

// AuditReader reads back the action log.
type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]models.AuditRecord, error)
}

// Observer receives request-level metrics.
type Observer interface {
	ObserveDownload(n int64)
	ObserveLogin(result string)
}

type nopObserver struct{}

func (nopObserver) ObserveDownload(int64) {}
func (nopObserver) ObserveLogin(string) {}
