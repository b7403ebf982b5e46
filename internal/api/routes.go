// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/docmanager/backend/internal/audit"
	"github.com/docmanager/backend/internal/auth"
	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/session"
	"github.com/docmanager/backend/internal/storage"
	"github.com/docmanager/backend/internal/upload"
	"github.com/labstack/echo/v4"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store         storage.Store
	Resolver      upload.Resolver
	UploadMgr     *upload.Manager
	Accounts      AccountStore
	Taxonomy      TaxonomyStore
	AuditReader   AuditReader
	Audit         *audit.Logger
	Sessions      *session.Manager
	Tokens        *auth.TokenIssuer
	Metrics       Observer
	Registration  RegistrationPolicy
	SecureCookies bool
	Version       string
}

// Handlers holds all handler instances
type Handlers struct {
	Health   HealthHandler
	Auth     AuthHandler
	Upload   UploadHandler
	Document DocumentHandler
	Audit    AuditHandler
	Admin    AdminHandler

	authenticate echo.MiddlewareFunc
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(deps.Version),
		Auth:     NewAuthHandler(deps.Accounts, deps.Sessions, deps.Tokens, deps.Audit, deps.Metrics, deps.Registration, deps.SecureCookies),
		Upload:   NewUploadHandler(deps.Store, deps.Resolver, deps.UploadMgr, deps.Taxonomy),
		Document: NewDocumentHandler(deps.Store, deps.Audit, deps.Metrics),
		Audit:    NewAuditHandler(deps.AuditReader),
		Admin:    NewAdminHandler(deps.Accounts, deps.Taxonomy, deps.Sessions, deps.Audit),

		authenticate: auth.Authenticate(deps.Tokens, deps.Sessions, deps.Accounts),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Authentication routes
	e.POST("/api/auth/login", handlers.Auth.HandleLogin)
	e.POST("/api/auth/register", handlers.Auth.HandleRegister)
	authGroup := e.Group("/api/auth", handlers.authenticate)
	authGroup.POST("/logout", handlers.Auth.HandleLogout)
	authGroup.GET("/me", handlers.Auth.HandleMe)

	// Document routes
	docs := e.Group("/api/documents", handlers.authenticate)
	uploads := docs.Group("/upload", auth.RequirePermission(models.PermissionUpload))
	uploads.POST("", handlers.Upload.HandleUpload)
	uploads.POST("/chunk", handlers.Upload.HandleUploadChunk)
	uploads.POST("/complete", handlers.Upload.HandleCompleteUpload)
	uploads.GET("/jobs/:jobId", handlers.Upload.HandleGetUploadJob)
	uploads.GET("/jobs/:jobId/stream", handlers.Upload.HandleUploadJobStream)

	browse := auth.RequirePermission(models.PermissionView, models.PermissionDownload)
	docs.GET("/tree", handlers.Document.HandleTree, browse)
	docs.GET("/search", handlers.Document.HandleSearch, browse)
	docs.GET("/preview", handlers.Document.HandlePreview, browse)
	docs.GET("/download", handlers.Document.HandleDownload, auth.RequirePermission(models.PermissionDownload))

	// Action history
	auditGroup := e.Group("/api/audit", handlers.authenticate)
	auditGroup.GET("", handlers.Audit.HandleRecentAudit)
	auditGroup.GET("/msgpack", handlers.Audit.HandleRecentAuditMsgpack)

	// Administration
	admin := e.Group("/api/admin", handlers.authenticate, auth.RequireAdmin())
	admin.GET("/users", handlers.Admin.HandleListUsers)
	admin.POST("/users", handlers.Admin.HandleCreateUser)
	admin.PUT("/users/:username", handlers.Admin.HandleUpdateUser)
	admin.DELETE("/users/:username", handlers.Admin.HandleDeleteUser)
	admin.GET("/taxonomy", handlers.Admin.HandleGetTaxonomy)
	admin.POST("/taxonomy/:kind", handlers.Admin.HandleAddTerm)
	admin.DELETE("/taxonomy/:kind/:name", handlers.Admin.HandleRemoveTerm)

	// Taxonomy is readable by every signed-in user for the upload form
	e.GET("/api/taxonomy", handlers.Admin.HandleGetTaxonomy, handlers.authenticate)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
}
