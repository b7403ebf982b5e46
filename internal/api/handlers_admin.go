// handlers_admin.go - Account and taxonomy administration handlers
package api

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/docmanager/backend/internal/audit"
	"github.com/docmanager/backend/internal/auth"
	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/records"
	"github.com/docmanager/backend/internal/session"
	"github.com/labstack/echo/v4"
)

// AdminHandlerImpl implements the AdminHandler interface
type AdminHandlerImpl struct {
	accounts AccountStore
	taxonomy TaxonomyStore
	sessions *session.Manager
	audit    *audit.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(accounts AccountStore, taxonomy TaxonomyStore, sessions *session.Manager, auditLog *audit.Logger) *AdminHandlerImpl {
	return &AdminHandlerImpl{
		accounts: accounts,
		taxonomy: taxonomy,
		sessions: sessions,
		audit:    auditLog,
	}
}

// HandleListUsers returns every account
func (h *AdminHandlerImpl) HandleListUsers(c echo.Context) error {
	accounts, err := h.accounts.ListAccounts(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to list accounts", err)
	}
	return c.JSON(http.StatusOK, accounts)
}

// HandleCreateUser creates an account with projects and permissions
func (h *AdminHandlerImpl) HandleCreateUser(c echo.Context) error {
	admin, err := principal(c)
	if err != nil {
		return err
	}

	var req userRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := auth.ValidateUsername(req.Username); err != nil {
		return NewBadRequestError("invalid username", err)
	}
	if req.Password == nil {
		return NewValidationError("password")
	}

	account := &models.Account{Username: req.Username}
	if err := h.apply(c, account, &req); err != nil {
		return err
	}
	if err := h.accounts.CreateAccount(c.Request().Context(), account); err != nil {
		if errors.Is(err, records.ErrExists) {
			return NewConflictError("username already taken")
		}
		return NewInternalError("failed to create account", err)
	}
	h.audit.LogUserMgmt(c.Request().Context(), admin.Account.Username, models.ActionUserUpdate, account.Username)

	return c.JSON(http.StatusCreated, account)
}

// HandleUpdateUser changes the password, projects, permissions or admin flag of an account
func (h *AdminHandlerImpl) HandleUpdateUser(c echo.Context) error {
	admin, err := principal(c)
	if err != nil {
		return err
	}
	username := c.Param("username")

	var req userRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	ctx := c.Request().Context()
	account, err := h.accounts.GetAccount(ctx, username)
	if errors.Is(err, records.ErrNotFound) {
		return NewNotFoundError("account", username)
	}
	if err != nil {
		return NewInternalError("failed to load account", err)
	}
	if username == admin.Account.Username && req.Admin != nil && !*req.Admin {
		return NewBadRequestError("administrators cannot remove their own admin flag", nil)
	}
	if err := h.apply(c, account, &req); err != nil {
		return err
	}
	if err := h.accounts.PutAccount(ctx, account); err != nil {
		return NewInternalError("failed to update account", err)
	}
	if req.Password != nil {
		h.sessions.RevokeUser(account.Username)
	}
	h.audit.LogUserMgmt(ctx, admin.Account.Username, models.ActionUserUpdate, account.Username)

	return c.JSON(http.StatusOK, account)
}

// HandleDeleteUser removes an account and ends its sessions
func (h *AdminHandlerImpl) HandleDeleteUser(c echo.Context) error {
	admin, err := principal(c)
	if err != nil {
		return err
	}
	username := c.Param("username")
	if username == admin.Account.Username {
		return NewBadRequestError("administrators cannot delete their own account", nil)
	}

	ctx := c.Request().Context()
	if err := h.accounts.DeleteAccount(ctx, username); err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return NewNotFoundError("account", username)
		}
		return NewInternalError("failed to delete account", err)
	}
	h.sessions.RevokeUser(username)
	h.audit.LogUserMgmt(ctx, admin.Account.Username, models.ActionUserDelete, username)

	return c.NoContent(http.StatusNoContent)
}

// HandleGetTaxonomy returns the project, discipline and phase lists
func (h *AdminHandlerImpl) HandleGetTaxonomy(c echo.Context) error {
	tax, err := h.taxonomy.Taxonomy(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to load taxonomy", err)
	}
	return c.JSON(http.StatusOK, tax)
}

// HandleAddTerm adds a project, discipline or phase
func (h *AdminHandlerImpl) HandleAddTerm(c echo.Context) error {
	admin, err := principal(c)
	if err != nil {
		return err
	}
	kind := models.TaxonomyKind(c.Param("kind"))
	if !kind.Valid() {
		return NewNotFoundError("taxonomy", string(kind))
	}

	var req termRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	name := strings.TrimSpace(req.Name)
	if !models.ValidTermName(name) {
		return NewValidationError("name")
	}

	ctx := c.Request().Context()
	if err := h.taxonomy.AddTerm(ctx, kind, name); err != nil {
		return NewInternalError("failed to add term", err)
	}
	h.audit.LogTaxonomy(ctx, admin.Account.Username, fmt.Sprintf("add %s %s", kind, name))

	return h.HandleGetTaxonomy(c)
}

// HandleRemoveTerm removes a project, discipline or phase. Stored files are untouched.
func (h *AdminHandlerImpl) HandleRemoveTerm(c echo.Context) error {
	admin, err := principal(c)
	if err != nil {
		return err
	}
	kind := models.TaxonomyKind(c.Param("kind"))
	if !kind.Valid() {
		return NewNotFoundError("taxonomy", string(kind))
	}
	name := c.Param("name")

	ctx := c.Request().Context()
	if err := h.taxonomy.RemoveTerm(ctx, kind, name); err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return NewNotFoundError(string(kind), name)
		}
		return NewInternalError("failed to remove term", err)
	}
	h.audit.LogTaxonomy(ctx, admin.Account.Username, fmt.Sprintf("remove %s %s", kind, name))

	return c.NoContent(http.StatusNoContent)
}

// apply copies the set fields of req onto account
func (h *AdminHandlerImpl) apply(c echo.Context, account *models.Account, req *userRequest) error {
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return NewBadRequestError("invalid password", err)
		}
		account.PasswordHash = hash
	}
	if req.Permissions != nil {
		perms, err := auth.ParsePermissions(req.Permissions)
		if err != nil {
			return NewBadRequestError("invalid permissions", err)
		}
		account.Permissions = perms
	}
	if req.Projects != nil {
		tax, err := h.taxonomy.Taxonomy(c.Request().Context())
		if err != nil {
			return NewInternalError("failed to load taxonomy", err)
		}
		for _, p := range req.Projects {
			if !slices.Contains(tax.Projects, p) {
				return NewBadRequestError(fmt.Sprintf("unknown project: %s", p), nil)
			}
		}
		account.Projects = req.Projects
	}
	if req.Admin != nil {
		account.Admin = *req.Admin
	}
	if account.Projects == nil {
		account.Projects = []string{}
	}
	if account.Permissions == nil {
		account.Permissions = []models.Permission{}
	}
	return nil
}

// Request/Response types

// userRequest uses pointers so updates only touch fields that were sent.
type userRequest struct {
	Username    string   `json:"username"`
	Password    *string  `json:"password"`
	Projects    []string `json:"projects"`
	Permissions []string `json:"permissions"`
	Admin       *bool    `json:"admin"`
}

type termRequest struct {
	Name string `json:"name"`
}
