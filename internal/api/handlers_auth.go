// handlers_auth.go - Login, logout and self-registration handlers
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/docmanager/backend/internal/audit"
	"github.com/docmanager/backend/internal/auth"
	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/records"
	"github.com/docmanager/backend/internal/session"
	"github.com/labstack/echo/v4"
)

// RegistrationPolicy controls self-registration.
type RegistrationPolicy struct {
	Allow    bool
	CodeHash string // bcrypt hash of the registration code handed out by an administrator
}

// AuthHandlerImpl implements the AuthHandler interface
type AuthHandlerImpl struct {
	accounts      AccountStore
	sessions      *session.Manager
	tokens        *auth.TokenIssuer
	audit         *audit.Logger
	observer      Observer
	registration  RegistrationPolicy
	secureCookies bool
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts AccountStore, sessions *session.Manager, tokens *auth.TokenIssuer, auditLog *audit.Logger, observer Observer, registration RegistrationPolicy, secureCookies bool) *AuthHandlerImpl {
	if observer == nil {
		observer = nopObserver{}
	}
	return &AuthHandlerImpl{
		accounts:      accounts,
		sessions:      sessions,
		tokens:        tokens,
		audit:         auditLog,
		observer:      observer,
		registration:  registration,
		secureCookies: secureCookies,
	}
}

// HandleLogin verifies credentials and starts a session
func (h *AuthHandlerImpl) HandleLogin(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	account, err := h.accounts.GetAccount(ctx, req.Username)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		return NewInternalError("failed to load account", err)
	}
	if account == nil || !auth.CheckPassword(account.PasswordHash, req.Password) {
		h.observer.ObserveLogin("denied")
		h.audit.LogAuth(ctx, req.Username, models.ActionLogin, "denied", c.RealIP())
		return NewUnauthorizedError("invalid username or password")
	}

	sess := h.sessions.Start(account.Username)
	token, expires, err := h.tokens.Issue(account.Username, sess.ID)
	if err != nil {
		h.sessions.Revoke(sess.ID)
		return NewInternalError("failed to issue token", err)
	}
	h.setCookie(c, token, expires)

	h.observer.ObserveLogin("allowed")
	h.audit.LogAuth(ctx, account.Username, models.ActionLogin, "allowed", c.RealIP())

	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expires, Account: account})
}

// HandleLogout ends the caller's session
func (h *AuthHandlerImpl) HandleLogout(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	h.sessions.Revoke(p.SessionID)
	h.setCookie(c, "", time.Unix(0, 0))
	h.audit.LogAuth(c.Request().Context(), p.Account.Username, models.ActionLogout, "allowed", c.RealIP())
	return c.NoContent(http.StatusNoContent)
}

// HandleRegister creates an account without projects or permissions.
// An administrator assigns them afterwards.
func (h *AuthHandlerImpl) HandleRegister(c echo.Context) error {
	if !h.registration.Allow {
		return NewForbiddenError("registration is disabled")
	}

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if !auth.CheckPassword(h.registration.CodeHash, req.Code) {
		h.audit.LogAuth(ctx, req.Username, models.ActionRegister, "denied", c.RealIP())
		return NewForbiddenError("invalid registration code")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return NewBadRequestError("invalid password", err)
	}
	account := &models.Account{
		Username:     req.Username,
		PasswordHash: hash,
		Projects:     []string{},
		Permissions:  []models.Permission{},
	}
	if err := h.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, records.ErrExists) {
			return NewConflictError("username already taken")
		}
		return NewInternalError("failed to create account", err)
	}
	h.audit.LogAuth(ctx, account.Username, models.ActionRegister, "allowed", c.RealIP())

	return c.JSON(http.StatusCreated, account)
}

// HandleMe returns the authenticated account
func (h *AuthHandlerImpl) HandleMe(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p.Account)
}

func (h *AuthHandlerImpl) setCookie(c echo.Context, token string, expires time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// Request/Response types

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *credentialsRequest) validate() error {
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" {
		return NewValidationError("username")
	}
	if r.Password == "" {
		return NewValidationError("password")
	}
	return nil
}

type registerRequest struct {
	credentialsRequest
	Code string `json:"code"`
}

func (r *registerRequest) validate() error {
	if err := r.credentialsRequest.validate(); err != nil {
		return err
	}
	if err := auth.ValidateUsername(r.Username); err != nil {
		return NewBadRequestError("invalid username", err)
	}
	if r.Code == "" {
		return NewValidationError("code")
	}
	return nil
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Account   *models.Account `json:"account"`
}

// principal returns the authenticated caller or a 401 error.
func principal(c echo.Context) (*auth.Principal, error) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		return nil, NewUnauthorizedError("authentication required")
	}
	return p, nil
}
