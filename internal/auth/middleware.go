package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/session"
	"github.com/labstack/echo/v4"
)

// CookieName is the cookie carrying the session token for browser clients.
const CookieName = "docmanager_token"

const principalKey = "docmanager.principal"

// AccountLoader loads accounts by username.
type AccountLoader interface {
	GetAccount(ctx context.Context, username string) (*models.Account, error)
}

// Principal is the authenticated caller of one request.
type Principal struct {
	Account   *models.Account
	SessionID string
}

// Authenticate resolves the bearer token (or session cookie) into a Principal
// stored on the request context. Requests without a valid live session get 401.
func Authenticate(tokens *TokenIssuer, sessions *session.Manager, accounts AccountLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := tokenFromRequest(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired session")
			}
			if !sessions.Touch(claims.SessionID) {
				return echo.NewHTTPError(http.StatusUnauthorized, "session ended")
			}
			account, err := accounts.GetAccount(c.Request().Context(), claims.Subject)
			if err != nil {
				sessions.Revoke(claims.SessionID)
				return echo.NewHTTPError(http.StatusUnauthorized, "account no longer exists")
			}
			c.Set(principalKey, &Principal{Account: account, SessionID: claims.SessionID})
			return next(c)
		}
	}
}

// PrincipalFrom returns the authenticated caller set by Authenticate.
func PrincipalFrom(c echo.Context) (*Principal, bool) {
	p, ok := c.Get(principalKey).(*Principal)
	return p, ok && p != nil
}

// WithPrincipal stores p on the context. Used by tests and by handlers that
// authenticate inline, such as login.
func WithPrincipal(c echo.Context, p *Principal) {
	c.Set(principalKey, p)
}

// RequirePermission allows administrators and callers holding at least one of perms.
func RequirePermission(perms ...models.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if p.Account.Admin {
				return next(c)
			}
			for _, perm := range perms {
				if p.Account.HasPermission(perm) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "missing permission")
		}
	}
}

// RequireAdmin allows administrator accounts only.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !p.Account.Admin {
				return echo.NewHTTPError(http.StatusForbidden, "administrator access required")
			}
			return next(c)
		}
	}
}

func tokenFromRequest(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := c.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}
