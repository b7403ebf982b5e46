// fixture_test.go - Shared setup for handler tests
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docmanager/backend/internal/audit"
	"github.com/docmanager/backend/internal/auth"
	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/revision"
	"github.com/docmanager/backend/internal/session"
	"github.com/docmanager/backend/internal/storage"
	"github.com/docmanager/backend/internal/testutil"
	"github.com/docmanager/backend/internal/upload"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "correct horse"
)

var target = models.Target{Project: "P1", Discipline: "ELE", Phase: "FEL2"}

type apiFixture struct {
	records  *testutil.MemoryRecords
	store    *storage.LocalStore
	audit    *audit.Logger
	resolver *revision.Resolver
	uploads  *upload.Manager
	sessions *session.Manager
	tokens   *auth.TokenIssuer
}

// newAPIFixture registers projects P1 and P2 and the accounts
//
//	alice  P1, upload/download/view
//	bob    P1 and P2, view
//	carol  no projects, no permissions
//	root   administrator
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	root := t.TempDir()
	store, err := storage.NewLocalStore(filepath.Join(root, "uploads"), filepath.Join(root, "temp"))
	require.NoError(t, err)

	recs := testutil.NewMemoryRecords()
	require.NoError(t, recs.AddTerm(ctx, models.TaxonomyProjects, "P1"))
	require.NoError(t, recs.AddTerm(ctx, models.TaxonomyProjects, "P2"))

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	all := []models.Permission{models.PermissionUpload, models.PermissionDownload, models.PermissionView}
	for _, a := range []*models.Account{
		{Username: "alice", PasswordHash: hash, Projects: []string{"P1"}, Permissions: all},
		{Username: "bob", PasswordHash: hash, Projects: []string{"P1", "P2"}, Permissions: []models.Permission{models.PermissionView}},
		{Username: "carol", PasswordHash: hash, Projects: []string{}, Permissions: []models.Permission{}},
		{Username: "root", PasswordHash: hash, Projects: []string{}, Permissions: []models.Permission{}, Admin: true},
	} {
		require.NoError(t, recs.CreateAccount(ctx, a))
	}

	tokens, err := auth.NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	auditLog := audit.NewLogger(recs, zerolog.Nop())
	resolver := revision.NewResolver(store, auditLog)
	uploads := upload.NewManager(ctx, store, resolver, nil)
	t.Cleanup(uploads.Wait)

	return &apiFixture{
		records:  recs,
		store:    store,
		audit:    auditLog,
		resolver: resolver,
		uploads:  uploads,
		sessions: session.NewManager(time.Hour),
		tokens:   tokens,
	}
}

func (f *apiFixture) deps() *Dependencies {
	return &Dependencies{
		Store:        f.store,
		Resolver:     f.resolver,
		UploadMgr:    f.uploads,
		Accounts:     f.records,
		Taxonomy:     f.records,
		AuditReader:  f.records,
		Audit:        f.audit,
		Sessions:     f.sessions,
		Tokens:       f.tokens,
		Registration: RegistrationPolicy{},
		Version:      "test",
	}
}

// as attaches the named account to c as the authenticated caller.
func (f *apiFixture) as(t *testing.T, c echo.Context, username string) *auth.Principal {
	t.Helper()
	account, err := f.records.GetAccount(context.Background(), username)
	require.NoError(t, err)
	sess := f.sessions.Start(username)
	p := &auth.Principal{Account: account, SessionID: sess.ID}
	auth.WithPrincipal(c, p)
	return p
}

// login starts a session for username and returns a bearer token.
func (f *apiFixture) login(t *testing.T, username string) string {
	t.Helper()
	sess := f.sessions.Start(username)
	token, _, err := f.tokens.Issue(username, sess.ID)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) seed(t *testing.T, tgt models.Target, name, content string) {
	t.Helper()
	_, err := f.store.WriteFile(tgt, name, strings.NewReader(content))
	require.NoError(t, err)
}

func newContext(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func jsonRequest(method, uri string, body interface{}) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, uri, bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

// multipartRequest builds a form with fields and, when fileName is set, a file part.
func multipartRequest(t *testing.T, uri string, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = io.Copy(part, bytes.NewReader(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, uri, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

// requireAPIError asserts err is an *APIError with the given status and code.
func requireAPIError(t *testing.T, err error, status int, code string) *APIError {
	t.Helper()
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok, "expected *APIError, got %T: %v", err, err)
	require.Equal(t, status, apiErr.Status, apiErr.Message)
	require.Equal(t, code, apiErr.Code, apiErr.Message)
	return apiErr
}

func newPrincipal(a *models.Account) *auth.Principal {
	return &auth.Principal{Account: a}
}
