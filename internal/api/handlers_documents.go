// handlers_documents.go - Browsing, search and retrieval handlers
package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/docmanager/backend/internal/audit"
	"github.com/docmanager/backend/internal/auth"
	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/storage"
	"github.com/labstack/echo/v4"
)

// MaxPreviewBytes bounds the size of files returned inline by the preview endpoint.
const MaxPreviewBytes = 20 << 20

// DocumentHandlerImpl implements the DocumentHandler interface
type DocumentHandlerImpl struct {
	store    storage.Store
	audit    *audit.Logger
	observer Observer
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(store storage.Store, auditLog *audit.Logger, observer Observer) *DocumentHandlerImpl {
	if observer == nil {
		observer = nopObserver{}
	}
	return &DocumentHandlerImpl{store: store, audit: auditLog, observer: observer}
}

// HandleTree returns the project/discipline/phase hierarchy visible to the caller
func (h *DocumentHandlerImpl) HandleTree(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	tree, err := h.store.Tree(projectScope(p))
	if err != nil {
		return NewInternalError("failed to list documents", err)
	}
	return c.JSON(http.StatusOK, tree)
}

// HandleSearch returns files whose names contain the q parameter
func (h *DocumentHandlerImpl) HandleSearch(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return NewValidationError("q")
	}

	results, err := h.store.Search(q, projectScope(p))
	if err != nil {
		return NewInternalError("search failed", err)
	}
	h.audit.LogAccess(c.Request().Context(), p.Account.Username, models.ActionSearch, "q="+q)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":   q,
		"results": results,
	})
}

// HandleDownload streams a stored file as an attachment
func (h *DocumentHandlerImpl) HandleDownload(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	f, info, err := h.openVisible(c, p)
	if err != nil {
		return err
	}
	defer f.Close()

	h.audit.LogAccess(c.Request().Context(), p.Account.Username, models.ActionDownload, info.Path)
	h.observer.ObserveDownload(info.Size)

	c.Response().Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": info.Name}))
	c.Response().Header().Set(echo.HeaderContentLength, fmt.Sprint(info.Size))
	return c.Stream(http.StatusOK, contentType(info.Name), f)
}

// HandlePreview returns a PDF or image inline as base64
func (h *DocumentHandlerImpl) HandlePreview(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	f, info, err := h.openVisible(c, p)
	if err != nil {
		return err
	}
	defer f.Close()

	if info.Kind == models.FileKindOther {
		return NewBadRequestError("preview is available for PDF and image files only; use download", nil)
	}
	if info.Size > MaxPreviewBytes {
		return &APIError{
			Status:  http.StatusRequestEntityTooLarge,
			Code:    "PAYLOAD_TOO_LARGE",
			Message: fmt.Sprintf("file is larger than the %d MB preview limit; use download", MaxPreviewBytes>>20),
		}
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxPreviewBytes))
	if err != nil {
		return NewInternalError("failed to read file", err)
	}
	h.audit.LogAccess(c.Request().Context(), p.Account.Username, models.ActionView, info.Path)

	return c.JSON(http.StatusOK, previewResponse{
		File:     info,
		MimeType: contentType(info.Name),
		Data:     base64.StdEncoding.EncodeToString(data),
	})
}

// openVisible opens the file named by the path query parameter if the caller may see it
func (h *DocumentHandlerImpl) openVisible(c echo.Context, p *auth.Principal) (io.ReadCloser, *models.FileInfo, error) {
	rel := strings.TrimPrefix(c.QueryParam("path"), "/")
	if rel == "" {
		return nil, nil, NewValidationError("path")
	}
	project, _, _ := strings.Cut(rel, "/")
	if !p.Account.Admin && !p.Account.HasProject(project) {
		// Reported as missing, not forbidden.
		return nil, nil, NewNotFoundError("file", rel)
	}

	f, info, err := h.store.Open(rel)
	switch {
	case errors.Is(err, storage.ErrInvalidPath):
		return nil, nil, NewBadRequestError("invalid path", err)
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil, NewNotFoundError("file", rel)
	case err != nil:
		return nil, nil, NewInternalError("failed to open file", err)
	}
	return f, info, nil
}

type previewResponse struct {
	File     *models.FileInfo `json:"file"`
	MimeType string           `json:"mimeType"`
	Data     string           `json:"data"` // Base64-encoded content
}

// projectScope returns the projects p may browse; nil means all.
func projectScope(p *auth.Principal) []string {
	if p.Account.Admin {
		return nil
	}
	if p.Account.Projects == nil {
		return []string{}
	}
	return p.Account.Projects
}

func contentType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}
	return echo.MIMEOctetStream
}
