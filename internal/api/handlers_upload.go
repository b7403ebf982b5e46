// handlers_upload.go - Document upload operation handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/docmanager/backend/internal/auth"
	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/revision"
	"github.com/docmanager/backend/internal/storage"
	"github.com/docmanager/backend/internal/upload"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store         storage.Store
	resolver      upload.Resolver
	uploadManager *upload.Manager
	taxonomy      TaxonomyStore
	pollInterval  time.Duration
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(store storage.Store, resolver upload.Resolver, uploadMgr *upload.Manager, taxonomy TaxonomyStore) *UploadHandlerImpl {
	return &UploadHandlerImpl{
		store:         store,
		resolver:      resolver,
		uploadManager: uploadMgr,
		taxonomy:      taxonomy,
		pollInterval:  100 * time.Millisecond,
	}
}

// HandleUpload accepts a multipart document upload and applies the revision policy
func (h *UploadHandlerImpl) HandleUpload(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	target := targetFromForm(c)
	if err := h.checkTarget(c, p, target); err != nil {
		return err
	}
	confirm, _ := strconv.ParseBool(c.FormValue("confirm"))

	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	result, err := h.resolver.Resolve(c.Request().Context(), revision.Request{
		Target:    target,
		FileName:  file.Filename,
		Content:   src,
		Confirmed: confirm,
		User:      p.Account.Username,
	})
	if err != nil {
		return revisionError(err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleUploadChunk accepts a single chunk of a chunked upload. The first
// chunk ties the upload ID to the caller.
func (h *UploadHandlerImpl) HandleUploadChunk(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	uploadID := c.FormValue("uploadId")
	if _, err := uuid.Parse(uploadID); err != nil {
		return NewValidationError("uploadId")
	}
	chunkIndex, err := strconv.Atoi(c.FormValue("chunkIndex"))
	if err != nil || chunkIndex < 0 {
		return NewValidationError("chunkIndex")
	}
	if !h.uploadManager.Claim(uploadID, p.Account.Username) {
		return NewForbiddenError("upload belongs to another user")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no chunk provided", err)
	}
	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open chunk", err)
	}
	defer src.Close()

	if err := h.store.SaveChunk(uploadID, chunkIndex, src); err != nil {
		return NewInternalError("failed to save chunk", err)
	}

	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload completes a chunked upload and starts async processing
func (h *UploadHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	if err := h.checkTarget(c, p, req.target()); err != nil {
		return err
	}
	if !h.uploadManager.Claim(req.UploadID, p.Account.Username) {
		return NewForbiddenError("upload belongs to another user")
	}

	job := h.uploadManager.StartJob(upload.JobRequest{
		UploadID:     req.UploadID,
		FileName:     req.Name,
		TotalChunks:  req.TotalChunks,
		OriginalSize: req.OriginalSize,
		Encoding:     req.Encoding,
		Target:       req.target(),
		Confirmed:    req.Confirm,
		User:         p.Account.Username,
	})

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

// HandleGetUploadJob returns the current state of an upload job
func (h *UploadHandlerImpl) HandleGetUploadJob(c echo.Context) error {
	job, err := h.ownJob(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// HandleUploadJobStream streams upload job status via SSE until the job finishes
func (h *UploadHandlerImpl) HandleUploadJobStream(c echo.Context) error {
	job, err := h.ownJob(c)
	if err != nil {
		return err
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		if err := sendSSE(c, job); err != nil {
			return nil
		}
		if job.Status.Finished() {
			return nil
		}

		select {
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
		}

		var ok bool
		job, ok = h.uploadManager.GetJob(job.ID)
		if !ok {
			sendSSE(c, map[string]string{"error": "job not found"})
			return nil
		}
	}
}

// ownJob loads the job named by :jobId, visible only to the user who started it
func (h *UploadHandlerImpl) ownJob(c echo.Context) (*upload.Job, error) {
	p, err := principal(c)
	if err != nil {
		return nil, err
	}
	id := c.Param("jobId")
	if id == "" {
		return nil, NewValidationError("jobId")
	}
	job, ok := h.uploadManager.GetJob(id)
	if !ok || job.User != p.Account.Username {
		return nil, NewNotFoundError("upload job", id)
	}
	return job, nil
}

// checkTarget validates the target against the taxonomy and the caller's projects
func (h *UploadHandlerImpl) checkTarget(c echo.Context, p *auth.Principal, t models.Target) error {
	if t.Project == "" {
		return NewValidationError("project")
	}
	if t.Discipline == "" {
		return NewValidationError("discipline")
	}
	if t.Phase == "" {
		return NewValidationError("phase")
	}
	if !p.Account.Admin && !p.Account.HasProject(t.Project) {
		return NewForbiddenError(fmt.Sprintf("project %s is not assigned to %s", t.Project, p.Account.Username))
	}

	tax, err := h.taxonomy.Taxonomy(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to load taxonomy", err)
	}
	if !slices.Contains(tax.Projects, t.Project) {
		return NewBadRequestError(fmt.Sprintf("unknown project: %s", t.Project), nil)
	}
	if !slices.Contains(tax.Disciplines, t.Discipline) {
		return NewBadRequestError(fmt.Sprintf("unknown discipline: %s", t.Discipline), nil)
	}
	if !slices.Contains(tax.Phases, t.Phase) {
		return NewBadRequestError(fmt.Sprintf("unknown phase: %s", t.Phase), nil)
	}
	return nil
}

// Request/Response types

type completeUploadRequest struct {
	UploadID       string `json:"uploadId"`
	Name           string `json:"name"`
	TotalChunks    int    `json:"totalChunks"`
	OriginalSize   int64  `json:"originalSize"`
	CompressedSize int64  `json:"compressedSize"`
	Encoding       string `json:"encoding"`
	Project        string `json:"project"`
	Discipline     string `json:"discipline"`
	Phase          string `json:"phase"`
	Confirm        bool   `json:"confirm"`
}

func (r *completeUploadRequest) validate() error {
	if _, err := uuid.Parse(r.UploadID); err != nil {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	switch r.Encoding {
	case "", "identity", "gzip":
	default:
		return NewBadRequestError(fmt.Sprintf("unsupported encoding: %s", r.Encoding), nil)
	}
	return nil
}

func (r *completeUploadRequest) target() models.Target {
	return models.Target{Project: r.Project, Discipline: r.Discipline, Phase: r.Phase}
}

// Helper functions

func targetFromForm(c echo.Context) models.Target {
	return models.Target{
		Project:    strings.TrimSpace(c.FormValue("project")),
		Discipline: strings.TrimSpace(c.FormValue("discipline")),
		Phase:      strings.TrimSpace(c.FormValue("phase")),
	}
}

func sendSSE(c echo.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
