// handlers_upload_test.go - Tests for upload handlers
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/revision"
	"github.com/docmanager/backend/internal/upload"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func targetFields(t models.Target) map[string]string {
	return map[string]string{"project": t.Project, "discipline": t.Discipline, "phase": t.Phase}
}

func (f *apiFixture) uploadHandler() *UploadHandlerImpl {
	return NewUploadHandler(f.store, f.resolver, f.uploads, f.records)
}

func (f *apiFixture) postUpload(t *testing.T, user string, fields map[string]string, name, content string) (*revision.Result, error) {
	t.Helper()
	req := multipartRequest(t, "/api/documents/upload", fields, name, []byte(content))
	c, rec := newContext(req)
	f.as(t, c, user)

	if err := f.uploadHandler().HandleUpload(c); err != nil {
		return nil, err
	}
	require.Equal(t, http.StatusCreated, rec.Code)
	var result revision.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return &result, nil
}

func TestUploadHandler_HandleUpload(t *testing.T) {
	f := newAPIFixture(t)

	result, err := f.postUpload(t, "alice", targetFields(target), "DIAGRAMA_UNIFILAR_r1v1.pdf", "%PDF-1.4")
	require.NoError(t, err)
	assert.Equal(t, revision.DispositionAccept, result.Disposition)
	assert.Equal(t, "P1/ELE/FEL2/DIAGRAMA_UNIFILAR_r1v1.pdf", result.File.Path)
	assert.Contains(t, f.records.Actions(), models.ActionUpload)

	_, err = f.postUpload(t, "alice", targetFields(target), "DIAGRAMA_UNIFILAR_r1v1.pdf", "%PDF-1.4")
	requireAPIError(t, err, http.StatusConflict, "DUPLICATE_FILE")

	_, err = f.postUpload(t, "alice", targetFields(target), "notes.pdf", "x")
	requireAPIError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestUploadHandler_NewRevisionArchives(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t, target, "PLANTA_r1v1.dwg", "v1")
	f.seed(t, target, "PLANTA_r1v2.dwg", "v2")

	result, err := f.postUpload(t, "alice", targetFields(target), "PLANTA_r2v1.dwg", "r2")
	require.NoError(t, err)
	assert.Equal(t, revision.DispositionArchiveAndAccept, result.Disposition)
	assert.Len(t, result.Archived, 2)

	live, err := f.store.ListFiles(target)
	require.NoError(t, err)
	assert.Equal(t, []string{"PLANTA_r2v1.dwg"}, live)
}

func TestUploadHandler_ConfirmationRequired(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t, target, "A_r1v1.pdf", "v1")

	_, err := f.postUpload(t, "alice", targetFields(target), "A_r1v2.pdf", "v2")
	apiErr := requireAPIError(t, err, http.StatusConflict, "CONFIRMATION_REQUIRED")
	assert.Equal(t, []string{"A_r1v1.pdf"}, apiErr.Existing)

	fields := targetFields(target)
	fields["confirm"] = "true"
	result, err := f.postUpload(t, "alice", fields, "A_r1v2.pdf", "v2")
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.Equal(t, revision.DispositionAccept, result.Disposition)
}

func TestUploadHandler_TargetChecks(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		target     models.Target
		wantStatus int
		errCode    string
	}{
		{"missing project", "alice", models.Target{Discipline: "ELE", Phase: "FEL2"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing phase", "alice", models.Target{Project: "P1", Discipline: "ELE"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"project not assigned", "alice", models.Target{Project: "P2", Discipline: "ELE", Phase: "FEL2"}, http.StatusForbidden, "FORBIDDEN"},
		{"unknown discipline", "alice", models.Target{Project: "P1", Discipline: "XYZ", Phase: "FEL2"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown phase", "alice", models.Target{Project: "P1", Discipline: "ELE", Phase: "FEL9"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"admin unknown project", "root", models.Target{Project: "P9", Discipline: "ELE", Phase: "FEL2"}, http.StatusBadRequest, "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			_, err := f.postUpload(t, tt.user, targetFields(tt.target), "A_r1v1.pdf", "x")
			requireAPIError(t, err, tt.wantStatus, tt.errCode)
		})
	}
}

func TestUploadHandler_AdminUploadsAnywhere(t *testing.T) {
	f := newAPIFixture(t)
	p2 := models.Target{Project: "P2", Discipline: "CIV", Phase: "Executivo"}
	result, err := f.postUpload(t, "root", targetFields(p2), "FUNDACAO_r0v1.pdf", "x")
	require.NoError(t, err)
	assert.Equal(t, "P2/CIV/Executivo/FUNDACAO_r0v1.pdf", result.File.Path)
}

func TestUploadHandler_NoFile(t *testing.T) {
	f := newAPIFixture(t)
	req := multipartRequest(t, "/api/documents/upload", targetFields(target), "", nil)
	c, _ := newContext(req)
	f.as(t, c, "alice")

	err := f.uploadHandler().HandleUpload(c)
	requireAPIError(t, err, http.StatusBadRequest, "BAD_REQUEST")
}

func (f *apiFixture) postChunk(t *testing.T, user, uploadID string, index int, data string) error {
	t.Helper()
	req := multipartRequest(t, "/api/documents/upload/chunk", map[string]string{
		"uploadId":   uploadID,
		"chunkIndex": strconv.Itoa(index),
	}, "blob", []byte(data))
	c, rec := newContext(req)
	f.as(t, c, user)
	if err := f.uploadHandler().HandleUploadChunk(c); err != nil {
		return err
	}
	require.Equal(t, http.StatusAccepted, rec.Code)
	return nil
}

func TestUploadHandler_ChunkedUpload(t *testing.T) {
	f := newAPIFixture(t)
	id := uuid.New().String()

	// Chunks may arrive in any order.
	require.NoError(t, f.postChunk(t, "alice", id, 1, "world"))
	require.NoError(t, f.postChunk(t, "alice", id, 0, "hello "))

	req := jsonRequest(http.MethodPost, "/api/documents/upload/complete", completeUploadRequest{
		UploadID:    id,
		Name:        "MEMORIAL_r1v1.docx",
		TotalChunks: 2,
		Project:     target.Project,
		Discipline:  target.Discipline,
		Phase:       target.Phase,
	})
	c, rec := newContext(req)
	f.as(t, c, "alice")
	require.NoError(t, f.uploadHandler().HandleCompleteUpload(c))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.JobID)
	f.uploads.Wait()

	// Owner sees the finished job.
	c, rec = newContext(jsonRequest(http.MethodGet, "/", nil))
	c.SetParamNames("jobId")
	c.SetParamValues(started.JobID)
	f.as(t, c, "alice")
	require.NoError(t, f.uploadHandler().HandleGetUploadJob(c))

	var job upload.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, upload.StatusComplete, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, int64(len("hello world")), job.Result.File.Size)

	// Another user does not.
	c, _ = newContext(jsonRequest(http.MethodGet, "/", nil))
	c.SetParamNames("jobId")
	c.SetParamValues(started.JobID)
	f.as(t, c, "bob")
	requireAPIError(t, f.uploadHandler().HandleGetUploadJob(c), http.StatusNotFound, "NOT_FOUND")
}

func (f *apiFixture) completeUpload(t *testing.T, user string, req completeUploadRequest) (string, error) {
	t.Helper()
	c, rec := newContext(jsonRequest(http.MethodPost, "/api/documents/upload/complete", req))
	f.as(t, c, user)
	if err := f.uploadHandler().HandleCompleteUpload(c); err != nil {
		return "", err
	}
	var started struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	return started.JobID, nil
}

func TestUploadHandler_ChunksBelongToUploader(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.records.CreateAccount(context.Background(), &models.Account{
		Username:    "dave",
		Projects:    []string{"P1"},
		Permissions: []models.Permission{models.PermissionUpload},
	}))
	id := uuid.New().String()
	req := completeUploadRequest{
		UploadID:    id,
		Name:        "LAYOUT_r1v1.pdf",
		TotalChunks: 1,
		Project:     target.Project,
		Discipline:  target.Discipline,
		Phase:       target.Phase,
	}

	require.NoError(t, f.postChunk(t, "alice", id, 0, "alice's drawing"))

	// Another uploader can neither overwrite the chunk nor complete the upload.
	requireAPIError(t, f.postChunk(t, "dave", id, 0, "dave's drawing"), http.StatusForbidden, "FORBIDDEN")
	_, err := f.completeUpload(t, "dave", req)
	requireAPIError(t, err, http.StatusForbidden, "FORBIDDEN")

	jobID, err := f.completeUpload(t, "alice", req)
	require.NoError(t, err)
	f.uploads.Wait()

	job, ok := f.uploads.GetJob(jobID)
	require.True(t, ok)
	require.Equal(t, upload.StatusComplete, job.Status, job.Error)
	assert.Equal(t, "alice", job.User)
	assert.Equal(t, int64(len("alice's drawing")), job.Result.File.Size)

	// The finished job frees the upload ID.
	require.NoError(t, f.postChunk(t, "dave", id, 0, "dave's drawing"))
}

func TestUploadHandler_JobStream(t *testing.T) {
	f := newAPIFixture(t)
	id := uuid.New().String()
	require.NoError(t, f.postChunk(t, "alice", id, 0, "data"))

	job := f.uploads.StartJob(upload.JobRequest{UploadID: id, FileName: "A_r1v1.pdf", TotalChunks: 1, Target: target, User: "alice"})
	f.uploads.Wait()

	c, rec := newContext(jsonRequest(http.MethodGet, "/", nil))
	c.SetParamNames("jobId")
	c.SetParamValues(job.ID)
	f.as(t, c, "alice")
	require.NoError(t, f.uploadHandler().HandleUploadJobStream(c))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "data: "))
	assert.Contains(t, rec.Body.String(), `"status":"complete"`)
}

func TestUploadHandler_ChunkValidation(t *testing.T) {
	f := newAPIFixture(t)

	err := f.postChunk(t, "alice", "not-a-uuid", 0, "x")
	requireAPIError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")

	err = f.postChunk(t, "alice", uuid.New().String(), -1, "x")
	requireAPIError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestUploadHandler_CompleteValidation(t *testing.T) {
	valid := func() completeUploadRequest {
		return completeUploadRequest{
			UploadID:    uuid.New().String(),
			Name:        "A_r1v1.pdf",
			TotalChunks: 1,
			Project:     "P1",
			Discipline:  "ELE",
			Phase:       "FEL2",
		}
	}
	tests := []struct {
		name       string
		mutate     func(r *completeUploadRequest)
		wantStatus int
		errCode    string
	}{
		{"bad upload id", func(r *completeUploadRequest) { r.UploadID = "123" }, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty name", func(r *completeUploadRequest) { r.Name = "" }, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"zero chunks", func(r *completeUploadRequest) { r.TotalChunks = 0 }, http.StatusBadRequest, "BAD_REQUEST"},
		{"unsupported encoding", func(r *completeUploadRequest) { r.Encoding = "br" }, http.StatusBadRequest, "BAD_REQUEST"},
		{"project not assigned", func(r *completeUploadRequest) { r.Project = "P2" }, http.StatusForbidden, "FORBIDDEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			body := valid()
			tt.mutate(&body)
			c, _ := newContext(jsonRequest(http.MethodPost, "/api/documents/upload/complete", body))
			f.as(t, c, "alice")
			requireAPIError(t, f.uploadHandler().HandleCompleteUpload(c), tt.wantStatus, tt.errCode)
		})
	}
}
