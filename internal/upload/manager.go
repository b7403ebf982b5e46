package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/docmanager/backend/internal/models"
	"github.com/docmanager/backend/internal/revision"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// Status represents the upload processing status.
type Status string

const (
	StatusProcessing    Status = "processing"
	StatusAssembling    Status = "assembling"
	StatusDecompressing Status = "decompressing"
	StatusResolving     Status = "resolving"
	StatusComplete      Status = "complete"
	StatusBlocked       Status = "blocked" // same revision, new version, not confirmed
	StatusError         Status = "error"
)

// Finished reports whether the job reached a final status.
func (s Status) Finished() bool {
	return s == StatusComplete || s == StatusBlocked || s == StatusError
}

// Job represents an async chunked upload.
type Job struct {
	ID           string           `json:"id"`
	UploadID     string           `json:"uploadId"`
	FileName     string           `json:"fileName"`
	Target       models.Target    `json:"target"`
	User         string           `json:"user"`
	TotalChunks  int              `json:"totalChunks"`
	OriginalSize int64            `json:"originalSize"`
	Encoding     string           `json:"encoding"`
	Confirmed    bool             `json:"confirmed"`
	Status       Status           `json:"status"`
	Progress     float64          `json:"progress"`
	Stage        string           `json:"stage"`
	Result       *revision.Result `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
	ErrorCode    string           `json:"errorCode,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
}

// JobRequest describes a completed chunk sequence to process.
type JobRequest struct {
	UploadID     string
	FileName     string
	TotalChunks  int
	OriginalSize int64
	Encoding     string // "", "identity" or "gzip"
	Target       models.Target
	Confirmed    bool
	User         string
}

// Stager assembles and discards staged chunks.
type Stager interface {
	AssembleChunks(uploadID string, totalChunks int) (string, int64, error)
	DiscardChunks(uploadID string) error
}

// Resolver applies the revision policy to an assembled file.
type Resolver interface {
	Resolve(ctx context.Context, req revision.Request) (*revision.Result, error)
}

// Observer is notified when a job finishes.
type Observer interface {
	ObserveJob(status string)
}

// DefaultMaxFileSize bounds a decompressed upload when no limit is configured.
const DefaultMaxFileSize int64 = 1 << 30

// claim ties staged chunks to the user who sent the first one.
type claim struct {
	user     string
	lastSeen time.Time
}

// Manager handles async upload processing.
type Manager struct {
	jobs        map[string]*Job
	claims      map[string]*claim
	mu          sync.RWMutex
	wg          sync.WaitGroup
	ctx         context.Context
	stager      Stager
	resolver    Resolver
	observer    Observer
	maxFileSize int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxFileSize caps the size of a decompressed upload.
func WithMaxFileSize(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxFileSize = n
		}
	}
}

// NewManager creates a new upload processing manager. Jobs run under ctx.
func NewManager(ctx context.Context, stager Stager, resolver Resolver, observer Observer, opts ...Option) *Manager {
	m := &Manager{
		jobs:        make(map[string]*Job),
		claims:      make(map[string]*claim),
		ctx:         ctx,
		stager:      stager,
		resolver:    resolver,
		observer:    observer,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Claim records user as the owner of uploadID on first use and reports
// whether user owns it. The claim is released when the job for uploadID ends.
func (m *Manager) Claim(uploadID, user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cl, ok := m.claims[uploadID]
	if !ok {
		m.claims[uploadID] = &claim{user: user, lastSeen: time.Now()}
		return true
	}
	if cl.user != user {
		return false
	}
	cl.lastSeen = time.Now()
	return true
}

func (m *Manager) release(uploadID string) {
	m.mu.Lock()
	delete(m.claims, uploadID)
	m.mu.Unlock()
}

// StartJob begins async processing of an upload.
func (m *Manager) StartJob(req JobRequest) *Job {
	job := &Job{
		ID:           uuid.New().String(),
		UploadID:     req.UploadID,
		FileName:     req.FileName,
		Target:       req.Target,
		User:         req.User,
		TotalChunks:  req.TotalChunks,
		OriginalSize: req.OriginalSize,
		Encoding:     req.Encoding,
		Confirmed:    req.Confirmed,
		Status:       StatusProcessing,
		Stage:        "preparing",
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	snapshot := *job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.processJob(job)
	}()

	return &snapshot
}

// GetJob returns a snapshot of a job by ID.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) processJob(job *Job) {
	logger := log.With().Str("component", "upload").Str("job", job.ID[:8]).Str("file", job.FileName).Logger()
	logger.Info().Int("chunks", job.TotalChunks).Msg("starting processing")

	defer func() {
		if r := recover(); r != nil {
			m.finishWithError(job, "INTERNAL_ERROR", fmt.Sprintf("upload job panicked: %v", r))
		}
		if err := m.stager.DiscardChunks(job.UploadID); err != nil {
			logger.Warn().Err(err).Msg("failed to discard staged chunks")
		}
		m.release(job.UploadID)
	}()

	m.updateJobStatus(job, StatusAssembling, "assembling chunks")
	path, size, err := m.stager.AssembleChunks(job.UploadID, job.TotalChunks)
	if err != nil {
		m.finishWithError(job, "STORAGE_ERROR", fmt.Sprintf("failed to assemble chunks: %v", err))
		return
	}
	logger.Debug().Int64("bytes", size).Msg("chunks assembled")

	if job.Encoding == "gzip" {
		m.updateJobStatus(job, StatusDecompressing, "decompressing file")
		if err := decompressInPlace(path, job.OriginalSize, m.maxFileSize); err != nil {
			m.finishWithError(job, "BAD_REQUEST", fmt.Sprintf("failed to decompress upload: %v", err))
			return
		}
	}

	m.updateJobStatus(job, StatusResolving, "applying revision policy")
	f, err := os.Open(path)
	if err != nil {
		m.finishWithError(job, "STORAGE_ERROR", fmt.Sprintf("failed to open assembled file: %v", err))
		return
	}
	result, err := m.resolver.Resolve(m.ctx, revision.Request{
		Target:    job.Target,
		FileName:  job.FileName,
		Content:   f,
		Confirmed: job.Confirmed,
		User:      job.User,
	})
	f.Close()
	if err != nil {
		var warning *revision.ConflictWarning
		if errors.As(err, &warning) {
			m.finish(job, StatusBlocked, nil, "CONFIRMATION_REQUIRED", err.Error())
			return
		}
		m.finishWithError(job, errorCode(err), err.Error())
		return
	}

	m.finish(job, StatusComplete, result, "", "")
	logger.Info().Str("disposition", string(result.Disposition)).Msg("processing complete")
}

// decompressInPlace replaces a gzip file with its content. Output stops one
// byte past expected when it is positive, or past limit otherwise.
func decompressInPlace(path string, expected, limit int64) error {
	if expected > limit {
		return fmt.Errorf("declared size %d bytes exceeds the %d byte limit", expected, limit)
	}
	bound := limit
	if expected > 0 {
		bound = expected
	}

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	reader, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("not a gzip stream: %w", err)
	}
	defer reader.Close()

	tempPath := path + ".decompressing"
	out, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	written, err := io.Copy(out, io.LimitReader(reader, bound+1))
	out.Close()
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("read error: %w", err)
	}
	if written > limit {
		os.Remove(tempPath)
		return fmt.Errorf("decompressed size exceeds the %d byte limit", limit)
	}
	if expected > 0 && written != expected {
		os.Remove(tempPath)
		return fmt.Errorf("decompressed size mismatch: got %d bytes, expected %d bytes", written, expected)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}

func errorCode(err error) string {
	var validation *revision.ValidationError
	var archive *revision.ArchiveError
	switch {
	case errors.As(err, &validation) && errors.Is(err, revision.ErrDuplicate):
		return "DUPLICATE_FILE"
	case errors.As(err, &validation):
		return "VALIDATION_ERROR"
	case errors.As(err, &archive):
		return "ARCHIVE_INCOMPLETE"
	default:
		return "STORAGE_ERROR"
	}
}

// updateJobStatus updates job progress (thread-safe).
func (m *Manager) updateJobStatus(job *Job, status Status, stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = status
	job.Stage = stage
	switch status {
	case StatusAssembling:
		job.Progress = 10
	case StatusDecompressing:
		job.Progress = 40
	case StatusResolving:
		job.Progress = 70
	}
}

func (m *Manager) finish(job *Job, status Status, result *revision.Result, code, msg string) {
	m.mu.Lock()
	now := time.Now()
	job.Status = status
	job.Stage = string(status)
	job.Progress = 100
	job.Result = result
	job.ErrorCode = code
	job.Error = msg
	job.CompletedAt = &now
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.ObserveJob(string(status))
	}
}

func (m *Manager) finishWithError(job *Job, code, msg string) {
	log.Error().Str("component", "upload").Str("job", job.ID[:8]).Str("code", code).Msg(msg)
	m.finish(job, StatusError, nil, code, msg)
}

// CleanupOldJobs removes finished jobs and idle chunk claims older than maxAge.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Status.Finished() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
	for id, cl := range m.claims {
		if cl.lastSeen.Before(cutoff) {
			delete(m.claims, id)
		}
	}
}
