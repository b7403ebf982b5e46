package revision

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/docmanager/backend/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultArchiveSuffix names the per-document archive subfolder, e.g. "A_revisoes".
const DefaultArchiveSuffix = "_revisoes"

// FileStore is the part of the file store the resolver needs.
type FileStore interface {
	EnsureTarget(t models.Target) (string, error)
	ListFiles(t models.Target) ([]string, error)
	WriteFile(t models.Target, name string, r io.Reader) (*models.FileInfo, error)
	ArchiveFile(t models.Target, archiveDir, name string) (string, error)
}

// AuditLog receives one record per accepted upload and per archived file.
type AuditLog interface {
	Record(ctx context.Context, rec models.AuditRecord) error
}

// Observer is notified of every resolution outcome.
type Observer interface {
	ObserveDisposition(d Disposition)
	ObserveArchived(n int)
	ObserveUploadBytes(n int64)
}

// Request is a single upload to resolve.
type Request struct {
	Target    models.Target
	FileName  string
	Content   io.Reader
	Confirmed bool // user confirmed a new version of the current revision
	User      string
}

// ArchivedFile is a superseded file moved into the archive subfolder.
type ArchivedFile struct {
	Name string `json:"name"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Result describes an accepted upload.
type Result struct {
	Disposition Disposition      `json:"disposition"`
	File        *models.FileInfo `json:"file"`
	Archived    []ArchivedFile   `json:"archived,omitempty"`
	Confirmed   bool             `json:"confirmed,omitempty"`
}

// Resolver applies the revision policy to uploads.
type Resolver struct {
	store         FileStore
	audit         AuditLog
	observer      Observer
	archiveSuffix string
	locks         *keyedMutex
	now           func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithArchiveSuffix overrides DefaultArchiveSuffix.
func WithArchiveSuffix(suffix string) Option {
	return func(r *Resolver) {
		if suffix != "" {
			r.archiveSuffix = suffix
		}
	}
}

// NewResolver creates a resolver writing to store and recording to audit.
func NewResolver(store FileStore, audit AuditLog, opts ...Option) *Resolver {
	r := &Resolver{
		store:         store,
		audit:         audit,
		archiveSuffix: DefaultArchiveSuffix,
		locks:         newKeyedMutex(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ArchiveDir returns the archive subfolder name used for f.
func (r *Resolver) ArchiveDir(f Filename) string {
	return f.Document() + r.archiveSuffix
}

// Resolve decides the disposition of req and performs its side effects.
//
// Rejections come back as *ValidationError, blocked versions as
// *ConflictWarning, filesystem failures as *StorageError and a partially
// archived group as *ArchiveError. On success the file has been written and
// audited.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if req.FileName == "" || strings.ContainsAny(req.FileName, `/\`) || req.FileName == "." || req.FileName == ".." {
		r.observe(DispositionInvalid)
		return nil, &ValidationError{FileName: req.FileName, Err: ErrInvalidName}
	}
	candidate, err := ParseFilename(req.FileName)
	if err != nil {
		r.observe(DispositionInvalid)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The decision depends on the listing staying unchanged until the write.
	unlock := r.locks.Lock(lockKey(req.Target, candidate))
	defer unlock()

	if _, err := r.store.EnsureTarget(req.Target); err != nil {
		r.observe(DispositionFailed)
		return nil, &StorageError{Op: "mkdir", Path: req.Target.String(), Err: err}
	}
	existing, err := r.store.ListFiles(req.Target)
	if err != nil {
		r.observe(DispositionFailed)
		return nil, &StorageError{Op: "list", Path: req.Target.String(), Err: err}
	}

	decision := Decide(req.FileName, candidate, existing)
	logger := log.With().
		Str("component", "resolver").
		Str("target", req.Target.String()).
		Str("file", req.FileName).
		Str("user", req.User).
		Str("disposition", string(decision.Disposition)).
		Logger()

	result := &Result{Disposition: decision.Disposition}
	switch decision.Disposition {
	case DispositionDuplicate:
		r.observe(DispositionDuplicate)
		logger.Info().Msg("upload rejected: duplicate name")
		return nil, &ValidationError{FileName: req.FileName, Err: ErrDuplicate}

	case DispositionConfirmationRequired:
		if !req.Confirmed {
			r.observe(DispositionConfirmationRequired)
			logger.Info().Strs("existing", decision.Conflicts).Msg("upload blocked pending confirmation")
			return nil, &ConflictWarning{
				FileName: req.FileName,
				Revision: candidate.Revision,
				Existing: decision.Conflicts,
			}
		}
		result.Disposition = DispositionAccept
		result.Confirmed = true

	case DispositionArchiveAndAccept:
		archived, err := r.archive(ctx, req, candidate, decision.Supersede)
		result.Archived = archived
		if r.observer != nil {
			r.observer.ObserveArchived(len(archived))
		}
		if err != nil {
			r.observe(DispositionFailed)
			logger.Error().Err(err).Msg("archiving superseded revision failed")
			return nil, err
		}
		logger.Info().Int("archived", len(archived)).Str("archive", r.ArchiveDir(candidate)).
			Msg("previous revision archived")
	}

	info, err := r.store.WriteFile(req.Target, req.FileName, req.Content)
	if err != nil {
		r.observe(DispositionFailed)
		logger.Error().Err(err).Int("archived", len(result.Archived)).Msg("writing upload failed")
		return nil, &StorageError{
			Op:       "write",
			Path:     path.Join(req.Target.String(), req.FileName),
			Err:      err,
			Archived: result.Archived,
		}
	}
	info.Base = candidate.Document()
	info.Revision = candidate.RevisionTag()
	info.Version = candidate.VersionTag()
	result.File = info

	r.record(ctx, models.AuditRecord{User: req.User, Action: models.ActionUpload, File: info.Path})
	r.observe(result.Disposition)
	if r.observer != nil {
		r.observer.ObserveUploadBytes(info.Size)
	}
	logger.Info().Int64("size", info.Size).Msg("upload accepted")
	return result, nil
}

// archive moves every superseded file, continuing past failures so the
// caller learns exactly which files moved.
func (r *Resolver) archive(ctx context.Context, req Request, candidate Filename, names []string) ([]ArchivedFile, error) {
	dir := r.ArchiveDir(candidate)
	var moved []ArchivedFile
	var failed []FailedMove
	for _, name := range names {
		dest, err := r.store.ArchiveFile(req.Target, dir, name)
		if err != nil {
			failed = append(failed, FailedMove{Name: name, Err: err})
			continue
		}
		a := ArchivedFile{Name: name, From: path.Join(req.Target.String(), name), To: dest}
		moved = append(moved, a)
		r.record(ctx, models.AuditRecord{
			User:   req.User,
			Action: models.ActionArchived,
			File:   fmt.Sprintf("%s -> %s", a.From, a.To),
		})
	}
	if len(failed) > 0 {
		return moved, &ArchiveError{Moved: moved, Failed: failed}
	}
	return moved, nil
}

// record appends to the audit log. The file operation has already happened,
// so a failed append is logged rather than returned.
func (r *Resolver) record(ctx context.Context, rec models.AuditRecord) {
	if r.audit == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	if err := r.audit.Record(ctx, rec); err != nil {
		log.Error().Err(err).Str("component", "resolver").Str("action", rec.Action).
			Str("file", rec.File).Msg("failed to append audit record")
	}
}

func (r *Resolver) observe(d Disposition) {
	if r.observer != nil {
		r.observer.ObserveDisposition(d)
	}
}

func lockKey(t models.Target, f Filename) string {
	return strings.Join([]string{t.Project, t.Discipline, t.Phase, f.Document()}, "\x00")
}
