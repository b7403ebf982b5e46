package revision

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedFilename is returned for names that do not follow NAME_rXvY.ext.
	ErrMalformedFilename = errors.New("filename must follow the pattern NAME_rXvY.ext")
	// ErrMissingDocumentName is returned when the base is made of separators only.
	ErrMissingDocumentName = errors.New("filename has no document name before the revision marker")
	// ErrInvalidName is returned for names carrying path elements.
	ErrInvalidName = errors.New("filename must not contain path separators")
	// ErrDuplicate is returned when a file with the exact same name already exists.
	ErrDuplicate = errors.New("a file with this exact name already exists")
)

// ValidationError reports an upload that is refused because of its name.
type ValidationError struct {
	FileName string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.FileName, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictWarning reports an upload of a new version within the current
// revision. The upload is blocked until the user confirms it.
type ConflictWarning struct {
	FileName string
	Revision string
	Existing []string // live files of the same revision with another version or spelling
}

func (e *ConflictWarning) Error() string {
	return fmt.Sprintf("%s: revision r%s already has other versions (%s); confirmation required",
		e.FileName, e.Revision, strings.Join(e.Existing, ", "))
}

// StorageError reports a filesystem failure. It is fatal for the request.
// Archived lists the superseded files already moved before the failure; they
// stay archived.
type StorageError struct {
	Op       string
	Path     string
	Err      error
	Archived []ArchivedFile
}

func (e *StorageError) Error() string {
	if len(e.Archived) > 0 {
		return fmt.Sprintf("%s %s: %v (after archiving %d file(s))", e.Op, e.Path, e.Err, len(e.Archived))
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// FailedMove is a superseded file that could not be archived.
type FailedMove struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// ArchiveError reports a partially archived revision group. The moved files
// stay archived; the operator reconciles the rest manually.
type ArchiveError struct {
	Moved  []ArchivedFile
	Failed []FailedMove
}

func (e *ArchiveError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		names = append(names, fmt.Sprintf("%s (%v)", f.Name, f.Err))
	}
	return fmt.Sprintf("archived %d file(s), failed to archive %d: %s",
		len(e.Moved), len(e.Failed), strings.Join(names, "; "))
}

func (e *ArchiveError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}
