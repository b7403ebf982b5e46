// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/docmanager/backend/internal/revision"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	// Existing lists the live files that blocked a CONFIRMATION_REQUIRED upload.
	Existing []string `json:"existing,omitempty"`
	// Moved and Failed describe an incomplete archive or a write that failed
	// after archiving.
	Moved  []revision.ArchivedFile `json:"moved,omitempty"`
	Failed []string                `json:"failed,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewUnauthorizedError creates a 401 error
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

// NewForbiddenError creates a 403 error
func NewForbiddenError(message string) *APIError {
	return &APIError{
		Status:  http.StatusForbidden,
		Code:    "FORBIDDEN",
		Message: message,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// revisionError maps resolver errors onto API errors.
func revisionError(err error) *APIError {
	var (
		validation *revision.ValidationError
		warning    *revision.ConflictWarning
		archive    *revision.ArchiveError
		storageErr *revision.StorageError
	)
	switch {
	case errors.As(err, &validation) && errors.Is(err, revision.ErrDuplicate):
		return &APIError{
			Status:  http.StatusConflict,
			Code:    "DUPLICATE_FILE",
			Message: "file already exists",
			Details: err.Error(),
		}
	case errors.As(err, &validation):
		return &APIError{
			Status:  http.StatusBadRequest,
			Code:    "VALIDATION_ERROR",
			Message: "file name does not follow <name>r<revision>v<version>.<ext>",
			Details: err.Error(),
		}
	case errors.As(err, &warning):
		return &APIError{
			Status:   http.StatusConflict,
			Code:     "CONFIRMATION_REQUIRED",
			Message:  fmt.Sprintf("revision r%s already has other versions; resend with confirm=true", warning.Revision),
			Existing: warning.Existing,
		}
	case errors.As(err, &archive):
		failed := make([]string, 0, len(archive.Failed))
		for _, f := range archive.Failed {
			failed = append(failed, f.Name)
		}
		return &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "ARCHIVE_INCOMPLETE",
			Message: "previous revision was only partially archived; upload not written",
			Details: err.Error(),
			Moved:   archive.Moved,
			Failed:  failed,
		}
	case errors.As(err, &storageErr):
		message := "storage operation failed"
		if len(storageErr.Archived) > 0 {
			message = "previous revision was archived but the upload was not written"
		}
		return &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "STORAGE_ERROR",
			Message: message,
			Details: err.Error(),
			Moved:   storageErr.Archived,
		}
	default:
		return NewInternalError("upload failed", err)
	}
}

// httpErrorCodes names the codes used for echo.HTTPError statuses.
var httpErrorCodes = map[int]string{
	http.StatusUnauthorized:          "UNAUTHORIZED",
	http.StatusForbidden:             "FORBIDDEN",
	http.StatusNotFound:              "NOT_FOUND",
	http.StatusMethodNotAllowed:      "METHOD_NOT_ALLOWED",
	http.StatusRequestEntityTooLarge: "PAYLOAD_TOO_LARGE",
	http.StatusServiceUnavailable:    "SERVICE_UNAVAILABLE",
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		code, ok := httpErrorCodes[httpErr.Code]
		if !ok {
			code = "HTTP_ERROR"
		}
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    code,
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
		}
	}

	if apiErr.Status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("component", "api").Str("path", c.Path()).Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(apiErr.Status)
		return
	}
	c.JSON(apiErr.Status, apiErr)
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
