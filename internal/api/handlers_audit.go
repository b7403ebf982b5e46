// handlers_audit.go - Action history handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/docmanager/backend/internal/models"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultAuditLimit is the number of records shown by the history view.
const DefaultAuditLimit = 50

// AuditHandlerImpl implements the AuditHandler interface
type AuditHandlerImpl struct {
	reader AuditReader
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(reader AuditReader) *AuditHandlerImpl {
	return &AuditHandlerImpl{reader: reader}
}

// HandleRecentAudit returns the newest audit records as JSON
func (h *AuditHandlerImpl) HandleRecentAudit(c echo.Context) error {
	records, err := h.recent(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, auditResponse{Records: records, Count: len(records)})
}

// HandleRecentAuditMsgpack returns the newest audit records in MessagePack format
func (h *AuditHandlerImpl) HandleRecentAuditMsgpack(c echo.Context) error {
	records, err := h.recent(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(auditResponse{Records: records, Count: len(records)})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

func (h *AuditHandlerImpl) recent(c echo.Context) ([]models.AuditRecord, error) {
	limit := DefaultAuditLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			return nil, NewValidationError("limit")
		}
		limit = n
	}
	records, err := h.reader.RecentAudit(c.Request().Context(), limit)
	if err != nil {
		return nil, NewInternalError("failed to read audit log", err)
	}
	return records, nil
}

type auditResponse struct {
	Records []models.AuditRecord `json:"records" msgpack:"records"`
	Count   int                  `json:"count" msgpack:"count"`
}
