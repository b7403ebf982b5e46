// Package audit records user actions in the persistent action log and mirrors
// them to the structured application log.
package audit

import (
	"context"
	"time"

	"github.com/docmanager/backend/internal/models"
	"github.com/rs/zerolog"
)

// Sink persists audit records.
type Sink interface {
	AppendAudit(ctx context.Context, rec models.AuditRecord) error
}

// Logger writes audit events to a Sink and to zerolog.
type Logger struct {
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time
}

// NewLogger creates an audit logger. A nil sink only logs.
func NewLogger(sink Sink, logger zerolog.Logger) *Logger {
	return &Logger{
		sink:   sink,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

// Record appends rec to the sink and logs it.
func (l *Logger) Record(ctx context.Context, rec models.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	l.logger.Info().
		Str("event_type", "audit").
		Str("user", rec.User).
		Str("action", rec.Action).
		Str("file", rec.File).
		Time("at", rec.Timestamp).
		Msg("Audit event")

	if l.sink == nil {
		return nil
	}
	return l.sink.AppendAudit(ctx, rec)
}

// LogAccess records a view, download or search by user.
func (l *Logger) LogAccess(ctx context.Context, user, action, ref string) {
	l.recordOrWarn(ctx, models.AuditRecord{User: user, Action: action, File: ref})
}

// LogAuth records a login or logout. Denied attempts are logged at warn level
// and are not persisted.
func (l *Logger) LogAuth(ctx context.Context, user, action, result, sourceIP string) {
	level := zerolog.InfoLevel
	if result == "denied" {
		level = zerolog.WarnLevel
	}
	l.logger.WithLevel(level).
		Str("event_type", "auth").
		Str("user", user).
		Str("action", action).
		Str("result", result).
		Str("source_ip", sourceIP).
		Msg("Authentication event")

	if result == "allowed" {
		l.recordOrWarn(ctx, models.AuditRecord{User: user, Action: action, File: "source " + sourceIP})
	}
}

// LogUserMgmt records an account change made by admin.
func (l *Logger) LogUserMgmt(ctx context.Context, admin, action, target string) {
	l.recordOrWarn(ctx, models.AuditRecord{User: admin, Action: action, File: "account " + target})
}

// LogTaxonomy records a taxonomy change made by admin.
func (l *Logger) LogTaxonomy(ctx context.Context, admin, change string) {
	l.recordOrWarn(ctx, models.AuditRecord{User: admin, Action: models.ActionTaxonomyUpdate, File: change})
}

func (l *Logger) recordOrWarn(ctx context.Context, rec models.AuditRecord) {
	if err := l.Record(ctx, rec); err != nil {
		l.logger.Warn().Err(err).Str("action", rec.Action).Msg("failed to persist audit record")
	}
}
