// Package audit records and queries the append-only audit log: every
// inference call made through an API key, and every administrative action
// (adapter activation, update apply, quarantine review, service restart)
// that the rest of the control plane chooses to record. Grounded on
// internal/store/audit.go's AppendAuditLog/ListAuditLog, which every caller
// in this tree already reaches through directly with a fire-and-forget
// `_, _ = store.AppendAuditLog(...)` — this package gives that call site a
// name and adds the query side used by the admin audit-log endpoint.
package audit

import (
	"context"
	"time"

	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/pkg/logger"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type auditStore interface {
	AppendAuditLog(ctx context.Context, e domain.AuditLogEntry) (domain.AuditLogEntry, error)
	ListAuditLog(ctx context.Context, since, until time.Time, action string, offset, limit int) ([]domain.AuditLogEntry, error)
}

type Logger struct {
	store auditStore
	log   *logger.Logger
}

func New(store auditStore, log *logger.Logger) *Logger {
	return &Logger{store: store, log: log}
}

// Record appends one entry, stamping the timestamp if the caller left it
// zero. Failures are logged, never returned to the caller's hot path —
// an audit write must not be able to fail the request it describes.
func (l *Logger) Record(ctx context.Context, e domain.AuditLogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if _, err := l.store.AppendAuditLog(ctx, e); err != nil && l.log != nil {
		l.log.WithField("action", e.Action).WithField("error", err.Error()).Warn("failed to append audit log entry")
	}
}

// InferenceCall records one proxied inference request, the one case where
// token counts are known.
func (l *Logger) InferenceCall(ctx context.Context, keyPrefix, method, path, model string, statusCode int, latencyMs int64, tokensInput, tokensOutput int) {
	l.Record(ctx, domain.AuditLogEntry{
		Action:        "inference_call",
		Method:        method,
		Path:          path,
		UserKeyPrefix: keyPrefix,
		Model:         model,
		StatusCode:    &statusCode,
		LatencyMs:     &latencyMs,
		TokensInput:   &tokensInput,
		TokensOutput:  &tokensOutput,
	})
}

// Admin records an administrative action with a free-form details string
// (e.g. "adapter my-lora activated", "update 2026.7.1 applied").
func (l *Logger) Admin(ctx context.Context, action, details string) {
	l.Record(ctx, domain.AuditLogEntry{Action: action, Details: details})
}

type ListFilter struct {
	Since  time.Time
	Until  time.Time
	Action string
	Offset int
	Limit  int
}

// List returns entries matching filter, newest first, defaulting Until to
// now and Limit to defaultListLimit when unset, and clamping Limit to
// maxListLimit regardless of what the caller asked for.
func (l *Logger) List(ctx context.Context, filter ListFilter) ([]domain.AuditLogEntry, error) {
	until := filter.Until
	if until.IsZero() {
		until = time.Now().UTC()
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return l.store.ListAuditLog(ctx, filter.Since, until, filter.Action, filter.Offset, limit)
}
