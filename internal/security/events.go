package security

import (
	"context"
	"encoding/json"

	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/store"
)

// Security event types recorded by the safety pipeline.
const (
	EventInjectionDetected = "injection_detected"
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventSendBlocked       = "send_blocked"
)

// SecurityEventInput is the caller-facing shape for LogSecurityEvent.
type SecurityEventInput struct {
	EventType   string
	Severity    string
	EmailID     *int64
	ThreadID    *int64
	Details     json.RawMessage
	Quarantined bool
}

// Events appends security and audit records. Both operations are
// best-effort: a storage failure is logged and never blocks the caller.
type Events struct {
	store *store.Store
}

// NewEvents creates the event logger.
func NewEvents(st *store.Store) *Events {
	return &Events{store: st}
}

// LogSecurityEvent appends an immutable security event.
func (e *Events) LogSecurityEvent(ctx context.Context, in SecurityEventInput) {
	ev := &store.SecurityEvent{
		EventType:   in.EventType,
		Severity:    in.Severity,
		EmailID:     in.EmailID,
		ThreadID:    in.ThreadID,
		Details:     in.Details,
		Quarantined: in.Quarantined,
	}
	if err := e.store.CreateSecurityEvent(ctx, ev); err != nil {
		logger.Error("security event write failed",
			"event_type", in.EventType, "severity", in.Severity, "error", err)
	}
}

// LogAction appends an immutable audit record of a user/agent action.
func (e *Events) LogAction(ctx context.Context, actor, actionType, subjectID string, metadata map[string]interface{}) {
	meta, _ := json.Marshal(metadata)
	a := &store.AuditLog{
		Actor:      actor,
		ActionType: actionType,
		SubjectID:  subjectID,
		Metadata:   meta,
	}
	if err := e.store.CreateAuditLog(ctx, a); err != nil {
		logger.Error("audit log write failed",
			"action_type", actionType, "subject_id", subjectID, "error", err)
	}
}
