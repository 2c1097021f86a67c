// Package notify delivers operator-facing notifications: a settings-gated
// dispatcher that appends to the alert log, publishes on Redis pub/sub
// and heartbeats the changelog.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/ghostpost/internal/contextdir"
	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/store"
)

// Channel is the pub/sub topic notifications are published to.
const Channel = "notification"

// Notification event types.
const (
	EventNewEmail       = "new_email"
	EventGoalMet        = "goal_met"
	EventSecurityAlert  = "security_alert"
	EventDraftReady     = "draft_ready"
	EventStaleThread    = "stale_thread"
	EventThreadComposed = "thread_composed"
)

// eventSettings gates delivery per event type. Unknown event types are
// never delivered. Missing settings rows fall back to the default here.
var eventSettings = map[string]struct {
	key string
	def bool
}{
	EventNewEmail:       {"notification_new_email", true},
	EventGoalMet:        {"notification_goal_met", true},
	EventSecurityAlert:  {"notification_security_alert", true},
	EventDraftReady:     {"notification_draft_ready", true},
	EventStaleThread:    {"notification_stale_thread", true},
	EventThreadComposed: {"notification_thread_composed", true},
}

// payload is the wire shape published on the notification channel.
type payload struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	ThreadID  *int64                 `json:"thread_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Dispatcher routes notifications through the settings gate to the alert
// log and the pub/sub channel.
type Dispatcher struct {
	store     *store.Store
	redis     *redis.Client
	alerts    *contextdir.AlertLog
	changelog *contextdir.Changelog
}

// NewDispatcher creates the notification dispatcher.
func NewDispatcher(st *store.Store, rdb *redis.Client, alerts *contextdir.AlertLog, changelog *contextdir.Changelog) *Dispatcher {
	return &Dispatcher{store: st, redis: rdb, alerts: alerts, changelog: changelog}
}

// Dispatch delivers one notification. It returns false without side
// effects when the event type is unknown or its setting is disabled.
// Pub/sub publish failures are logged and swallowed; only the alert-log
// write can fail the dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType, title, message string, threadID *int64, severity string, metadata map[string]interface{}) (bool, error) {
	gate, known := eventSettings[eventType]
	if !known {
		return false, nil
	}
	enabled, err := d.store.GetSettingBool(ctx, gate.key, gate.def)
	if err != nil {
		logger.Error("notification setting lookup failed", "key", gate.key, "error", err)
		enabled = gate.def
	}
	if !enabled {
		return false, nil
	}

	if severity == "" {
		severity = store.SeverityInfo
	}
	now := time.Now().UTC()

	if err := d.alerts.Append(contextdir.Alert{
		Timestamp: now,
		EventType: eventType,
		Severity:  severity,
		Title:     title,
		Message:   message,
		ThreadID:  threadID,
		Metadata:  metadata,
	}); err != nil {
		return false, fmt.Errorf("alert append: %w", err)
	}

	// Best effort: the alert log and the DB remain the record if the
	// broker is down.
	body, _ := json.Marshal(payload{
		ID:        uuid.New().String(),
		Timestamp: now.Format(time.RFC3339),
		EventType: eventType,
		Severity:  severity,
		Title:     title,
		Message:   message,
		ThreadID:  threadID,
		Metadata:  metadata,
	})
	if err := d.redis.Publish(ctx, Channel, body).Err(); err != nil {
		logger.Warn("notification publish failed", "event_type", eventType, "error", err)
	}

	return true, nil
}

func (d *Dispatcher) heartbeat(eventType, summary, severity string) {
	if err := d.changelog.Append(eventType, summary, severity, time.Now().UTC()); err != nil {
		logger.Warn("changelog append failed", "event_type", eventType, "error", err)
	}
}

// NotifyNewEmail announces an inbound email. Only high or critical
// urgency reaches the operator; everything else returns false.
func (d *Dispatcher) NotifyNewEmail(ctx context.Context, threadID int64, from, subject, urgency string) bool {
	if urgency != "high" && urgency != "critical" {
		return false
	}
	sent, err := d.Dispatch(ctx, EventNewEmail,
		fmt.Sprintf("New %s-urgency email", urgency),
		fmt.Sprintf("From %s: %s", from, subject),
		&threadID, store.SeverityInfo, nil)
	if err != nil {
		logger.Error("new email notification failed", "thread_id", threadID, "error", err)
		return false
	}
	if sent {
		d.heartbeat(EventNewEmail, fmt.Sprintf("thread #%d received %s-urgency email", threadID, urgency), "")
	}
	return sent
}

// NotifyGoalMet announces a completed thread goal.
func (d *Dispatcher) NotifyGoalMet(ctx context.Context, threadID int64, subject, goal string) {
	msg := fmt.Sprintf("Goal reached on %q", subject)
	if goal != "" {
		msg = fmt.Sprintf("Goal %q reached on %q", goal, subject)
	}
	sent, err := d.Dispatch(ctx, EventGoalMet, "Thread goal met", msg, &threadID, store.SeverityInfo, nil)
	if err != nil {
		logger.Error("goal notification failed", "thread_id", threadID, "error", err)
		return
	}
	if sent {
		d.heartbeat(EventGoalMet, fmt.Sprintf("thread #%d goal met", threadID), "")
	}
}

// NotifySecurityAlert announces a security event at its own severity.
func (d *Dispatcher) NotifySecurityAlert(ctx context.Context, threadID *int64, eventType, severity, detail string) {
	sent, err := d.Dispatch(ctx, EventSecurityAlert,
		fmt.Sprintf("Security: %s", eventType), detail, threadID, severity, nil)
	if err != nil {
		logger.Error("security notification failed", "event_type", eventType, "error", err)
		return
	}
	if sent {
		d.heartbeat(EventSecurityAlert, fmt.Sprintf("%s: %s", eventType, detail), severity)
	}
}

// NotifyDraftReady announces a draft awaiting approval.
func (d *Dispatcher) NotifyDraftReady(ctx context.Context, threadID, draftID int64, subject string) {
	sent, err := d.Dispatch(ctx, EventDraftReady, "Draft ready for review",
		fmt.Sprintf("Draft #%d for %q awaits approval", draftID, subject),
		&threadID, store.SeverityInfo, map[string]interface{}{"draft_id": draftID})
	if err != nil {
		logger.Error("draft notification failed", "draft_id", draftID, "error", err)
		return
	}
	if sent {
		d.heartbeat(EventDraftReady, fmt.Sprintf("draft #%d pending on thread #%d", draftID, threadID), "")
	}
}

// NotifyStaleThread announces an overdue follow-up.
func (d *Dispatcher) NotifyStaleThread(ctx context.Context, threadID int64, subject string, daysOverdue int) {
	sent, err := d.Dispatch(ctx, EventStaleThread, "Follow-up overdue",
		fmt.Sprintf("No reply on %q for %d day(s)", subject, daysOverdue),
		&threadID, store.SeverityInfo, nil)
	if err != nil {
		logger.Error("stale thread notification failed", "thread_id", threadID, "error", err)
		return
	}
	if sent {
		d.heartbeat(EventStaleThread, fmt.Sprintf("thread #%d follow-up overdue", threadID), "")
	}
}

// NotifyThreadComposed announces an agent-composed outbound message.
func (d *Dispatcher) NotifyThreadComposed(ctx context.Context, threadID int64, subject string) {
	sent, err := d.Dispatch(ctx, EventThreadComposed, "Reply composed",
		fmt.Sprintf("Outbound message prepared on %q", subject),
		&threadID, store.SeverityInfo, nil)
	if err != nil {
		logger.Error("composed notification failed", "thread_id", threadID, "error", err)
		return
	}
	if sent {
		d.heartbeat(EventThreadComposed, fmt.Sprintf("thread #%d reply composed", threadID), "")
	}
}
