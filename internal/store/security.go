package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const securityEventColumns = `id, event_type, severity, email_id, thread_id,
	details, quarantined, resolution, created_at`

func scanSecurityEvent(row interface{ Scan(...interface{}) error }) (*SecurityEvent, error) {
	ev := &SecurityEvent{}
	var details []byte
	err := row.Scan(&ev.ID, &ev.EventType, &ev.Severity, &ev.EmailID, &ev.ThreadID,
		&details, &ev.Quarantined, &ev.Resolution, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	ev.Details = json.RawMessage(details)
	return ev, nil
}

// CreateSecurityEvent appends an immutable security event.
func (s *Store) CreateSecurityEvent(ctx context.Context, ev *SecurityEvent) error {
	if ev.Resolution == "" {
		ev.Resolution = ResolutionPending
	}
	if len(ev.Details) == 0 {
		ev.Details = json.RawMessage("{}")
	}
	ev.CreatedAt = time.Now().UTC()
	return s.db.QueryRowContext(ctx,
		`INSERT INTO security_events (event_type, severity, email_id, thread_id,
			details, quarantined, resolution, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		ev.EventType, ev.Severity, ev.EmailID, ev.ThreadID,
		[]byte(ev.Details), ev.Quarantined, ev.Resolution, ev.CreatedAt).Scan(&ev.ID)
}

// ListPendingSecurityEvents returns unresolved events, newest first.
func (s *Store) ListPendingSecurityEvents(ctx context.Context) ([]*SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+securityEventColumns+` FROM security_events
		 WHERE resolution = $1 ORDER BY created_at DESC`, ResolutionPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*SecurityEvent
	for rows.Next() {
		ev, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountQuarantined returns the number of unresolved quarantined events.
func (s *Store) CountQuarantined(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events
		 WHERE quarantined = TRUE AND resolution = $1`, ResolutionPending).Scan(&n)
	return n, err
}

// ResolveSecurityEvent dismisses or approves a pending event.
func (s *Store) ResolveSecurityEvent(ctx context.Context, id int64, resolution string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE security_events SET resolution = $2 WHERE id = $1`, id, resolution)
	return err
}

// IsEmailQuarantined reports whether an email has an unresolved
// quarantining event attached; the agent must not act on it until then.
func (s *Store) IsEmailQuarantined(ctx context.Context, emailID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events
		 WHERE email_id = $1 AND quarantined = TRUE AND resolution = $2`,
		emailID, ResolutionPending).Scan(&n)
	return n > 0, err
}

// CreateAuditLog appends an immutable audit record.
func (s *Store) CreateAuditLog(ctx context.Context, a *AuditLog) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if len(a.Metadata) == 0 {
		a.Metadata = json.RawMessage("{}")
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, actor, action_type, subject_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Actor, a.ActionType, a.SubjectID, []byte(a.Metadata), a.CreatedAt)
	return err
}

// CreateThreadOutcome records the terminal outcome for a thread exactly
// once; repeated calls for the same thread are no-ops.
func (s *Store) CreateThreadOutcome(ctx context.Context, o *ThreadOutcome) error {
	o.CreatedAt = time.Now().UTC()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO thread_outcomes (thread_id, outcome_type, summary, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (thread_id) DO NOTHING
		 RETURNING id`,
		o.ThreadID, o.OutcomeType, o.Summary, o.CreatedAt).Scan(&o.ID)
	if err == sql.ErrNoRows {
		// Outcome already recorded for this thread.
		return nil
	}
	return err
}

// ListThreadOutcomes returns recorded outcomes, newest first.
func (s *Store) ListThreadOutcomes(ctx context.Context) ([]*ThreadOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, outcome_type, summary, created_at
		 FROM thread_outcomes ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []*ThreadOutcome
	for rows.Next() {
		o := &ThreadOutcome{}
		if err := rows.Scan(&o.ID, &o.ThreadID, &o.OutcomeType, &o.Summary, &o.CreatedAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
