package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

const threadColumns = `id, subject, state, priority, category, summary, goal,
	acceptance_criteria, goal_status, playbook, auto_reply_mode, follow_up_days,
	next_follow_up_date, security_score_avg, last_activity_at, notes, created_at`

func scanThread(row interface{ Scan(...interface{}) error }) (*Thread, error) {
	t := &Thread{}
	err := row.Scan(&t.ID, &t.Subject, &t.State, &t.Priority, &t.Category, &t.Summary,
		&t.Goal, &t.AcceptanceCriteria, &t.GoalStatus, &t.Playbook, &t.AutoReplyMode,
		&t.FollowUpDays, &t.NextFollowUpDate, &t.SecurityScoreAvg, &t.LastActivityAt,
		&t.Notes, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetThread retrieves a thread by ID. Returns (nil, nil) when missing.
func (s *Store) GetThread(ctx context.Context, id int64) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = $1`, id)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// GetThreadWithEmails loads a thread and its ordered emails.
func (s *Store) GetThreadWithEmails(ctx context.Context, id int64) (*Thread, error) {
	t, err := s.GetThread(ctx, id)
	if err != nil || t == nil {
		return t, err
	}
	t.Emails, err = s.ListThreadEmails(ctx, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateThread inserts a new thread in state NEW.
func (s *Store) CreateThread(ctx context.Context, t *Thread) error {
	if t.State == "" {
		t.State = StateNew
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	if t.AutoReplyMode == "" {
		t.AutoReplyMode = AutoReplyOff
	}
	if t.FollowUpDays == 0 {
		t.FollowUpDays = 3
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	if t.LastActivityAt.IsZero() {
		t.LastActivityAt = now
	}
	return s.db.QueryRowContext(ctx,
		`INSERT INTO threads (subject, state, priority, category, summary, goal,
			acceptance_criteria, goal_status, playbook, auto_reply_mode, follow_up_days,
			next_follow_up_date, security_score_avg, last_activity_at, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id`,
		t.Subject, t.State, t.Priority, t.Category, t.Summary, t.Goal,
		t.AcceptanceCriteria, t.GoalStatus, t.Playbook, t.AutoReplyMode, t.FollowUpDays,
		t.NextFollowUpDate, t.SecurityScoreAvg, t.LastActivityAt, t.Notes, t.CreatedAt,
	).Scan(&t.ID)
}

// UpdateThreadState sets the state and optionally the follow-up date.
// Terminal states always clear next_follow_up_date.
func (s *Store) UpdateThreadState(ctx context.Context, id int64, state ThreadState, nextFollowUp *time.Time) error {
	if state.IsTerminal() {
		nextFollowUp = nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET state = $2, next_follow_up_date = $3 WHERE id = $1`,
		id, state, nextFollowUp)
	return err
}

// UpdateThreadGoal sets goal fields. goalStatus must be nil when goal is nil.
func (s *Store) UpdateThreadGoal(ctx context.Context, id int64, goal, criteria, goalStatus *string) error {
	if goal == nil {
		goalStatus = nil
		criteria = nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET goal = $2, acceptance_criteria = $3, goal_status = $4 WHERE id = $1`,
		id, goal, criteria, goalStatus)
	return err
}

// UpdateThreadMeta updates the mutable descriptive fields.
func (s *Store) UpdateThreadMeta(ctx context.Context, id int64, priority, category, summary, notes string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET priority = $2, category = $3, summary = $4, notes = $5 WHERE id = $1`,
		id, priority, category, summary, notes)
	return err
}

// SetAutoReplyMode updates the auto-reply mode.
func (s *Store) SetAutoReplyMode(ctx context.Context, id int64, mode string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET auto_reply_mode = $2 WHERE id = $1`, id, mode)
	return err
}

// SetPlaybook assigns or clears the thread's playbook.
func (s *Store) SetPlaybook(ctx context.Context, id int64, playbook *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET playbook = $2 WHERE id = $1`, id, playbook)
	return err
}

// threadsWhere runs a filtered thread query. Threads with no emails are
// invalid per the data model and are filtered out here.
func (s *Store) threadsWhere(ctx context.Context, where string, args ...interface{}) ([]*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads t
		WHERE EXISTS (SELECT 1 FROM emails e WHERE e.thread_id = t.id)`
	if where != "" {
		query += ` AND ` + where
	}
	query += ` ORDER BY last_activity_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// ListThreadsByState returns non-empty threads in the given state.
func (s *Store) ListThreadsByState(ctx context.Context, state ThreadState) ([]*Thread, error) {
	return s.threadsWhere(ctx, `t.state = $1`, state)
}

// ListNonArchivedThreads returns all live threads, newest activity first.
func (s *Store) ListNonArchivedThreads(ctx context.Context, limit int) ([]*Thread, error) {
	threads, err := s.threadsWhere(ctx, `t.state <> $1`, StateArchived)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// ListOverdueThreads returns threads whose follow-up date has passed and
// that are still awaiting a reply or follow-up.
func (s *Store) ListOverdueThreads(ctx context.Context, now time.Time) ([]*Thread, error) {
	return s.threadsWhere(ctx,
		`t.next_follow_up_date IS NOT NULL AND t.next_follow_up_date <= $1
		 AND t.state IN ($2, $3)`,
		now, StateWaitingReply, StateFollowUp)
}

// ListGoalThreads returns active threads with an in-progress goal.
func (s *Store) ListGoalThreads(ctx context.Context) ([]*Thread, error) {
	return s.threadsWhere(ctx,
		`t.goal IS NOT NULL AND t.goal_status = $1 AND t.state NOT IN ($2, $3)`,
		GoalInProgress, StateGoalMet, StateArchived)
}

// CountThreadsByState returns totals keyed by state, excluding empty threads.
func (s *Store) CountThreadsByState(ctx context.Context) (map[ThreadState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.state, COUNT(*) FROM threads t
		 WHERE EXISTS (SELECT 1 FROM emails e WHERE e.thread_id = t.id)
		 GROUP BY t.state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[ThreadState]int)
	for rows.Next() {
		var state ThreadState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// ListAllThreadsWithEmails eagerly loads every non-empty thread and its
// emails using a single joined query, for the bulk projector.
func (s *Store) ListAllThreadsWithEmails(ctx context.Context) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.subject, t.state, t.priority, t.category, t.summary, t.goal,
			t.acceptance_criteria, t.goal_status, t.playbook, t.auto_reply_mode,
			t.follow_up_days, t.next_follow_up_date, t.security_score_avg,
			t.last_activity_at, t.notes, t.created_at,
			e.id, e.thread_id, e.from_address, e.to_addresses, e.body_plain, e.body_html,
			e.is_sent, e.is_read, e.received_at, e.date, e.sentiment, e.urgency,
			e.action_required, e.security_score, e.attachments, e.created_at
		 FROM threads t
		 JOIN emails e ON e.thread_id = t.id
		 ORDER BY t.id ASC, COALESCE(e.date, e.received_at, e.created_at) ASC, e.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []*Thread
	byID := make(map[int64]*Thread)
	for rows.Next() {
		t := &Thread{}
		e := &Email{}
		var toJSON, attachJSON []byte
		err := rows.Scan(&t.ID, &t.Subject, &t.State, &t.Priority, &t.Category, &t.Summary,
			&t.Goal, &t.AcceptanceCriteria, &t.GoalStatus, &t.Playbook, &t.AutoReplyMode,
			&t.FollowUpDays, &t.NextFollowUpDate, &t.SecurityScoreAvg, &t.LastActivityAt,
			&t.Notes, &t.CreatedAt,
			&e.ID, &e.ThreadID, &e.FromAddress, &toJSON, &e.BodyPlain, &e.BodyHTML,
			&e.IsSent, &e.IsRead, &e.ReceivedAt, &e.Date, &e.Sentiment, &e.Urgency,
			&e.ActionRequired, &e.SecurityScore, &attachJSON, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		if len(toJSON) > 0 {
			if err := e.ToAddresses.UnmarshalJSON(toJSON); err != nil {
				return nil, err
			}
		}
		if len(attachJSON) > 0 {
			_ = unmarshalAttachments(attachJSON, &e.Attachments)
		}

		existing, ok := byID[t.ID]
		if !ok {
			byID[t.ID] = t
			threads = append(threads, t)
			existing = t
		}
		existing.Emails = append(existing.Emails, e)
	}
	return threads, rows.Err()
}

// FindThreadBySubject matches an existing thread for inbound assignment:
// normalized subject plus participant overlap, newest activity first. The
// participant check keeps unrelated senders who reuse a common subject
// ("Hello") out of each other's threads.
func (s *Store) FindThreadBySubject(ctx context.Context, normalizedSubject, participant string) (*Thread, error) {
	member, err := json.Marshal([]string{strings.ToLower(strings.TrimSpace(participant))})
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads t
		 WHERE LOWER(t.subject) = LOWER($1) AND t.state <> $2
		   AND EXISTS (
			SELECT 1 FROM emails e
			WHERE e.thread_id = t.id
			  AND (LOWER(e.from_address) = LOWER($3) OR e.to_addresses @> $4)
		   )
		 ORDER BY t.last_activity_at DESC LIMIT 1`,
		normalizedSubject, StateArchived, participant, member)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}
