package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

const emailColumns = `id, thread_id, from_address, to_addresses, body_plain, body_html,
	is_sent, is_read, received_at, date, sentiment, urgency, action_required,
	security_score, attachments, created_at`

func scanEmail(row interface{ Scan(...interface{}) error }) (*Email, error) {
	e := &Email{}
	var toJSON []byte
	var attachJSON []byte
	err := row.Scan(&e.ID, &e.ThreadID, &e.FromAddress, &toJSON, &e.BodyPlain, &e.BodyHTML,
		&e.IsSent, &e.IsRead, &e.ReceivedAt, &e.Date, &e.Sentiment, &e.Urgency,
		&e.ActionRequired, &e.SecurityScore, &attachJSON, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(toJSON) > 0 {
		if err := json.Unmarshal(toJSON, &e.ToAddresses); err != nil {
			return nil, err
		}
	}
	if len(attachJSON) > 0 {
		_ = json.Unmarshal(attachJSON, &e.Attachments)
	}
	return e, nil
}

func unmarshalAttachments(data []byte, dst *[]Attachment) error {
	return json.Unmarshal(data, dst)
}

// GetEmail retrieves an email by ID. Returns (nil, nil) when missing.
func (s *Store) GetEmail(ctx context.Context, id int64) (*Email, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// CreateEmail inserts an email and recomputes the owning thread's
// security-score average and last-activity timestamp in one transaction.
func (s *Store) CreateEmail(ctx context.Context, e *Email) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	e.CreatedAt = time.Now().UTC()

	toJSON, err := json.Marshal(e.ToAddresses)
	if err != nil {
		return err
	}
	attachJSON, err := json.Marshal(e.Attachments)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO emails (thread_id, from_address, to_addresses, body_plain, body_html,
			is_sent, is_read, received_at, date, sentiment, urgency, action_required,
			security_score, attachments, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		e.ThreadID, e.FromAddress, toJSON, e.BodyPlain, e.BodyHTML,
		e.IsSent, e.IsRead, e.ReceivedAt, e.Date, e.Sentiment, e.Urgency,
		e.ActionRequired, e.SecurityScore, attachJSON, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return err
	}

	// Thread average is the mean over emails that carry a score.
	_, err = tx.ExecContext(ctx,
		`UPDATE threads SET
			security_score_avg = (SELECT AVG(security_score) FROM emails
				WHERE thread_id = $1 AND security_score IS NOT NULL),
			last_activity_at = $2
		 WHERE id = $1`,
		e.ThreadID, e.ReceivedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ListThreadEmails returns a thread's emails ordered by
// coalesce(date, received_at, created_at) ascending.
func (s *Store) ListThreadEmails(ctx context.Context, threadID int64) ([]*Email, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE thread_id = $1
		 ORDER BY COALESCE(date, received_at, created_at) ASC, id ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []*Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// MarkEmailRead flips the read flag.
func (s *Store) MarkEmailRead(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE emails SET is_read = TRUE WHERE id = $1`, id)
	return err
}

// CountUnread returns the number of unread received emails.
func (s *Store) CountUnread(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE is_read = FALSE AND is_sent = FALSE`).Scan(&n)
	return n, err
}

// LastSyncTime returns the newest received-at across all emails, or nil
// when no emails exist.
func (s *Store) LastSyncTime(ctx context.Context) (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(received_at) FROM emails`).Scan(&t)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

// CountActivitySince returns received/sent counts over the given window,
// for the activity digest.
func (s *Store) CountActivitySince(ctx context.Context, since time.Time) (received, sent int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE is_sent = FALSE),
			COUNT(*) FILTER (WHERE is_sent = TRUE)
		 FROM emails WHERE received_at >= $1`, since).Scan(&received, &sent)
	return
}
