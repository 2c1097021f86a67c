package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

const draftColumns = `id, thread_id, to_addresses, subject, body, status, created_at`

func scanDraft(row interface{ Scan(...interface{}) error }) (*Draft, error) {
	d := &Draft{}
	var toJSON []byte
	err := row.Scan(&d.ID, &d.ThreadID, &toJSON, &d.Subject, &d.Body, &d.Status, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(toJSON) > 0 {
		if err := json.Unmarshal(toJSON, &d.To); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// CreateDraft inserts a pending draft.
func (s *Store) CreateDraft(ctx context.Context, d *Draft) error {
	if d.Status == "" {
		d.Status = DraftPending
	}
	d.CreatedAt = time.Now().UTC()
	toJSON, err := json.Marshal(d.To)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx,
		`INSERT INTO drafts (thread_id, to_addresses, subject, body, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		d.ThreadID, toJSON, d.Subject, d.Body, d.Status, d.CreatedAt).Scan(&d.ID)
}

// GetDraft retrieves a draft by ID. Returns (nil, nil) when missing.
func (s *Store) GetDraft(ctx context.Context, id int64) (*Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE id = $1`, id)
	d, err := scanDraft(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ListPendingDrafts returns pending drafts oldest first.
func (s *Store) ListPendingDrafts(ctx context.Context) ([]*Draft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE status = $1 ORDER BY created_at ASC`,
		DraftPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []*Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// UpdateDraftStatus moves a draft through its approval lifecycle.
func (s *Store) UpdateDraftStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status = $2 WHERE id = $1`, id, status)
	return err
}

// CountPendingDrafts returns the number of drafts awaiting approval.
func (s *Store) CountPendingDrafts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM drafts WHERE status = $1`, DraftPending).Scan(&n)
	return n, err
}
