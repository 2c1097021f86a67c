package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
)

// Store provides database operations for GhostPost entities.
// The database is the sole authority for entity state; everything the
// projector writes to disk is derived from it.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store on an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transaction-scoped callers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// GetSetting returns the raw string value for a key, and whether a row exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// GetSettingDefault returns the setting value, or def when no row exists.
func (s *Store) GetSettingDefault(ctx context.Context, key, def string) (string, error) {
	v, ok, err := s.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return def, nil
	}
	return v, nil
}

// GetSettingBool parses a boolean setting. Accepted true spellings are
// "true", "1" and "yes", case-insensitive; anything else is false.
// When no row exists, def is returned.
func (s *Store) GetSettingBool(ctx context.Context, key string, def bool) (bool, error) {
	v, ok, err := s.GetSetting(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return ParseBoolSetting(v), nil
}

// GetSettingList parses a JSON-array setting into a string slice.
// A missing row or empty value yields an empty slice.
func (s *Store) GetSettingList(ctx context.Context, key string) ([]string, error) {
	v, ok, err := s.GetSetting(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || v == "" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(v), &list); err != nil {
		return []string{}, nil // malformed setting treated as absent
	}
	return list, nil
}

// SetSetting upserts a key/value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

// ParseBoolSetting implements the shared boolean-setting grammar.
func ParseBoolSetting(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
