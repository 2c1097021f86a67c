package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

const contactColumns = `id, email, name, relationship_type, preferred_style,
	frequency, topics, last_interaction, notes, created_at`

func scanContact(row interface{ Scan(...interface{}) error }) (*Contact, error) {
	c := &Contact{}
	err := row.Scan(&c.ID, &c.Email, &c.Name, &c.RelationshipType, &c.PreferredStyle,
		&c.Frequency, &c.Topics, &c.LastInteraction, &c.Notes, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetContactByEmail retrieves a contact by address, case-insensitive.
// Returns (nil, nil) when unknown.
func (s *Store) GetContactByEmail(ctx context.Context, email string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE LOWER(email) = LOWER($1)`,
		strings.TrimSpace(email))
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// UpsertContact creates or refreshes a contact row keyed by address.
func (s *Store) UpsertContact(ctx context.Context, c *Contact) error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	return s.db.QueryRowContext(ctx,
		`INSERT INTO contacts (email, name, relationship_type, preferred_style,
			frequency, topics, last_interaction, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), contacts.name),
			last_interaction = EXCLUDED.last_interaction
		 RETURNING id`,
		c.Email, c.Name, c.RelationshipType, c.PreferredStyle,
		c.Frequency, c.Topics, c.LastInteraction, c.Notes, c.CreatedAt).Scan(&c.ID)
}

// TouchContact records an interaction time for a known address; unknown
// addresses are ignored.
func (s *Store) TouchContact(ctx context.Context, email string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET last_interaction = $2 WHERE LOWER(email) = LOWER($1)`,
		strings.TrimSpace(email), at)
	return err
}

// ListContacts returns all contacts ordered by address.
func (s *Store) ListContacts(ctx context.Context) ([]*Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts ORDER BY email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
