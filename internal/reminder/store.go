package reminder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store handles reminder persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a reminder store on an open database handle, running
// migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate reminders: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			text       TEXT NOT NULL,
			at         TEXT NOT NULL,
			every      TEXT,
			enabled    INTEGER NOT NULL DEFAULT 1,
			last_fired TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reminders_user_id ON reminders(user_id);
	`)
	return err
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		return uuid.New().String()
	}
	return id.String()
}

// Create persists a new reminder, assigning an ID when absent.
func (s *Store) Create(ctx context.Context, r *Reminder) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, user_id, text, at, every, enabled, last_fired, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.Text,
		r.At.Format(time.RFC3339Nano), everyString(r.Every), boolInt(r.Enabled),
		timePtrString(r.LastFired),
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// Get retrieves a reminder by ID. Returns nil, nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, text, at, every, enabled, last_fired, created_at, updated_at
		FROM reminders WHERE id = ?
	`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListForUser returns a user's reminders, soonest first.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, text, at, every, enabled, last_fired, created_at, updated_at
		FROM reminders WHERE user_id = ? ORDER BY at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// ListEnabled returns every enabled reminder across all users.
func (s *Store) ListEnabled(ctx context.Context) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, text, at, every, enabled, last_fired, created_at, updated_at
		FROM reminders WHERE enabled = 1 ORDER BY at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// Update rewrites a reminder's mutable fields.
func (s *Store) Update(ctx context.Context, r *Reminder) error {
	r.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET text = ?, at = ?, every = ?, enabled = ?, last_fired = ?, updated_at = ?
		WHERE id = ?
	`, r.Text, r.At.Format(time.RFC3339Nano), everyString(r.Every), boolInt(r.Enabled),
		timePtrString(r.LastFired), r.UpdatedAt.Format(time.RFC3339Nano), r.ID)
	return err
}

// Delete removes a reminder.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*Reminder, error) {
	var r Reminder
	var at, createdAt, updatedAt string
	var every, lastFired sql.NullString
	var enabled int

	err := row.Scan(&r.ID, &r.UserID, &r.Text, &at, &every, &enabled, &lastFired, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.At, _ = time.Parse(time.RFC3339Nano, at)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	r.Enabled = enabled == 1

	if every.Valid && every.String != "" {
		d, err := time.ParseDuration(every.String)
		if err != nil {
			return nil, fmt.Errorf("parse recurrence %q: %w", every.String, err)
		}
		r.Every = &Duration{Duration: d}
	}
	if lastFired.Valid && lastFired.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastFired.String)
		if err == nil {
			r.LastFired = &t
		}
	}
	return &r, nil
}

func collectReminders(rows *sql.Rows) ([]*Reminder, error) {
	var out []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func everyString(d *Duration) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func timePtrString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
