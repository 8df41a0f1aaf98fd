package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Counter is one (user, kind) consumption window.
type Counter struct {
	UserID      string
	Kind        string
	Calls       int
	WindowStart time.Time
}

// Store persists budget counters in SQLite, separate from user
// settings. Counters are created implicitly and never deleted; an
// expired window is reset in place on the next consume.
type Store struct {
	db *sql.DB
}

// NewStore creates a counter store on an open database handle, running
// migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate budget counters: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS budget_counters (
			user_id      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			calls        INTEGER NOT NULL,
			window_start TEXT NOT NULL,
			PRIMARY KEY (user_id, kind)
		)
	`)
	return err
}

// Counter loads one counter, returning nil (no error) when the user
// has never consumed this kind.
func (s *Store) Counter(ctx context.Context, userID, kind string) (*Counter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT calls, window_start FROM budget_counters WHERE user_id = ? AND kind = ?`,
		userID, kind)

	c := &Counter{UserID: userID, Kind: kind}
	var start string
	err := row.Scan(&c.Calls, &start)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load budget counter: %w", err)
	}

	c.WindowStart, err = time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return nil, fmt.Errorf("parse window start for %s/%s: %w", userID, kind, err)
	}
	return c, nil
}

// SaveCounter upserts a counter.
func (s *Store) SaveCounter(ctx context.Context, c *Counter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_counters (user_id, kind, calls, window_start)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, kind) DO UPDATE SET
			calls = excluded.calls,
			window_start = excluded.window_start`,
		c.UserID, c.Kind, c.Calls,
		c.WindowStart.UTC().Format(time.RFC3339Nano))
	return err
}
