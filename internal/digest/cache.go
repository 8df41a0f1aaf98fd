package digest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Digest kinds and their cache freshness policies. The brief requires
// bullets captured today in the viewer's timezone; news only bounds age.
const (
	KindBrief = "brief"
	KindNews  = "news"
	KindIdeas = "ideas"

	BriefMaxAge = 24 * time.Hour
	NewsMaxAge  = 6 * time.Hour
)

// Entry is one cached digest for a (user, kind) pair. Entries are
// overwritten on every successful live fetch and never evicted.
type Entry struct {
	UserID     string
	Kind       string
	Topics     []string
	Items      []string // rendered bullets, in rank order at capture
	CapturedAt time.Time
	DayKey     string // local calendar day at capture
}

// Cache is the SQLite-backed digest cache plus the delivery log the
// watchers' inter-send guard reads. Both are system-written; user
// settings live in the profile store.
type Cache struct {
	db *sql.DB
}

// NewCache creates the cache on an open database handle, running
// migrations on first use.
func NewCache(db *sql.DB) (*Cache, error) {
	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		return nil, fmt.Errorf("migrate digest cache: %w", err)
	}
	return c, nil
}

func (c *Cache) migrate() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS digest_cache (
			user_id     TEXT NOT NULL,
			kind        TEXT NOT NULL,
			topics      TEXT NOT NULL DEFAULT '[]',
			items       TEXT NOT NULL DEFAULT '[]',
			captured_at TEXT NOT NULL,
			day_key     TEXT NOT NULL,
			PRIMARY KEY (user_id, kind)
		);
		CREATE TABLE IF NOT EXISTS delivery_log (
			user_id TEXT NOT NULL,
			kind    TEXT NOT NULL,
			sent_at TEXT NOT NULL,
			PRIMARY KEY (user_id, kind)
		);
	`)
	return err
}

// Put overwrites the entry for (user, kind). CapturedAt and DayKey are
// taken from the entry as given so callers control the clock.
func (c *Cache) Put(ctx context.Context, e *Entry) error {
	topics, err := json.Marshal(orEmpty(e.Topics))
	if err != nil {
		return err
	}
	items, err := json.Marshal(orEmpty(e.Items))
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO digest_cache (user_id, kind, topics, items, captured_at, day_key)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, kind) DO UPDATE SET
			topics = excluded.topics,
			items = excluded.items,
			captured_at = excluded.captured_at,
			day_key = excluded.day_key`,
		e.UserID, e.Kind, string(topics), string(items),
		e.CapturedAt.UTC().Format(time.RFC3339Nano), e.DayKey)
	if err != nil {
		return fmt.Errorf("cache digest %s/%s: %w", e.UserID, e.Kind, err)
	}
	return nil
}

// Get loads the entry for (user, kind), returning nil when absent.
func (c *Cache) Get(ctx context.Context, userID, kind string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT topics, items, captured_at, day_key
		FROM digest_cache WHERE user_id = ? AND kind = ?`, userID, kind)

	e := &Entry{UserID: userID, Kind: kind}
	var topics, items, captured string
	err := row.Scan(&topics, &items, &captured, &e.DayKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load digest cache %s/%s: %w", userID, kind, err)
	}

	if err := json.Unmarshal([]byte(topics), &e.Topics); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &e.Items); err != nil {
		return nil, err
	}
	// Deliberately tolerant: an unparsable timestamp leaves CapturedAt
	// zero, which FreshBullets treats as stale.
	e.CapturedAt, _ = time.Parse(time.RFC3339Nano, captured)
	return e, nil
}

// LastSent returns when a digest kind was last delivered to a user,
// or the zero time when it never was.
func (c *Cache) LastSent(ctx context.Context, userID, kind string) (time.Time, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT sent_at FROM delivery_log WHERE user_id = ? AND kind = ?`,
		userID, kind)
	var raw string
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load delivery log %s/%s: %w", userID, kind, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// SetLastSent records a successful delivery. Last write wins, which is
// the coordination model this design promises across instances.
func (c *Cache) SetLastSent(ctx context.Context, userID, kind string, at time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO delivery_log (user_id, kind, sent_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, kind) DO UPDATE SET sent_at = excluded.sent_at`,
		userID, kind, at.UTC().Format(time.RFC3339Nano))
	return err
}

// FreshBullets decides whether a cached entry is still usable from the
// viewer's perspective and returns up to maxItems of its bullets.
// It returns nothing when:
//   - the entry is nil, has no items, or has an invalid capture time;
//   - the entry is older than maxAge;
//   - sameDayOnly is set and the capture's calendar day, recomputed in
//     the viewing timezone, is not today's. This guards against
//     showing "today" bullets captured yesterday across a timezone
//     boundary.
func FreshBullets(e *Entry, loc *time.Location, now time.Time, maxItems int, maxAge time.Duration, sameDayOnly bool) []string {
	if e == nil || len(e.Items) == 0 || e.CapturedAt.IsZero() {
		return nil
	}
	if now.Sub(e.CapturedAt) > maxAge {
		return nil
	}
	if sameDayOnly && DayKey(e.CapturedAt, loc) != DayKey(now, loc) {
		return nil
	}
	items := e.Items
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
