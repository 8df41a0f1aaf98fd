// Package profile persists per-user settings: timezone, quiet hours,
// budget ceiling overrides, digest opt-ins, topics, and the handful of
// free-form knobs the watchers and capabilities read.
//
// The store holds user-editable configuration only. System-written
// state (budget counters, digest caches, delivery timestamps) lives in
// its own tables so a settings update can never clobber a cache write
// from the same turn, and vice versa.
package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxLocationLen bounds the free-form weather location string.
const MaxLocationLen = 80

// MaxTopics bounds the configured topic list.
const MaxTopics = 12

// Record is one user's settings. A missing user reads as DefaultRecord.
type Record struct {
	UserID   string
	Timezone string

	// Quiet hours are local hours of day in [0,23]. The window may
	// cross midnight (start > end). start == end means no quiet hours.
	QuietStart  int
	QuietEnd    int
	QuietAllDay bool

	// Ceilings maps a budget resource kind to a raw override string.
	// Parsing and clamping happen in the budget package; anything
	// unparsable silently falls back to the system default there.
	Ceilings map[string]string

	BriefEnabled bool
	NewsEnabled  bool
	IdeasEnabled bool

	Topics []string

	// NewsCadenceHours is the minimum gap between news digests.
	// Zero disables the news watcher for this user.
	NewsCadenceHours int

	WeatherLocation string
	IdeaNiche       string

	UpdatedAt time.Time
}

// Patch is a partial update. Nil fields are left unchanged. Ceilings
// merges by key; an empty value removes the override.
type Patch struct {
	Timezone         *string
	QuietStart       *int
	QuietEnd         *int
	QuietAllDay      *bool
	Ceilings         map[string]string
	BriefEnabled     *bool
	NewsEnabled      *bool
	IdeasEnabled     *bool
	Topics           *[]string
	NewsCadenceHours *int
	WeatherLocation  *string
	IdeaNiche        *string
}

// Store is a SQLite-backed keyed store of user records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db        *sql.DB
	defaultTZ string
}

// NewStore creates a profile store on an open database handle, running
// migrations on first use. defaultTZ seeds the timezone of records
// created implicitly on first read.
func NewStore(db *sql.DB, defaultTZ string) (*Store, error) {
	if defaultTZ == "" {
		defaultTZ = "UTC"
	}
	s := &Store{db: db, defaultTZ: defaultTZ}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate profiles: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS user_profiles (
			user_id        TEXT PRIMARY KEY,
			timezone       TEXT NOT NULL,
			quiet_start    INTEGER NOT NULL DEFAULT 0,
			quiet_end      INTEGER NOT NULL DEFAULT 0,
			quiet_all_day  INTEGER NOT NULL DEFAULT 0,
			ceilings       TEXT NOT NULL DEFAULT '{}',
			brief_enabled  INTEGER NOT NULL DEFAULT 1,
			news_enabled   INTEGER NOT NULL DEFAULT 1,
			ideas_enabled  INTEGER NOT NULL DEFAULT 0,
			topics         TEXT NOT NULL DEFAULT '[]',
			news_cadence_h INTEGER NOT NULL DEFAULT 6,
			weather_loc    TEXT NOT NULL DEFAULT '',
			idea_niche     TEXT NOT NULL DEFAULT '',
			updated_at     TEXT NOT NULL
		)
	`)
	return err
}

// DefaultRecord returns the settings a brand-new user starts with.
func (s *Store) DefaultRecord(userID string) *Record {
	return &Record{
		UserID:           userID,
		Timezone:         s.defaultTZ,
		Ceilings:         map[string]string{},
		BriefEnabled:     true,
		NewsEnabled:      true,
		NewsCadenceHours: 6,
	}
}

// Get loads a user's record, creating and persisting the default on
// first use so that subsequent ListUsers calls see the user.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	rec, err := s.load(ctx, userID)
	if err == sql.ErrNoRows {
		rec = s.DefaultRecord(userID)
		if err := s.save(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies a partial patch to a user's record with a single
// read-modify-write. Out-of-range values are clamped rather than
// rejected so a conversational settings change never hard-fails.
func (s *Store) Update(ctx context.Context, userID string, p Patch) (*Record, error) {
	rec, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if p.Timezone != nil {
		if _, err := time.LoadLocation(*p.Timezone); err != nil {
			return nil, fmt.Errorf("unknown timezone %q", *p.Timezone)
		}
		rec.Timezone = *p.Timezone
	}
	if p.QuietStart != nil {
		rec.QuietStart = clampHour(*p.QuietStart)
	}
	if p.QuietEnd != nil {
		rec.QuietEnd = clampHour(*p.QuietEnd)
	}
	if p.QuietAllDay != nil {
		rec.QuietAllDay = *p.QuietAllDay
	}
	for kind, raw := range p.Ceilings {
		if raw == "" {
			delete(rec.Ceilings, kind)
			continue
		}
		if rec.Ceilings == nil {
			rec.Ceilings = map[string]string{}
		}
		rec.Ceilings[kind] = raw
	}
	if p.BriefEnabled != nil {
		rec.BriefEnabled = *p.BriefEnabled
	}
	if p.NewsEnabled != nil {
		rec.NewsEnabled = *p.NewsEnabled
	}
	if p.IdeasEnabled != nil {
		rec.IdeasEnabled = *p.IdeasEnabled
	}
	if p.Topics != nil {
		topics := *p.Topics
		if len(topics) > MaxTopics {
			topics = topics[:MaxTopics]
		}
		rec.Topics = topics
	}
	if p.NewsCadenceHours != nil {
		h := *p.NewsCadenceHours
		if h < 0 {
			h = 0
		}
		rec.NewsCadenceHours = h
	}
	if p.WeatherLocation != nil {
		loc := strings.TrimSpace(*p.WeatherLocation)
		if len(loc) > MaxLocationLen {
			loc = loc[:MaxLocationLen]
		}
		rec.WeatherLocation = loc
	}
	if p.IdeaNiche != nil {
		rec.IdeaNiche = strings.TrimSpace(*p.IdeaNiche)
	}

	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListUsers returns all known user IDs in creation order. This is the
// enumeration the watcher tick depends on; an error here aborts the
// whole tick.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM user_profiles ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Location resolves the record's timezone, falling back to UTC when
// the stored name no longer loads.
func (r *Record) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s *Store) load(ctx context.Context, userID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timezone, quiet_start, quiet_end, quiet_all_day, ceilings,
		       brief_enabled, news_enabled, ideas_enabled, topics,
		       news_cadence_h, weather_loc, idea_niche, updated_at
		FROM user_profiles WHERE user_id = ?`, userID)

	rec := &Record{UserID: userID}
	var ceilings, topics, updated string
	err := row.Scan(&rec.Timezone, &rec.QuietStart, &rec.QuietEnd,
		&rec.QuietAllDay, &ceilings, &rec.BriefEnabled, &rec.NewsEnabled,
		&rec.IdeasEnabled, &topics, &rec.NewsCadenceHours,
		&rec.WeatherLocation, &rec.IdeaNiche, &updated)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ceilings), &rec.Ceilings); err != nil {
		return nil, fmt.Errorf("decode ceilings for %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(topics), &rec.Topics); err != nil {
		return nil, fmt.Errorf("decode topics for %s: %w", userID, err)
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return rec, nil
}

func (s *Store) save(ctx context.Context, rec *Record) error {
	ceilings, err := json.Marshal(rec.Ceilings)
	if err != nil {
		return err
	}
	if rec.Topics == nil {
		rec.Topics = []string{}
	}
	topics, err := json.Marshal(rec.Topics)
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles
			(user_id, timezone, quiet_start, quiet_end, quiet_all_day,
			 ceilings, brief_enabled, news_enabled, ideas_enabled,
			 topics, news_cadence_h, weather_loc, idea_niche, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			timezone = excluded.timezone,
			quiet_start = excluded.quiet_start,
			quiet_end = excluded.quiet_end,
			quiet_all_day = excluded.quiet_all_day,
			ceilings = excluded.ceilings,
			brief_enabled = excluded.brief_enabled,
			news_enabled = excluded.news_enabled,
			ideas_enabled = excluded.ideas_enabled,
			topics = excluded.topics,
			news_cadence_h = excluded.news_cadence_h,
			weather_loc = excluded.weather_loc,
			idea_niche = excluded.idea_niche,
			updated_at = excluded.updated_at`,
		rec.UserID, rec.Timezone, rec.QuietStart, rec.QuietEnd,
		rec.QuietAllDay, string(ceilings), rec.BriefEnabled,
		rec.NewsEnabled, rec.IdeasEnabled, string(topics),
		rec.NewsCadenceHours, rec.WeatherLocation, rec.IdeaNiche,
		rec.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save profile %s: %w", rec.UserID, err)
	}
	return nil
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}
