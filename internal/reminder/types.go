// Package reminder handles user reminders: one-shot and recurring
// deliveries of a short text at a chosen time.
package reminder

import (
	"time"
)

// Reminder is the definition of a scheduled delivery.
type Reminder struct {
	ID        string     `json:"id"`   // UUIDv7
	UserID    string     `json:"user_id"`
	Text      string     `json:"text"`
	At        time.Time  `json:"at"`              // First (or only) delivery time
	Every     *Duration  `json:"every,omitempty"` // Recurrence interval, nil for one-shot
	Enabled   bool       `json:"enabled"`
	LastFired *time.Time `json:"last_fired,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Duration wraps time.Duration for JSON serialization.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// NextRun calculates the next delivery time after the given instant.
// The second return is false when the reminder has no future runs.
func (r *Reminder) NextRun(after time.Time) (time.Time, bool) {
	if !r.Enabled {
		return time.Time{}, false
	}

	if r.Every == nil {
		if r.At.After(after) {
			return r.At, true
		}
		return time.Time{}, false // One-shot already passed
	}

	interval := r.Every.Duration
	if interval <= 0 {
		return time.Time{}, false
	}
	if r.At.After(after) {
		return r.At, true
	}
	elapsed := after.Sub(r.At)
	intervals := int64(elapsed/interval) + 1
	return r.At.Add(time.Duration(intervals) * interval), true
}

// DueToday reports whether the reminder's next run falls inside the
// calendar day containing now in loc. Used by the morning brief.
func (r *Reminder) DueToday(now time.Time, loc *time.Location) bool {
	next, ok := r.NextRun(now)
	if !ok {
		return false
	}
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	return !next.Before(dayStart) && next.Before(dayEnd)
}

// Line renders a reminder as a single digest line in the viewer's zone.
func (r *Reminder) Line(now time.Time, loc *time.Location) string {
	next, ok := r.NextRun(now)
	if !ok {
		return r.Text
	}
	return next.In(loc).Format("15:04") + " " + r.Text
}
