// Package budget gates costly external calls behind a per-user,
// per-resource-kind consume-or-deny ledger with time-windowed resets.
//
// Every counter lives in SQLite and is read-modify-written under an
// in-process mutex, which satisfies the at-most-one-writer-per-user
// assumption this design runs on. Two concurrent processes could each
// slip one call past the ceiling; that race is accepted rather than
// papered over with cross-process locking. Windows are measured in
// wall-clock time and are therefore vulnerable to clock adjustments.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/valetlabs/valet/internal/profile"
)

// Resource kinds with their own ceilings and windows.
const (
	KindSearch  = "search"
	KindSocial  = "social"
	KindIdeas   = "ideas"
	KindWeather = "weather"
)

// Kind describes one budgeted resource.
type Kind struct {
	Name           string
	Window         time.Duration
	DefaultCeiling int
}

// kinds is the fixed resource catalog. Ceilings are user-overridable
// within [MinCeiling, MaxCeiling]; windows are not.
var kinds = map[string]Kind{
	KindSearch:  {Name: KindSearch, Window: 24 * time.Hour, DefaultCeiling: 25},
	KindSocial:  {Name: KindSocial, Window: time.Hour, DefaultCeiling: 10},
	KindIdeas:   {Name: KindIdeas, Window: 24 * time.Hour, DefaultCeiling: 5},
	KindWeather: {Name: KindWeather, Window: 24 * time.Hour, DefaultCeiling: 24},
}

// Ceiling override bounds.
const (
	MinCeiling = 1
	MaxCeiling = 100
)

// Decision is the outcome of a CheckAndConsume call. A denial is not
// an error: Reason is a human-readable sentence naming the ceiling,
// suitable for inclusion in a rendered message.
type Decision struct {
	Allowed bool
	Reason  string
}

// ProfileSource supplies per-user ceiling overrides. *profile.Store
// satisfies it.
type ProfileSource interface {
	Get(ctx context.Context, userID string) (*profile.Record, error)
}

// Ledger answers "is this user allowed one more call of this resource
// kind right now" and records the consumption when the answer is yes.
type Ledger struct {
	store    *Store
	profiles ProfileSource
	logger   *slog.Logger

	mu  sync.Mutex // serializes check-then-increment in-process
	now func() time.Time
}

// NewLedger creates a budget ledger.
func NewLedger(store *Store, profiles ProfileSource, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:    store,
		profiles: profiles,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckAndConsume loads the user's counter for kind, resets it if its
// window has elapsed, and either consumes one call (persisting the new
// count) or denies without mutating anything.
func (l *Ledger) CheckAndConsume(ctx context.Context, userID, kind string) (Decision, error) {
	k, ok := kinds[kind]
	if !ok {
		return Decision{}, fmt.Errorf("unknown budget kind %q", kind)
	}

	rec, err := l.profiles.Get(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("load profile for budget check: %w", err)
	}
	ceiling := resolveCeiling(rec.Ceilings[kind], k.DefaultCeiling)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, err := l.store.Counter(ctx, userID, kind)
	if err != nil {
		return Decision{}, err
	}
	if c == nil {
		c = &Counter{UserID: userID, Kind: kind, WindowStart: now}
	}

	// An expired window reads as zero before the check.
	if now.Sub(c.WindowStart) >= k.Window {
		c.Calls = 0
		c.WindowStart = now
	}

	if c.Calls >= ceiling {
		l.logger.Debug("budget denied",
			"user", userID,
			"kind", kind,
			"calls", c.Calls,
			"ceiling", ceiling,
		)
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("budget reached: %d %s calls per %s used up, resets %s",
				ceiling, kind, windowLabel(k.Window),
				c.WindowStart.Add(k.Window).Format("15:04 MST")),
		}, nil
	}

	c.Calls++
	if err := l.store.SaveCounter(ctx, c); err != nil {
		return Decision{}, fmt.Errorf("persist budget counter: %w", err)
	}

	l.logger.Debug("budget consumed",
		"user", userID,
		"kind", kind,
		"calls", c.Calls,
		"ceiling", ceiling,
	)
	return Decision{Allowed: true}, nil
}

// Remaining reports how many calls are left in the current window
// without consuming. Used by the usage-report capability.
func (l *Ledger) Remaining(ctx context.Context, userID, kind string) (int, error) {
	k, ok := kinds[kind]
	if !ok {
		return 0, fmt.Errorf("unknown budget kind %q", kind)
	}
	rec, err := l.profiles.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	ceiling := resolveCeiling(rec.Ceilings[kind], k.DefaultCeiling)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.store.Counter(ctx, userID, kind)
	if err != nil {
		return 0, err
	}
	if c == nil || l.now().Sub(c.WindowStart) >= k.Window {
		return ceiling, nil
	}
	rem := ceiling - c.Calls
	if rem < 0 {
		rem = 0
	}
	return rem, nil
}

// Kinds returns the resource catalog in stable order.
func Kinds() []Kind {
	return []Kind{kinds[KindSearch], kinds[KindSocial], kinds[KindIdeas], kinds[KindWeather]}
}

// resolveCeiling parses a raw user override, clamps it to
// [MinCeiling, MaxCeiling], and falls back to def when the override is
// absent or not a finite number.
func resolveCeiling(raw string, def int) int {
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	// Clamp while still a float: converting an out-of-range float64 to
	// int is implementation-defined.
	if f < MinCeiling {
		return MinCeiling
	}
	if f > MaxCeiling {
		return MaxCeiling
	}
	return int(f)
}

func windowLabel(d time.Duration) string {
	if d == 24*time.Hour {
		return "day"
	}
	if d == time.Hour {
		return "hour"
	}
	return d.String()
}
