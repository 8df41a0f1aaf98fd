// Package watcher runs the scheduled digests: the daily brief, the
// news pulse, and the weekly idea spark. Each digest kind has one cron
// entry; a tick walks every known user, applies the eligibility gates,
// builds the digest from live data with cached and templated
// fallbacks, and delivers it over the configured transport.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/valetlabs/valet/internal/budget"
	"github.com/valetlabs/valet/internal/calendar"
	"github.com/valetlabs/valet/internal/config"
	"github.com/valetlabs/valet/internal/digest"
	"github.com/valetlabs/valet/internal/llm"
	"github.com/valetlabs/valet/internal/profile"
	"github.com/valetlabs/valet/internal/reminder"
	"github.com/valetlabs/valet/internal/search"
	"github.com/valetlabs/valet/internal/social"
	"github.com/valetlabs/valet/internal/transport"
	"github.com/valetlabs/valet/internal/weather"
)

// briefResendGuard keeps a brief from going out twice for the same
// morning while staying robust to cron drift (a 24h guard would skip
// a day when the tick fires a minute early).
const briefResendGuard = 23 * time.Hour

// tickTimeout bounds one full tick across all users.
const tickTimeout = 5 * time.Minute

// Deps are the collaborators a watcher tick draws on. Profiles, Cache,
// Ledger, and Transport are required; the rest degrade to section
// fallbacks when nil.
type Deps struct {
	Logger    *slog.Logger
	Profiles  *profile.Store
	Ledger    *budget.Ledger
	Cache     *digest.Cache
	Search    *search.Manager
	Social    social.Client
	Weather   weather.Source
	Calendar  calendar.Source
	Reminders *reminder.Engine
	LLM       llm.Client
	Model     string
	Transport transport.Transport
}

// Engine owns the cron schedule and the per-tick processing.
type Engine struct {
	logger *slog.Logger
	deps   Deps
	cron   *cron.Cron
	now    func() time.Time
}

// NewEngine creates a watcher engine. Nothing runs until Start.
func NewEngine(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Engine{
		logger: d.Logger,
		deps:   d,
		now:    time.Now,
	}
}

// Start registers one cron entry per digest kind and starts the
// schedule. Specs use robfig/cron syntax including descriptors.
func (e *Engine) Start(cfg config.WatchersConfig) error {
	e.cron = cron.New()

	entries := []struct {
		kind string
		spec string
	}{
		{digest.KindBrief, cfg.BriefSpec},
		{digest.KindNews, cfg.NewsSpec},
		{digest.KindIdeas, cfg.IdeasSpec},
	}
	for _, entry := range entries {
		kind := entry.kind
		if _, err := e.cron.AddFunc(entry.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
			defer cancel()
			e.Tick(ctx, kind)
		}); err != nil {
			return fmt.Errorf("schedule %s watcher (%q): %w", kind, entry.spec, err)
		}
	}

	e.cron.Start()
	e.logger.Info("watchers started",
		"brief", cfg.BriefSpec,
		"news", cfg.NewsSpec,
		"ideas", cfg.IdeasSpec,
	)
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (e *Engine) Stop() {
	if e.cron == nil {
		return
	}
	<-e.cron.Stop().Done()
	e.logger.Info("watchers stopped")
}

// Tick processes one digest kind for every known user, sequentially.
// A user enumeration failure aborts the tick; a per-user failure is
// logged and the tick moves on.
func (e *Engine) Tick(ctx context.Context, kind string) {
	users, err := e.deps.Profiles.ListUsers(ctx)
	if err != nil {
		e.logger.Error("watcher tick aborted", "kind", kind, "error", err)
		return
	}

	e.logger.Debug("watcher tick", "kind", kind, "users", len(users))
	for _, userID := range users {
		e.processUser(ctx, kind, userID)
	}
}

// processUser runs the full pipeline for one (kind, user) pair. A
// panic here is that user's problem, not the tick's.
func (e *Engine) processUser(ctx context.Context, kind, userID string) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("watcher user panicked",
				"kind", kind,
				"user_id", userID,
				"panic", rec,
			)
		}
	}()

	rec, err := e.deps.Profiles.Get(ctx, userID)
	if err != nil {
		e.logger.Error("watcher profile load failed",
			"kind", kind, "user_id", userID, "error", err)
		return
	}

	now := e.now()
	if skip, reason := e.skipUser(ctx, kind, rec, now); skip {
		e.logger.Debug("watcher user skipped",
			"kind", kind, "user_id", userID, "reason", reason)
		return
	}

	var text string
	switch kind {
	case digest.KindBrief:
		text = e.buildBrief(ctx, rec, now)
	case digest.KindNews:
		text = e.buildNews(ctx, rec, now)
	case digest.KindIdeas:
		text = e.buildIdeas(ctx, rec, now)
	default:
		e.logger.Error("unknown digest kind", "kind", kind)
		return
	}

	actions := []transport.Action{
		{Keyword: "refresh", Label: "pull this again fresh"},
		{Keyword: "dismiss", Label: "skip this one"},
	}
	if err := e.deps.Transport.Send(ctx, userID, text, actions); err != nil {
		e.logger.Error("watcher delivery failed",
			"kind", kind, "user_id", userID, "error", err)
		return
	}

	// Only a delivered digest counts against the send guard.
	if err := e.deps.Cache.SetLastSent(ctx, userID, kind, now); err != nil {
		e.logger.Warn("watcher delivery log write failed",
			"kind", kind, "user_id", userID, "error", err)
	}
	e.logger.Info("digest delivered", "kind", kind, "user_id", userID)
}

// skipUser applies the eligibility gates in order: kind disabled,
// quiet hours, then the inter-send guard. All of this happens before
// any budget is consumed.
func (e *Engine) skipUser(ctx context.Context, kind string, rec *profile.Record, now time.Time) (bool, string) {
	switch kind {
	case digest.KindBrief:
		if !rec.BriefEnabled {
			return true, "disabled"
		}
	case digest.KindNews:
		if !rec.NewsEnabled || rec.NewsCadenceHours == 0 {
			return true, "disabled"
		}
	case digest.KindIdeas:
		if !rec.IdeasEnabled {
			return true, "disabled"
		}
	}

	if inQuietHours(rec, now.In(rec.Location()).Hour()) {
		return true, "quiet hours"
	}

	last, err := e.deps.Cache.LastSent(ctx, rec.UserID, kind)
	if err != nil {
		return true, "delivery log unreadable: " + err.Error()
	}
	if !last.IsZero() {
		switch kind {
		case digest.KindBrief:
			if now.Sub(last) < briefResendGuard {
				return true, "sent recently"
			}
		case digest.KindNews:
			if now.Sub(last) < time.Duration(rec.NewsCadenceHours)*time.Hour {
				return true, "within cadence"
			}
		}
	}
	return false, ""
}

// inQuietHours reports whether a local hour falls inside the user's
// quiet window. The window may cross midnight; start == end means no
// quiet hours at all.
func inQuietHours(rec *profile.Record, hour int) bool {
	if rec.QuietAllDay {
		return true
	}
	start, end := rec.QuietStart, rec.QuietEnd
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// acquireHeadlines is the shared acquisition pipeline: budget check,
// live per-topic search, dedupe, rank, cap, cache write. When the
// budget denies or the fetch fails it falls back to the cache, then to
// topic placeholders, returning an explanatory note alongside.
func (e *Engine) acquireHeadlines(ctx context.Context, rec *profile.Record, kind string, now time.Time, maxItems int, maxAge time.Duration, sameDayOnly bool) (lines []string, note string) {
	loc := rec.Location()

	decision, err := e.deps.Ledger.CheckAndConsume(ctx, rec.UserID, budget.KindSearch)
	if err != nil {
		e.logger.Error("watcher budget check failed",
			"kind", kind, "user_id", rec.UserID, "error", err)
		decision = budget.Decision{Allowed: false, Reason: "Budget status was unavailable this round."}
	}

	if decision.Allowed && e.deps.Search != nil {
		bullets, err := e.liveHeadlines(ctx, rec.Topics, loc, now, maxItems)
		if err == nil && len(bullets) > 0 {
			entry := &digest.Entry{
				UserID:     rec.UserID,
				Kind:       kind,
				Topics:     rec.Topics,
				Items:      bullets,
				CapturedAt: now,
				DayKey:     digest.DayKey(now, loc),
			}
			if err := e.deps.Cache.Put(ctx, entry); err != nil {
				e.logger.Warn("digest cache write failed",
					"kind", kind, "user_id", rec.UserID, "error", err)
			}
			return bullets, ""
		}
		if err != nil {
			e.logger.Warn("live headline fetch failed",
				"kind", kind, "user_id", rec.UserID, "error", err)
		}
		note = "Live fetch came up empty; showing the last good pull."
	} else {
		note = decision.Reason
	}

	entry, err := e.deps.Cache.Get(ctx, rec.UserID, kind)
	if err != nil {
		e.logger.Warn("digest cache read failed",
			"kind", kind, "user_id", rec.UserID, "error", err)
	}
	if bullets := digest.FreshBullets(entry, loc, now, maxItems, maxAge, sameDayOnly); len(bullets) > 0 {
		return bullets, note
	}

	return digest.PlaceholderBullets(rec.Topics, maxItems), note
}

// liveHeadlines searches each configured topic and returns deduped,
// ranked, capped bullets.
func (e *Engine) liveHeadlines(ctx context.Context, topics []string, loc *time.Location, now time.Time, maxItems int) ([]string, error) {
	var items []digest.Item
	for _, topic := range topics {
		results, err := e.deps.Search.Search(ctx, topic+" news", search.Options{Count: 5})
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			items = append(items, digest.Item{
				Title:       res.Title,
				URL:         res.URL,
				Content:     res.Snippet,
				PublishedAt: digest.NormalizeTime(res.Published),
			})
		}
	}
	items = digest.Rank(digest.Dedupe(items), loc, now)
	return digest.Bullets(items, maxItems), nil
}
