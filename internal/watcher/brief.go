package watcher

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/valetlabs/valet/internal/budget"
	"github.com/valetlabs/valet/internal/digest"
	"github.com/valetlabs/valet/internal/profile"
)

const briefMaxHeadlines = 8

// vibes are the closing lines of the daily brief, picked
// deterministically per day so re-renders of the same brief match.
var vibes = []string{
	"Steady as she goes today.",
	"Good day to clear the small stuff.",
	"Momentum beats intensity.",
	"Leave room for the unexpected.",
	"One real conversation is worth ten messages.",
	"Ship something small before lunch.",
	"Protect the afternoon for deep work.",
}

// buildBrief assembles the morning digest. Every section renders even
// when its source is unconfigured or empty, so the shape of the brief
// never changes under the reader.
func (e *Engine) buildBrief(ctx context.Context, rec *profile.Record, now time.Time) string {
	loc := rec.Location()
	local := now.In(loc)

	headlines, note := e.acquireHeadlines(ctx, rec, digest.KindBrief, now,
		briefMaxHeadlines, digest.BriefMaxAge, true)
	headlineSection := digest.Section{
		Title:    "Headlines",
		Lines:    headlines,
		Fallback: "Nothing fresh this morning.",
	}
	if note != "" {
		headlineSection.Lines = append([]string{note}, headlineSection.Lines...)
	}

	sections := []digest.Section{
		headlineSection,
		e.mentionsSection(ctx, rec),
		e.calendarSection(ctx, rec, now),
		e.weatherSection(ctx, rec),
		e.remindersSection(ctx, rec, now),
		{Title: "Vibe", Lines: []string{vibeFor(digest.DayKey(now, loc))}},
	}

	heading := fmt.Sprintf("Good morning — %s", local.Format("Monday, January 2"))
	return digest.Render(heading, sections)
}

func (e *Engine) mentionsSection(ctx context.Context, rec *profile.Record) digest.Section {
	s := digest.Section{Title: "Mentions", Fallback: "No unread mentions."}
	if e.deps.Social == nil {
		return s
	}

	decision, err := e.deps.Ledger.CheckAndConsume(ctx, rec.UserID, budget.KindSocial)
	if err != nil {
		e.logger.Error("mentions budget check failed", "user_id", rec.UserID, "error", err)
		return s
	}
	if !decision.Allowed {
		s.Fallback = decision.Reason
		return s
	}

	mentions, err := e.deps.Social.Mentions(ctx, 5)
	if err != nil {
		e.logger.Warn("mentions fetch failed", "user_id", rec.UserID, "error", err)
		s.Fallback = "Mentions were unreachable this morning."
		return s
	}
	for _, m := range mentions {
		s.Lines = append(s.Lines, m.Line())
	}
	return s
}

func (e *Engine) calendarSection(ctx context.Context, rec *profile.Record, now time.Time) digest.Section {
	s := digest.Section{Title: "Calendar", Fallback: "No events today."}
	if e.deps.Calendar == nil {
		return s
	}

	loc := rec.Location()
	events, err := e.deps.Calendar.Today(ctx, loc, now)
	if err != nil {
		e.logger.Warn("calendar fetch failed", "user_id", rec.UserID, "error", err)
		s.Fallback = "Calendar was unreachable this morning."
		return s
	}
	for _, ev := range events {
		s.Lines = append(s.Lines, ev.Line(loc))
	}
	return s
}

func (e *Engine) weatherSection(ctx context.Context, rec *profile.Record) digest.Section {
	s := digest.Section{Title: "Weather", Fallback: "No weather location set."}
	if e.deps.Weather == nil || rec.WeatherLocation == "" {
		return s
	}

	decision, err := e.deps.Ledger.CheckAndConsume(ctx, rec.UserID, budget.KindWeather)
	if err != nil {
		e.logger.Error("weather budget check failed", "user_id", rec.UserID, "error", err)
		return s
	}
	if !decision.Allowed {
		s.Fallback = decision.Reason
		return s
	}

	cond, err := e.deps.Weather.Current(ctx, rec.WeatherLocation)
	if err != nil {
		e.logger.Warn("weather fetch failed", "user_id", rec.UserID, "error", err)
		s.Fallback = "Weather was unreachable this morning."
		return s
	}
	s.Lines = []string{cond.Line()}
	return s
}

func (e *Engine) remindersSection(ctx context.Context, rec *profile.Record, now time.Time) digest.Section {
	s := digest.Section{Title: "Reminders", Fallback: "Nothing due today."}
	if e.deps.Reminders == nil {
		return s
	}

	loc := rec.Location()
	due, err := e.deps.Reminders.DueToday(ctx, rec.UserID, now, loc)
	if err != nil {
		e.logger.Warn("reminder lookup failed", "user_id", rec.UserID, "error", err)
		return s
	}
	for _, r := range due {
		s.Lines = append(s.Lines, "• "+r.Line(now, loc))
	}
	return s
}

// vibeFor hashes a day key onto the vibe list.
func vibeFor(dayKey string) string {
	h := fnv.New32a()
	h.Write([]byte(dayKey))
	return vibes[h.Sum32()%uint32(len(vibes))]
}
