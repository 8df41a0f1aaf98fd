package watcher

import (
	"context"
	"time"

	"github.com/valetlabs/valet/internal/digest"
	"github.com/valetlabs/valet/internal/profile"
)

const newsMaxHeadlines = 8

// buildNews assembles the news pulse: a single headline section on the
// user's cadence. The cached fallback only bounds age, not calendar
// day, since an hours-old pull is still a usable pulse.
func (e *Engine) buildNews(ctx context.Context, rec *profile.Record, now time.Time) string {
	headlines, note := e.acquireHeadlines(ctx, rec, digest.KindNews, now,
		newsMaxHeadlines, digest.NewsMaxAge, false)

	section := digest.Section{
		Title:    "Headlines",
		Lines:    headlines,
		Fallback: "Nothing new on your topics.",
	}
	if note != "" {
		section.Lines = append([]string{note}, section.Lines...)
	}

	return digest.Render("News pulse", []digest.Section{section})
}
