package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valetlabs/valet/internal/budget"
	"github.com/valetlabs/valet/internal/digest"
	"github.com/valetlabs/valet/internal/search"
)

// registerNewsTools wires get_news: a live topic search when budget
// allows, the cached news digest when it does not, and a placeholder
// when there is no cache either. The user always gets an answer.
func registerNewsTools(r *Registry, d Deps) {
	if d.Search == nil || d.Ledger == nil || d.Profiles == nil || d.Cache == nil {
		return
	}

	r.Register(&Tool{
		Name:        "get_news",
		Description: "Get fresh headlines for the user's configured topics. Falls back to the most recent cached digest when the search budget is exhausted.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "A single topic to search. Omit to use the user's configured topics.",
				},
			},
		},
		Handler: newsHandler(d),
	})
}

func newsHandler(d Deps) Handler {
	return func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
		user := exec.ResolveUser(args)
		rec, err := d.Profiles.Get(ctx, user)
		if err != nil {
			return "", fmt.Errorf("load profile: %w", err)
		}

		topics := rec.Topics
		if topic, _ := args["topic"].(string); topic != "" {
			topics = []string{topic}
		}
		if len(topics) == 0 {
			return "No topics configured. Name a topic, or set some with update_settings.", nil
		}

		now := time.Now()
		loc := rec.Location()

		decision, err := d.Ledger.CheckAndConsume(ctx, user, budget.KindSearch)
		if err != nil {
			return "", fmt.Errorf("budget check: %w", err)
		}

		var note string
		if decision.Allowed {
			bullets, err := liveHeadlines(ctx, d, topics, loc, now)
			if err == nil && len(bullets) > 0 {
				entry := &digest.Entry{
					UserID:     user,
					Kind:       digest.KindNews,
					Topics:     topics,
					Items:      bullets,
					CapturedAt: now,
					DayKey:     digest.DayKey(now, loc),
				}
				if err := d.Cache.Put(ctx, entry); err != nil {
					d.Logger.Warn("news cache write failed", "user_id", user, "error", err)
				}
				return strings.Join(bullets, "\n"), nil
			}
			note = "Live fetch failed; showing what I have."
		} else {
			note = decision.Reason
		}

		// Cached fallback: age-bounded, any day.
		entry, err := d.Cache.Get(ctx, user, digest.KindNews)
		if err != nil {
			return "", fmt.Errorf("read news cache: %w", err)
		}
		if bullets := digest.FreshBullets(entry, loc, now, 0, digest.NewsMaxAge, false); len(bullets) > 0 {
			return note + "\n" + strings.Join(bullets, "\n"), nil
		}

		// Placeholder of last resort.
		lines := digest.PlaceholderBullets(topics, 5)
		return note + "\n" + strings.Join(lines, "\n"), nil
	}
}

// liveHeadlines searches each topic and returns deduped, ranked,
// capped bullets.
func liveHeadlines(ctx context.Context, d Deps, topics []string, loc *time.Location, now time.Time) ([]string, error) {
	var items []digest.Item
	for _, topic := range topics {
		results, err := d.Search.Search(ctx, topic+" news", search.Options{Count: 5})
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
	return digest.Bullets(items, 8), nil
}
