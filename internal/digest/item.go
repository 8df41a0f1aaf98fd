// Package digest holds the shared machinery behind every scheduled
// digest: item normalization, dedup and ranking, the staleness-aware
// per-user cache, and section rendering.
package digest

import (
	"sort"
	"strings"
	"time"
)

// Item is one piece of fetched content before rendering. PublishedAt
// is nil when the source's date could not be parsed.
type Item struct {
	Title       string
	URL         string
	Content     string
	PublishedAt *time.Time
}

// timeLayouts are the formats sources have been observed to emit.
// Tried in order; first hit wins.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// NormalizeTime parses an arbitrary source date representation.
// Unparsable input yields nil, which sorts last during ranking.
func NormalizeTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// Dedupe removes repeats, preserving first-seen order. The canonical
// identifier is the URL when present, otherwise title plus the leading
// content, so the same story syndicated without a link still collapses.
func Dedupe(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		key := canonicalKey(it)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

func canonicalKey(it Item) string {
	if it.URL != "" {
		return "u:" + it.URL
	}
	lead := it.Content
	if len(lead) > 80 {
		lead = lead[:80]
	}
	return "t:" + strings.ToLower(strings.TrimSpace(it.Title)) + "|" + lead
}

// Rank orders items for a viewer: items published on the viewer's
// local "today" come first, then the rest; within each bucket newer
// timestamps rank first and items with no parseable timestamp sort
// last. The sort is stable so same-key items keep fetch order.
func Rank(items []Item, loc *time.Location, now time.Time) []Item {
	out := make([]Item, len(items))
	copy(out, items)

	today := DayKey(now, loc)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aToday := a.PublishedAt != nil && DayKey(*a.PublishedAt, loc) == today
		bToday := b.PublishedAt != nil && DayKey(*b.PublishedAt, loc) == today
		if aToday != bToday {
			return aToday
		}
		switch {
		case a.PublishedAt == nil && b.PublishedAt == nil:
			return false
		case a.PublishedAt == nil:
			return false
		case b.PublishedAt == nil:
			return true
		default:
			return a.PublishedAt.After(*b.PublishedAt)
		}
	})
	return out
}

// Bullet renders an item as a single digest line.
func Bullet(it Item) string {
	var b strings.Builder
	b.WriteString("• ")
	b.WriteString(strings.TrimSpace(it.Title))
	if it.URL != "" {
		b.WriteString(" — ")
		b.WriteString(it.URL)
	}
	return b.String()
}

// Bullets renders up to max items in order.
func Bullets(items []Item, max int) []string {
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, Bullet(it))
	}
	return out
}

// DayKey identifies a calendar day in a timezone ("2006-01-02").
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
