package digest

import (
	"testing"
	"time"
)

func TestNormalizeTime(t *testing.T) {
	if got := NormalizeTime("2026-08-25T10:30:00Z"); got == nil {
		t.Error("RFC3339 should parse")
	}
	if got := NormalizeTime("Mon, 24 Aug 2026 10:30:00 +0000"); got == nil {
		t.Error("RFC1123Z should parse")
	}
	if got := NormalizeTime("2026-08-25"); got == nil {
		t.Error("date-only should parse")
	}
	if got := NormalizeTime("last tuesday-ish"); got != nil {
		t.Errorf("garbage parsed to %v, want nil", got)
	}
	if got := NormalizeTime(""); got != nil {
		t.Error("empty should be nil")
	}
}

func TestDedupe_ByURL(t *testing.T) {
	items := []Item{
		{Title: "Go 1.26 released", URL: "https://example.com/go126"},
		{Title: "Go 1.26 is out!", URL: "https://example.com/go126"},
		{Title: "Other story", URL: "https://example.com/other"},
	}
	got := Dedupe(items)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// First-seen order preserved.
	if got[0].Title != "Go 1.26 released" {
		t.Errorf("first item = %q, want first-seen title", got[0].Title)
	}
}

func TestDedupe_NoURLFallsBackToTitleAndLead(t *testing.T) {
	items := []Item{
		{Title: "Quake near coast", Content: "A magnitude 5 quake..."},
		{Title: "quake near coast", Content: "A magnitude 5 quake..."},
		{Title: "Quake near coast", Content: "Completely different lead paragraph here."},
	}
	got := Dedupe(items)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (title match is case-insensitive, content differs)", len(got))
	}
}

func TestRank_TodayFirstThenRecency(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, loc)

	hourAgo := now.Add(-1 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)

	items := []Item{
		{Title: "no-date"},
		{Title: "yesterday", PublishedAt: &yesterday},
		{Title: "today-1h", PublishedAt: &hourAgo},
	}
	got := Rank(items, loc, now)

	want := []string{"today-1h", "yesterday", "no-date"}
	for i, title := range want {
		if got[i].Title != title {
			t.Errorf("rank[%d] = %q, want %q", i, got[i].Title, title)
		}
	}
}

func TestRank_TimezoneDecidesToday(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 23:30 UTC Aug 24 is already Aug 25 in Tokyo.
	pub := time.Date(2026, 8, 24, 23, 30, 0, 0, time.UTC)
	now := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)

	old := now.Add(-30 * time.Hour)
	items := []Item{
		{Title: "stale", PublishedAt: &old},
		{Title: "tokyo-today", PublishedAt: &pub},
	}

	got := Rank(items, tokyo, now)
	if got[0].Title != "tokyo-today" {
		t.Errorf("viewer-local today should rank first, got %q", got[0].Title)
	}
}

func TestBullets_Cap(t *testing.T) {
	items := []Item{
		{Title: "a", URL: "https://a"},
		{Title: "b"},
		{Title: "c"},
	}
	got := Bullets(items, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != "• a — https://a" {
		t.Errorf("bullet = %q", got[0])
	}
	if got[1] != "• b" {
		t.Errorf("bullet without URL = %q", got[1])
	}
}
