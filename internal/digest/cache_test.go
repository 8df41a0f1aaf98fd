package digest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "digest.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c, err := NewCache(db)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return c
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	now := time.Now()

	err := c.Put(ctx, &Entry{
		UserID:     "mara",
		Kind:       "news",
		Topics:     []string{"go"},
		Items:      []string{"• one", "• two"},
		CapturedAt: now,
		DayKey:     DayKey(now, time.UTC),
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	e, err := c.Get(ctx, "mara", "news")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e == nil || len(e.Items) != 2 {
		t.Fatalf("entry = %+v", e)
	}

	// Overwrite replaces, never appends.
	err = c.Put(ctx, &Entry{UserID: "mara", Kind: "news", Items: []string{"• three"}, CapturedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	e, _ = c.Get(ctx, "mara", "news")
	if len(e.Items) != 1 || e.Items[0] != "• three" {
		t.Errorf("overwritten items = %v", e.Items)
	}
}

func TestCache_GetMissing(t *testing.T) {
	c := testCache(t)
	e, err := c.Get(context.Background(), "nobody", "news")
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Errorf("missing entry = %+v, want nil", e)
	}
}

func TestFreshBullets_Staleness(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, loc)
	maxAge := 6 * time.Hour

	fresh := &Entry{Items: []string{"• a", "• b", "• c"}, CapturedAt: now.Add(-time.Hour)}

	if got := FreshBullets(nil, loc, now, 5, maxAge, false); got != nil {
		t.Error("nil entry should be empty")
	}
	if got := FreshBullets(&Entry{CapturedAt: now}, loc, now, 5, maxAge, false); got != nil {
		t.Error("no items should be empty")
	}
	if got := FreshBullets(&Entry{Items: []string{"• a"}}, loc, now, 5, maxAge, false); got != nil {
		t.Error("zero capture time should be empty")
	}

	// Exactly at max age is still fresh; 1ms past is not.
	atEdge := &Entry{Items: []string{"• a"}, CapturedAt: now.Add(-maxAge)}
	if got := FreshBullets(atEdge, loc, now, 5, maxAge, false); len(got) != 1 {
		t.Error("entry exactly at max age should be fresh")
	}
	past := &Entry{Items: []string{"• a"}, CapturedAt: now.Add(-maxAge - time.Millisecond)}
	if got := FreshBullets(past, loc, now, 5, maxAge, false); got != nil {
		t.Error("entry 1ms past max age should be empty")
	}

	if got := FreshBullets(fresh, loc, now, 2, maxAge, false); len(got) != 2 {
		t.Errorf("maxItems cap: got %d items, want 2", len(got))
	}
}

func TestFreshBullets_DayKeyGuard(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	// Captured 23:00 UTC Aug 24 = 08:00 Aug 25 in Tokyo.
	captured := time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	e := &Entry{Items: []string{"• a"}, CapturedAt: captured}

	// Same local day in Tokyo: fresh.
	if got := FreshBullets(e, tokyo, now, 5, 24*time.Hour, true); len(got) != 1 {
		t.Error("same Tokyo day should be fresh")
	}
	// In UTC the capture was yesterday: empty despite being well
	// within max age.
	if got := FreshBullets(e, time.UTC, now, 5, 24*time.Hour, true); got != nil {
		t.Error("different UTC day should be empty")
	}
	// Without the same-day rule the age check alone passes.
	if got := FreshBullets(e, time.UTC, now, 5, 24*time.Hour, false); len(got) != 1 {
		t.Error("age-only check should pass")
	}
}

func TestDeliveryLog(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	last, err := c.LastSent(ctx, "mara", "brief")
	if err != nil {
		t.Fatal(err)
	}
	if !last.IsZero() {
		t.Errorf("never-sent should be zero, got %v", last)
	}

	at := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	if err := c.SetLastSent(ctx, "mara", "brief", at); err != nil {
		t.Fatal(err)
	}
	last, _ = c.LastSent(ctx, "mara", "brief")
	if !last.Equal(at) {
		t.Errorf("LastSent = %v, want %v", last, at)
	}
}
