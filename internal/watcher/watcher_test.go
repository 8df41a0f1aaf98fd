package watcher

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valetlabs/valet/internal/budget"
	"github.com/valetlabs/valet/internal/digest"
	"github.com/valetlabs/valet/internal/profile"
	"github.com/valetlabs/valet/internal/search"
	"github.com/valetlabs/valet/internal/transport"

	_ "modernc.org/sqlite"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	results []search.Result
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return f.results, f.err
}

type sentMessage struct {
	userID  string
	text    string
	actions []transport.Action
}

type recordingTransport struct {
	sends    []sentMessage
	panicFor string
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Send(ctx context.Context, userID, text string, actions []transport.Action) error {
	if userID == r.panicFor {
		panic("transport blew up")
	}
	r.sends = append(r.sends, sentMessage{userID: userID, text: text, actions: actions})
	return nil
}

type fixture struct {
	engine    *Engine
	profiles  *profile.Store
	ledger    *budget.Ledger
	cache     *digest.Cache
	transport *recordingTransport
	provider  *fakeProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "watcher.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	profiles, err := profile.NewStore(db, "UTC")
	if err != nil {
		t.Fatalf("profile.NewStore: %v", err)
	}
	store, err := budget.NewStore(db)
	if err != nil {
		t.Fatalf("budget.NewStore: %v", err)
	}
	ledger := budget.NewLedger(store, profiles, quietLogger())
	cache, err := digest.NewCache(db)
	if err != nil {
		t.Fatalf("digest.NewCache: %v", err)
	}

	provider := &fakeProvider{results: []search.Result{
		{Title: "Go 1.26 released", URL: "https://example.com/go126", Published: time.Now().UTC().Format(time.RFC3339)},
		{Title: "SQLite tricks", URL: "https://example.com/sqlite"},
	}}
	mgr := search.NewManager("fake")
	mgr.Register(provider)

	tr := &recordingTransport{}
	engine := NewEngine(Deps{
		Logger:    quietLogger(),
		Profiles:  profiles,
		Ledger:    ledger,
		Cache:     cache,
		Search:    mgr,
		Transport: tr,
	})

	return &fixture{
		engine:    engine,
		profiles:  profiles,
		ledger:    ledger,
		cache:     cache,
		transport: tr,
		provider:  provider,
	}
}

func (f *fixture) user(t *testing.T, id string, patch profile.Patch) {
	t.Helper()
	if _, err := f.profiles.Update(context.Background(), id, patch); err != nil {
		t.Fatalf("Update(%s): %v", id, err)
	}
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }

func TestQuietHoursSkipConsumesNoBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "mara", profile.Patch{
		QuietStart: intPtr(22),
		QuietEnd:   intPtr(6),
		Topics:     &[]string{"golang"},
	})

	// 23:00 UTC is inside [22,6).
	f.engine.now = func() time.Time {
		return time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	}

	f.engine.processUser(ctx, digest.KindBrief, "mara")
	if len(f.transport.sends) != 0 {
		t.Fatalf("expected no delivery during quiet hours, got %d", len(f.transport.sends))
	}

	left, err := f.ledger.Remaining(ctx, "mara", budget.KindSearch)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if left != 25 {
		t.Errorf("search budget = %d, want untouched default 25", left)
	}
}

func TestInQuietHours(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		allDay     bool
		hour       int
		want       bool
	}{
		{"plain window inside", 9, 17, false, 12, true},
		{"plain window outside", 9, 17, false, 18, false},
		{"crosses midnight late", 22, 6, false, 23, true},
		{"crosses midnight early", 22, 6, false, 3, true},
		{"crosses midnight daytime", 22, 6, false, 12, false},
		{"end hour is exclusive", 22, 6, false, 6, false},
		{"start equals end means none", 8, 8, false, 8, false},
		{"all day overrides", 8, 8, true, 12, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &profile.Record{QuietStart: tt.start, QuietEnd: tt.end, QuietAllDay: tt.allDay}
			if got := inQuietHours(rec, tt.hour); got != tt.want {
				t.Errorf("inQuietHours(%d) = %v, want %v", tt.hour, got, tt.want)
			}
		})
	}
}

func TestNewsDeniedWithoutCacheSendsPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "mara", profile.Patch{
		Topics:   &[]string{"golang", "homelab"},
		Ceilings: map[string]string{budget.KindSearch: "1"},
	})

	// Burn the single search unit so the watcher is denied.
	if d, err := f.ledger.CheckAndConsume(ctx, "mara", budget.KindSearch); err != nil || !d.Allowed {
		t.Fatalf("priming consume: %v %v", d, err)
	}

	f.engine.processUser(ctx, digest.KindNews, "mara")
	if len(f.transport.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(f.transport.sends))
	}

	text := f.transport.sends[0].text
	if !strings.Contains(text, "budget reached") {
		t.Errorf("missing denial note in:\n%s", text)
	}
	if !strings.Contains(text, "golang: nothing fresh pulled this round") {
		t.Errorf("missing topic placeholder in:\n%s", text)
	}
}

func TestNewsLiveSendRecordsDeliveryAndHonorsCadence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "mara", profile.Patch{Topics: &[]string{"golang"}})

	f.engine.processUser(ctx, digest.KindNews, "mara")
	if len(f.transport.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(f.transport.sends))
	}
	if !strings.Contains(f.transport.sends[0].text, "Go 1.26 released") {
		t.Errorf("live headline missing:\n%s", f.transport.sends[0].text)
	}

	last, err := f.cache.LastSent(ctx, "mara", digest.KindNews)
	if err != nil {
		t.Fatalf("LastSent: %v", err)
	}
	if last.IsZero() {
		t.Fatal("delivery was not recorded")
	}

	// Default cadence is 6h; an immediate second tick must skip.
	f.engine.processUser(ctx, digest.KindNews, "mara")
	if len(f.transport.sends) != 1 {
		t.Errorf("second tick within cadence delivered anyway")
	}
}

func TestBriefResendGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "mara", profile.Patch{Topics: &[]string{"golang"}})

	now := time.Now()
	f.engine.now = func() time.Time { return now }

	if err := f.cache.SetLastSent(ctx, "mara", digest.KindBrief, now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	f.engine.processUser(ctx, digest.KindBrief, "mara")
	if len(f.transport.sends) != 0 {
		t.Fatal("brief resent within the guard window")
	}

	if err := f.cache.SetLastSent(ctx, "mara", digest.KindBrief, now.Add(-24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	f.engine.processUser(ctx, digest.KindBrief, "mara")
	if len(f.transport.sends) != 1 {
		t.Fatal("brief not sent after the guard window passed")
	}
}

func TestBriefSectionsAlwaysPresent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "mara", profile.Patch{Topics: &[]string{"golang"}})

	f.engine.processUser(ctx, digest.KindBrief, "mara")
	if len(f.transport.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(f.transport.sends))
	}

	text := f.transport.sends[0].text
	for _, want := range []string{
		"Headlines", "Mentions", "Calendar", "Weather", "Reminders", "Vibe",
		"No unread mentions.", "No events today.", "No weather location set.", "Nothing due today.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("brief missing %q:\n%s", want, text)
		}
	}
	actions := f.transport.sends[0].actions
	if len(actions) != 2 || actions[0].Keyword != "refresh" || actions[1].Keyword != "dismiss" {
		t.Errorf("follow-up actions = %+v", actions)
	}
}

func TestIdeasTemplateFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "mara", profile.Patch{
		IdeasEnabled: boolPtr(true),
		IdeaNiche:    strPtr("home automation"),
	})

	// No model configured: the spark still goes out, from the template.
	f.engine.processUser(ctx, digest.KindIdeas, "mara")
	if len(f.transport.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(f.transport.sends))
	}
	text := f.transport.sends[0].text
	if !strings.Contains(text, "Idea spark") || !strings.Contains(text, "home automation") {
		t.Errorf("template spark missing:\n%s", text)
	}

	// A modelless deployment must not burn ideas budget on ticks.
	left, err := f.ledger.Remaining(ctx, "mara", budget.KindIdeas)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if left != 5 {
		t.Errorf("ideas budget = %d after modelless tick, want untouched default 5", left)
	}
}

func TestTickIsolatesPerUserPanic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "bad", profile.Patch{Topics: &[]string{"golang"}})
	f.user(t, "good", profile.Patch{Topics: &[]string{"golang"}})
	f.transport.panicFor = "bad"

	f.engine.Tick(ctx, digest.KindNews)

	if len(f.transport.sends) != 1 || f.transport.sends[0].userID != "good" {
		t.Fatalf("expected the healthy user to be served, got %+v", f.transport.sends)
	}
}

func TestVibeIsDeterministic(t *testing.T) {
	a := vibeFor("2026-03-10")
	b := vibeFor("2026-03-10")
	if a != b {
		t.Errorf("same day produced different vibes: %q vs %q", a, b)
	}
	if a == "" {
		t.Error("empty vibe")
	}
}
