package reminder

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "reminders.db")+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	at := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	r := &Reminder{
		UserID:  "mara",
		Text:    "water the plants",
		At:      at,
		Every:   &Duration{Duration: 24 * time.Hour},
		Enabled: true,
	}
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID == "" {
		t.Fatal("ID not assigned")
	}

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "water the plants" || !got.At.Equal(at) {
		t.Errorf("got = %+v", got)
	}
	if got.Every == nil || got.Every.Duration != 24*time.Hour {
		t.Errorf("Every = %+v", got.Every)
	}

	missing, err := s.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("missing = %+v, err = %v", missing, err)
	}
}

func TestListForUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, text := range []string{"later", "sooner"} {
		at := base.Add(time.Duration(2-i) * time.Hour)
		if err := s.Create(ctx, &Reminder{UserID: "mara", Text: text, At: at, Enabled: true}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := s.Create(ctx, &Reminder{UserID: "other", Text: "not mine", At: base, Enabled: true}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.ListForUser(ctx, "mara")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Text != "sooner" {
		t.Errorf("order: first = %q", got[0].Text)
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	oneShot := &Reminder{At: now.Add(time.Hour), Enabled: true}
	next, ok := oneShot.NextRun(now)
	if !ok || !next.Equal(now.Add(time.Hour)) {
		t.Errorf("one-shot next = %v, %v", next, ok)
	}

	passed := &Reminder{At: now.Add(-time.Hour), Enabled: true}
	if _, ok := passed.NextRun(now); ok {
		t.Error("passed one-shot should have no next run")
	}

	recurring := &Reminder{
		At:      now.Add(-150 * time.Minute),
		Every:   &Duration{Duration: time.Hour},
		Enabled: true,
	}
	next, ok = recurring.NextRun(now)
	if !ok || !next.Equal(now.Add(30*time.Minute)) {
		t.Errorf("recurring next = %v, %v", next, ok)
	}

	disabled := &Reminder{At: now.Add(time.Hour), Enabled: false}
	if _, ok := disabled.NextRun(now); ok {
		t.Error("disabled reminder should have no next run")
	}
}

func TestDueToday(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 22:00 UTC = 07:00 next day in Tokyo.
	now := time.Date(2026, 8, 24, 22, 0, 0, 0, time.UTC)

	today := &Reminder{At: now.Add(2 * time.Hour), Enabled: true}
	if !today.DueToday(now, tokyo) {
		t.Error("reminder 2h out should be due today in Tokyo")
	}

	// Same instant viewed in UTC: 2h out crosses into the 25th.
	if today.DueToday(now, time.UTC) {
		t.Error("reminder 2h out crosses midnight in UTC, not due today")
	}
}

func TestEngineFireAndCancel(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	delivered := make(chan *Reminder, 1)
	e := NewEngine(quietLogger(), s, func(_ context.Context, r *Reminder) error {
		delivered <- r
		return nil
	})
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	r := &Reminder{UserID: "mara", Text: "fire now", At: time.Now().Add(20 * time.Millisecond)}
	if err := e.Set(ctx, r); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case got := <-delivered:
		if got.Text != "fire now" {
			t.Errorf("delivered = %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reminder never delivered")
	}

	// One-shot should be disabled after firing; poll briefly since the
	// status write happens after delivery.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := s.Get(ctx, r.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !got.Enabled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("one-shot still enabled after delivery")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Cancel an armed reminder before it fires.
	far := &Reminder{UserID: "mara", Text: "never", At: time.Now().Add(time.Hour)}
	if err := e.Set(ctx, far); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err := e.Cancel(ctx, "mara", far.ID)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	if gone, _ := s.Get(ctx, far.ID); gone != nil {
		t.Error("cancelled reminder still present")
	}

	// Cancelling someone else's reminder is refused.
	mine := &Reminder{UserID: "mara", Text: "mine", At: time.Now().Add(time.Hour)}
	if err := e.Set(ctx, mine); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err = e.Cancel(ctx, "intruder", mine.ID)
	if err != nil || ok {
		t.Fatalf("cross-user Cancel = %v, %v", ok, err)
	}
}

func TestStopWaitsForInFlightDelivery(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	e := NewEngine(quietLogger(), s, func(_ context.Context, _ *Reminder) error {
		close(started)
		<-release
		return nil
	})
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := &Reminder{UserID: "mara", Text: "slow delivery", At: time.Now()}
	if err := e.Set(ctx, r); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("delivery never started")
	}

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop never returned after the delivery finished")
	}
}
