package tools

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valetlabs/valet/internal/budget"
	"github.com/valetlabs/valet/internal/fetch"
	"github.com/valetlabs/valet/internal/profile"
	"github.com/valetlabs/valet/internal/weather"

	_ "modernc.org/sqlite"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(quietLogger())
}

func TestDispatch_UnknownTool(t *testing.T) {
	r := testRegistry(t)
	r.Freeze()

	got := r.Dispatch(context.Background(), "nope", nil, Exec{})
	want := `Tool "nope" is not available.`
	if got != want {
		t.Errorf("Dispatch = %q, want %q", got, want)
	}
}

func TestDispatch_HandlerError(t *testing.T) {
	r := testRegistry(t)
	r.Register(&Tool{
		Name: "boom",
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			return "", fmt.Errorf("kaboom")
		},
	})
	r.Freeze()

	got := r.Dispatch(context.Background(), "boom", nil, Exec{})
	want := `Tool "boom" failed: kaboom`
	if got != want {
		t.Errorf("Dispatch = %q, want %q", got, want)
	}
}

func TestDispatch_PanicBecomesResult(t *testing.T) {
	r := testRegistry(t)
	r.Register(&Tool{
		Name: "panicky",
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			panic("ouch")
		},
	})
	r.Register(&Tool{
		Name: "healthy",
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			return "fine", nil
		},
	})
	r.Freeze()

	got := r.Dispatch(context.Background(), "panicky", nil, Exec{})
	want := `Tool "panicky" failed: ouch`
	if got != want {
		t.Errorf("Dispatch = %q, want %q", got, want)
	}

	// One bad call must not take the registry down.
	if got := r.Dispatch(context.Background(), "healthy", nil, Exec{}); got != "fine" {
		t.Errorf("Dispatch after panic = %q, want fine", got)
	}
}

func TestResolveUser_Precedence(t *testing.T) {
	tests := []struct {
		name string
		exec Exec
		args map[string]any
		want string
	}{
		{"explicit arg wins", Exec{UserID: "auth", DefaultUserID: "fallback"}, map[string]any{"user_id": "arg"}, "arg"},
		{"authenticated caller", Exec{UserID: "auth", DefaultUserID: "fallback"}, nil, "auth"},
		{"single-tenant default", Exec{DefaultUserID: "fallback"}, nil, "fallback"},
		{"last resort", Exec{}, nil, "default"},
		{"empty arg ignored", Exec{UserID: "auth"}, map[string]any{"user_id": ""}, "auth"},
		{"non-string arg ignored", Exec{UserID: "auth"}, map[string]any{"user_id": 42}, "auth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.exec.ResolveUser(tt.args); got != tt.want {
				t.Errorf("ResolveUser = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistry_FreezeAndLastWins(t *testing.T) {
	r := testRegistry(t)
	handler := func(out string) Handler {
		return func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			return out, nil
		}
	}

	r.Register(&Tool{Name: "echo", Handler: handler("first")})
	r.Register(&Tool{Name: "echo", Handler: handler("second")})
	r.Freeze()
	r.Register(&Tool{Name: "late", Handler: handler("late")})

	if got := r.Dispatch(context.Background(), "echo", nil, Exec{}); got != "second" {
		t.Errorf("last registration should win, got %q", got)
	}
	if got := r.Get("late"); got != nil {
		t.Error("registration after Freeze should be ignored")
	}
}

func TestRegistry_NamesAndCatalog(t *testing.T) {
	r := testRegistry(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(&Tool{
			Name:        name,
			Description: "d " + name,
			Parameters:  map[string]any{"type": "object"},
		})
	}
	r.Freeze()

	names := r.Names()
	if len(names) != 3 || names[0] != "alpha" || names[2] != "zeta" {
		t.Errorf("Names = %v, want sorted", names)
	}

	catalog := r.Catalog()
	if len(catalog) != 3 {
		t.Fatalf("Catalog len = %d", len(catalog))
	}
	fn, ok := catalog[0]["function"].(map[string]any)
	if !ok || catalog[0]["type"] != "function" {
		t.Fatalf("catalog entry shape: %v", catalog[0])
	}
	if fn["name"] != "alpha" || fn["description"] != "d alpha" {
		t.Errorf("catalog function = %v", fn)
	}
}

func TestRegisterAll_SkipsUnconfigured(t *testing.T) {
	r := testRegistry(t)
	RegisterAll(r, Deps{Logger: quietLogger()})
	if names := r.Names(); len(names) != 0 {
		t.Errorf("no collaborators configured, got tools %v", names)
	}
}

type fakeWeather struct {
	cond *weather.Conditions
	err  error
}

func (f fakeWeather) Current(ctx context.Context, location string) (*weather.Conditions, error) {
	return f.cond, f.err
}

func TestGetWeather_DenialIsAnswer(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tools.db"))
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

	ctx := context.Background()
	if _, err := profiles.Update(ctx, "mara", profile.Patch{
		Ceilings: map[string]string{budget.KindWeather: "1"},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	r := testRegistry(t)
	RegisterAll(r, Deps{
		Logger:   quietLogger(),
		Ledger:   ledger,
		Profiles: profiles,
		Weather:  fakeWeather{cond: &weather.Conditions{Location: "Austin", TempC: 31, WindKmh: 8, Summary: "clear skies"}},
	})

	exec := Exec{UserID: "mara"}
	first := r.Dispatch(ctx, "get_weather", map[string]any{"location": "Austin"}, exec)
	if !strings.Contains(first, "Austin") || !strings.Contains(first, "clear skies") {
		t.Errorf("first call = %q, want conditions line", first)
	}

	// The ceiling is 1, so the second call is denied. The denial comes
	// back as the result string, never as an error literal.
	second := r.Dispatch(ctx, "get_weather", map[string]any{"location": "Austin"}, exec)
	if !strings.Contains(second, "budget reached") {
		t.Errorf("second call = %q, want budget denial", second)
	}
	if strings.Contains(second, "failed") {
		t.Errorf("denial should not read as a failure: %q", second)
	}
}

func TestReadPage_RendersPageText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Changelog</title></head><body><nav>menu</nav><p>Parser rewritten.</p></body></html>`))
	}))
	defer ts.Close()

	r := testRegistry(t)
	RegisterAll(r, Deps{Logger: quietLogger(), Reader: fetch.NewReader()})

	got := r.Dispatch(context.Background(), "read_page", map[string]any{"url": ts.URL}, Exec{})
	for _, want := range []string{"Changelog", ts.URL, "Parser rewritten."} {
		if !strings.Contains(got, want) {
			t.Errorf("read_page missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "menu") {
		t.Errorf("navigation chrome leaked into result:\n%s", got)
	}

	// A dead page comes back through the dispatch boundary as a result
	// string, not a crash.
	dead := r.Dispatch(context.Background(), "read_page", map[string]any{"url": ts.URL + "/gone"}, Exec{})
	if !strings.Contains(dead, "404") {
		t.Errorf("dead page result = %q, want status in message", dead)
	}
}
