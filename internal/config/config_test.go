package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("VALET_TEST_TOKEN", "hunter2")

	path := filepath.Join(t.TempDir(), "valet.yaml")
	body := `
social:
  token: ${VALET_TEST_TOKEN}
  repo: octocat/notes
listen:
  port: 9999
watchers:
  news_spec: "@every 30m"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Social.Token != "hunter2" {
		t.Errorf("Social.Token = %q, want %q", cfg.Social.Token, "hunter2")
	}
	if cfg.Listen.Port != 9999 {
		t.Errorf("Listen.Port = %d, want 9999", cfg.Listen.Port)
	}
	if cfg.Watchers.NewsSpec != "@every 30m" {
		t.Errorf("Watchers.NewsSpec = %q", cfg.Watchers.NewsSpec)
	}
	// Untouched fields keep defaults.
	if cfg.Watchers.BriefSpec != "0 7 * * *" {
		t.Errorf("Watchers.BriefSpec = %q, want default", cfg.Watchers.BriefSpec)
	}
	if cfg.DefaultTZ != "UTC" {
		t.Errorf("DefaultTZ = %q, want UTC", cfg.DefaultTZ)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"trace", LevelTrace, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tc := range cases {
		got, err := ParseLogLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
