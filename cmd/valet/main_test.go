package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_Version(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Valet") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `"go_version"`) {
		t.Errorf("json version output = %q", out.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"-bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"frobnicate"}); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestRun_NoCommandPrintsUsage(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "valet serve") {
		t.Errorf("usage output = %q", out.String())
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	var out strings.Builder
	if err := runInit(&out, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "valet.yaml"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "brief_spec") {
		t.Error("starter config missing watcher specs")
	}

	// A second init must refuse to clobber the file.
	if err := runInit(&out, dir); err == nil {
		t.Error("expected error when config already exists")
	}
}
