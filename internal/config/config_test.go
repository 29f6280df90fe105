package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("no file exists at the path")
	}
	if resolved != path {
		t.Fatalf("resolved = %s, want %s", resolved, path)
	}
	if cfg.Bands.Pass != Default().Bands.Pass {
		t.Fatalf("defaults not applied: %+v", cfg.Bands)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[bands]
pass = 0.7
partial = 0.4

[extraction]
workers = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("file exists at the path")
	}
	if cfg.Bands.Pass != 0.7 || cfg.Bands.Partial != 0.4 {
		t.Fatalf("bands = %+v", cfg.Bands)
	}
	if cfg.Extraction.Workers != 2 {
		t.Fatalf("workers = %d", cfg.Extraction.Workers)
	}
	// Unset sections keep their defaults.
	if cfg.Validation.Dates.MaxDriftDays != Default().Validation.Dates.MaxDriftDays {
		t.Fatalf("dates = %+v", cfg.Validation.Dates)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"inverted bands", "[bands]\npass = 0.4\npartial = 0.6\n", "bands.partial"},
		{"out of range", "[bands]\npass = 1.4\n", "between 0 and 1"},
		{"bad log format", "[logging]\nformat = \"xml\"\n", "logging.format"},
		{"zero workers", "[extraction]\nworkers = 0\n", "extraction.workers"},
		{"tenure band order", "[validation.tenure]\nhigh_band = 0.5\nmedium_band = 0.6\n", "strictly increasing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, _, _, err := Load(path)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestWriteSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("sample config must load: %v", err)
	}
	if !exists {
		t.Fatal("sample not found after write")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config must validate: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("WriteSample must refuse to overwrite")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandPath("~/x")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "x") {
		t.Fatalf("ExpandPath(~/x) = %s", got)
	}
	got, err = ExpandPath("")
	if err != nil || got != "" {
		t.Fatalf("empty path: %q, %v", got, err)
	}
}
