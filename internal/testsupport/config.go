package testsupport

import (
	"path/filepath"
	"testing"

	"credence/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.IntakeDir = filepath.Join(base, "intake")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ChecklistPath = filepath.Join(base, "checklist.yaml")
	cfgVal.Extraction.BaseURL = "http://127.0.0.1:0"
	cfgVal.Extraction.APIKey = "test"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := cfgVal.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithExtractionURL points the extraction client at the given base URL,
// usually an httptest server.
func WithExtractionURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Extraction.BaseURL = url
	}
}

// WithWorkers overrides the extraction worker count on the test config.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Extraction.Workers = n
	}
}
