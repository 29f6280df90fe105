package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir      string `toml:"state_dir"`
	IntakeDir     string `toml:"intake_dir"`
	LogDir        string `toml:"log_dir"`
	ChecklistPath string `toml:"checklist_path"`
}

// Bands contains the confidence-band boundaries used when aggregating
// evidence snippets into a requirement status. The boundaries are carried
// into every session's configuration so they can be tuned without code
// changes.
type Bands struct {
	// Pass is the minimum aggregated confidence for a covered requirement.
	Pass float64 `toml:"pass"`
	// Partial is the minimum aggregated confidence for partial coverage.
	Partial float64 `toml:"partial"`
	// CorroborationBoost is added when two independent sources agree above
	// the pass band.
	CorroborationBoost float64 `toml:"corroboration_boost"`
}

// Dates contains thresholds for the date alignment validator.
type Dates struct {
	// MaxDriftDays is the largest acceptable day delta between two dated fields.
	MaxDriftDays int `toml:"max_drift_days"`
	// MarginalDays extends MaxDriftDays into a warning band before a hard fail.
	MarginalDays int `toml:"marginal_days"`
	// ContextWindowDays bounds how far an ambiguous-date candidate may sit
	// from other dates in the same document and still be resolved by context.
	ContextWindowDays int `toml:"context_window_days"`
}

// Tenure contains thresholds for the land tenure name validator.
type Tenure struct {
	// MatchThreshold is the similarity at which a name pair is considered a match.
	MatchThreshold float64 `toml:"match_threshold"`
	// HighBand and the bands below it are lower bounds on similarity.
	HighBand     float64 `toml:"high_band"`
	MediumBand   float64 `toml:"medium_band"`
	LowBand      float64 `toml:"low_band"`
	SurnameBoost float64 `toml:"surname_boost"`
}

// ProjectID contains settings for the project identifier validator.
type ProjectID struct {
	// ImplausibleMin/Max bound the numeric range excluded as year-like noise.
	ImplausibleMin int `toml:"implausible_min"`
	ImplausibleMax int `toml:"implausible_max"`
}

// Validation groups validator thresholds.
type Validation struct {
	Dates     Dates     `toml:"dates"`
	Tenure    Tenure    `toml:"tenure"`
	ProjectID ProjectID `toml:"project_id"`
}

// Extraction contains settings for the structured extraction client.
type Extraction struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`

	RetryMaxAttempts    int `toml:"retry_max_attempts"`
	RetryInitialDelayMS int `toml:"retry_initial_delay_ms"`
	RetryMaxDelayMS     int `toml:"retry_max_delay_ms"`

	BreakerFailureThreshold int `toml:"breaker_failure_threshold"`
	BreakerWindowSeconds    int `toml:"breaker_window_seconds"`
	BreakerCooldownSeconds  int `toml:"breaker_cooldown_seconds"`

	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
	Workers         int `toml:"workers"`
}

// Session contains settings for session locking and recovery.
type Session struct {
	LockTimeoutSeconds    int `toml:"lock_timeout_seconds"`
	LockStaleAfterSeconds int `toml:"lock_stale_after_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Credence.
//
// Configuration sections by subsystem:
//   - Paths: state, intake, and log directories plus the checklist definition
//   - Bands: evidence aggregation confidence bands
//   - Validation: per-validator thresholds (dates, tenure, project id)
//   - Extraction: external extraction service client, retry, breaker, cache
//   - Session: lock acquisition and stale-lock reclaim timing
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Bands      Bands      `toml:"bands"`
	Validation Validation `toml:"validation"`
	Extraction Extraction `toml:"extraction"`
	Session    Session    `toml:"session"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/credence/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. When no file exists at
// the resolved path, defaults are used.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the application writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.IntakeDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath resolves ~ and relative segments to an absolute path.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
