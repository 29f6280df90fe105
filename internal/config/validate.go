package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBands(); err != nil {
		return err
	}
	if err := c.validateValidation(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateBands() error {
	if err := ensureUnitRange(map[string]float64{
		"bands.pass":                c.Bands.Pass,
		"bands.partial":             c.Bands.Partial,
		"bands.corroboration_boost": c.Bands.CorroborationBoost,
	}); err != nil {
		return err
	}
	if c.Bands.Partial >= c.Bands.Pass {
		return errors.New("bands.partial must be below bands.pass")
	}
	return nil
}

func (c *Config) validateValidation() error {
	if c.Validation.Dates.MaxDriftDays <= 0 {
		return errors.New("validation.dates.max_drift_days must be positive")
	}
	if c.Validation.Dates.MarginalDays < 0 {
		return errors.New("validation.dates.marginal_days must not be negative")
	}
	t := c.Validation.Tenure
	if err := ensureUnitRange(map[string]float64{
		"validation.tenure.match_threshold": t.MatchThreshold,
		"validation.tenure.high_band":       t.HighBand,
		"validation.tenure.medium_band":     t.MediumBand,
		"validation.tenure.low_band":        t.LowBand,
		"validation.tenure.surname_boost":   t.SurnameBoost,
	}); err != nil {
		return err
	}
	if !(t.LowBand < t.MediumBand && t.MediumBand < t.HighBand) {
		return errors.New("validation.tenure bands must be strictly increasing (low < medium < high)")
	}
	p := c.Validation.ProjectID
	if p.ImplausibleMin >= p.ImplausibleMax {
		return errors.New("validation.project_id.implausible_min must be below implausible_max")
	}
	return nil
}

func (c *Config) validateExtraction() error {
	return ensurePositiveMap(map[string]int{
		"extraction.timeout_seconds":           c.Extraction.TimeoutSeconds,
		"extraction.retry_max_attempts":        c.Extraction.RetryMaxAttempts,
		"extraction.retry_initial_delay_ms":    c.Extraction.RetryInitialDelayMS,
		"extraction.retry_max_delay_ms":        c.Extraction.RetryMaxDelayMS,
		"extraction.breaker_failure_threshold": c.Extraction.BreakerFailureThreshold,
		"extraction.breaker_window_seconds":    c.Extraction.BreakerWindowSeconds,
		"extraction.breaker_cooldown_seconds":  c.Extraction.BreakerCooldownSeconds,
		"extraction.cache_ttl_seconds":         c.Extraction.CacheTTLSeconds,
		"extraction.workers":                   c.Extraction.Workers,
	})
}

func (c *Config) validateSession() error {
	return ensurePositiveMap(map[string]int{
		"session.lock_timeout_seconds":     c.Session.LockTimeoutSeconds,
		"session.lock_stale_after_seconds": c.Session.LockStaleAfterSeconds,
	})
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	return nil
}

func ensureUnitRange(values map[string]float64) error {
	for name, value := range values {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %g", name, value)
		}
	}
	return nil
}
