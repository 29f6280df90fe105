package config

const (
	defaultStateDir      = "~/.local/share/credence/state"
	defaultIntakeDir     = "~/.local/share/credence/intake"
	defaultLogDir        = "~/.local/share/credence/logs"
	defaultChecklistPath = "~/.config/credence/checklist.yaml"
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"

	defaultBandPass               = 0.80
	defaultBandPartial            = 0.50
	defaultCorroborationBoost     = 0.10
	defaultDateMaxDriftDays       = 120
	defaultDateMarginalDays       = 14
	defaultDateContextWindowDays  = 365
	defaultTenureMatchThreshold   = 0.80
	defaultTenureHighBand         = 0.90
	defaultTenureMediumBand       = 0.75
	defaultTenureLowBand          = 0.50
	defaultTenureSurnameBoost     = 0.05
	defaultProjectIDYearMin       = 1900
	defaultProjectIDYearMax       = 2100
	defaultExtractionTimeout      = 30
	defaultRetryMaxAttempts       = 5
	defaultRetryInitialDelayMS    = 500
	defaultRetryMaxDelayMS        = 8000
	defaultBreakerFailures        = 5
	defaultBreakerWindowSeconds   = 60
	defaultBreakerCooldownSeconds = 30
	defaultCacheTTLSeconds        = 3600
	defaultExtractionWorkers      = 4
	defaultLockTimeoutSeconds     = 10
	defaultLockStaleAfterSeconds  = 600
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:      defaultStateDir,
			IntakeDir:     defaultIntakeDir,
			LogDir:        defaultLogDir,
			ChecklistPath: defaultChecklistPath,
		},
		Bands: Bands{
			Pass:               defaultBandPass,
			Partial:            defaultBandPartial,
			CorroborationBoost: defaultCorroborationBoost,
		},
		Validation: Validation{
			Dates: Dates{
				MaxDriftDays:      defaultDateMaxDriftDays,
				MarginalDays:      defaultDateMarginalDays,
				ContextWindowDays: defaultDateContextWindowDays,
			},
			Tenure: Tenure{
				MatchThreshold: defaultTenureMatchThreshold,
				HighBand:       defaultTenureHighBand,
				MediumBand:     defaultTenureMediumBand,
				LowBand:        defaultTenureLowBand,
				SurnameBoost:   defaultTenureSurnameBoost,
			},
			ProjectID: ProjectID{
				ImplausibleMin: defaultProjectIDYearMin,
				ImplausibleMax: defaultProjectIDYearMax,
			},
		},
		Extraction: Extraction{
			TimeoutSeconds:          defaultExtractionTimeout,
			RetryMaxAttempts:        defaultRetryMaxAttempts,
			RetryInitialDelayMS:     defaultRetryInitialDelayMS,
			RetryMaxDelayMS:         defaultRetryMaxDelayMS,
			BreakerFailureThreshold: defaultBreakerFailures,
			BreakerWindowSeconds:    defaultBreakerWindowSeconds,
			BreakerCooldownSeconds:  defaultBreakerCooldownSeconds,
			CacheTTLSeconds:         defaultCacheTTLSeconds,
			Workers:                 defaultExtractionWorkers,
		},
		Session: Session{
			LockTimeoutSeconds:    defaultLockTimeoutSeconds,
			LockStaleAfterSeconds: defaultLockStaleAfterSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
