// Package config loads, validates, and normalizes the TOML configuration
// file that controls paths, confidence bands, validator thresholds, the
// extraction client, and session locking.
package config
