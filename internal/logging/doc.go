// Package logging constructs slog loggers and shared attribute helpers used
// across the application.
package logging
