// Package logging assembles structured slog loggers and formatting helpers used
// across paperpipe.
//
// It owns the console and JSON handlers, tees a JSON copy into the log
// directory, and exposes context-aware helpers so stage code tags log lines
// with run IDs, stage names and identity keys. A no-op logger is provided for
// tests and wiring code that cannot fail.
package logging
