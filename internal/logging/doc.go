// Package logging assembles structured slog loggers and formatting helpers used
// across MaiChart services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so worker and HTTP code can
// automatically tag log lines with session IDs, stages, worker names, and
// correlation IDs. The package also provides a no-op logger for tests.
package logging
