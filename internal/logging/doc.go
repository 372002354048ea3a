// Package logging assembles structured slog loggers for the speechflow daemon
// and CLI.
//
// It owns the console and JSON handlers, rotates file output through
// lumberjack, applies per-component level overrides, and exposes
// context-aware helpers so scheduler and stage code tag log lines with
// pipeline IDs, stage IDs, and request correlation IDs. NewNop supplies a
// silent logger for tests and wiring code that cannot fail.
package logging
