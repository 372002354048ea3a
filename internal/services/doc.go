// Package services defines shared utilities consumed by the pipeline stages,
// the scheduler and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp pipeline IDs, stage IDs, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (validation, provider, storage, duplicate entries) with
//     errors.Is instead of string matching.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability) stays uniform across the daemon.
package services
