// Package api serves the daemon's HTTP surface and provides the matching
// client used by the speechflow CLI.
//
// # Routes
//
// Every route lives under /api except the Prometheus endpoint at /metrics.
// Handlers translate requests into scheduler commands; the scheduler
// performs all mutations on its loop, so handlers never touch pipeline
// state directly.
//
// /api/events upgrades to a websocket. The server streams scheduler events
// from the sequenced hub starting after the `since` query parameter, and
// accepts completion messages from the interactive tools:
//
//	{"type":"completion","stageId":12,"url":"https://…/rec.par"}
//
// # Errors
//
// Failures are rendered as ErrorResponse with the HTTP status derived from
// the services marker carried by the error: validation errors map to 400,
// missing entries to 404, duplicates and non-interactive stages to 409 and a
// stopped scheduler to 503.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Scheduler views are passed through unchanged
// so the CLI and other consumers see the same shapes the scheduler builds.
// Every request carries an X-Request-ID (generated with google/uuid when the
// caller sends none) which is logged as the correlation id.
package api
