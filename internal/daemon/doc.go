// Package daemon coordinates the long-running speechflow process.
//
// It wires configuration, the state store, the scheduler and the HTTP API
// into a single lifecycle with flock-based locking to prevent multiple
// instances from sharing one data directory. Persisted pipelines are
// imported before the scheduler starts so ids and counters are restored
// before the first tick.
//
// Keep orchestration logic here: scheduling rules live in the scheduler
// package and request handling in the api package, while the daemon focuses
// on startup, shutdown and high level coordination.
package daemon
