// Package scheduler owns the registry and decides which pipeline runs next.
//
// Every registry and pipeline mutation happens on a single loop goroutine.
// Ticks, ingest results, provider outcomes and API commands are posted to
// the loop as closures, so pipeline code never needs locks of its own.
// Provider calls run on their own goroutines and hand their outcome back to
// the loop through the dispatcher.
//
// Persistence follows registry changes: added and changed entries are
// written to the store, removed entries deleted, and every stage event of a
// registered pipeline rewrites its top-level entry and the protocol report.
package scheduler
