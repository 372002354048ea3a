// Package preflight provides readiness checks for the provider hosts, the
// state store and the filesystem paths speechflow depends on.
//
// These checks run in two contexts:
//   - The daemon logs a snapshot of RunAll at startup so misconfiguration
//     shows up before the first stage fails.
//   - The CLI "speechflow check" command renders RunAll as a table.
//
// Checks never mutate state; the storage check only opens and closes the
// configured backend.
package preflight
