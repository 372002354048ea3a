// Package main hosts the speechflow CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon: adding recordings, confirming and removing
// pipelines, toggling template stages, completing interactive stages and
// downloading the protocol report. It also manages the daemon process and
// scaffolds configuration. Config resolution and API client setup live in
// the command context so subcommands can focus on rendering.
//
// Keep this package lean: new behaviour belongs in the scheduler or api
// packages first, then surfaces here as a command or flag.
package main
