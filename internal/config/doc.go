// Package config loads, normalizes, and validates speechflow configuration data.
//
// It supplies repository defaults (XDG base directories), expands user paths
// including tilde shortcuts, reads TOML files, loads optional .env files, and
// honours environment overrides such as SPEECHFLOW_ACCESS_CODE. The Config type
// centralizes every knob the daemon and CLI need, including provider hosts per
// language, scheduler limits, and storage backends.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
