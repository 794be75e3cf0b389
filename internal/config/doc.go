// Package config loads, normalizes, and validates flac2mp3 configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob the
// CLI, the transcode pipeline, and the worker pool need, so encoder settings,
// tool binaries, and concurrency limits are discovered in one pass. Command
// line flags are applied on top of the loaded values by the CLI.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
