// Package services defines shared utilities consumed by the transcode
// pipeline, the worker pool, and the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp run and job identifiers plus stage names for
//     logging and correlation.
//   - Structured error markers plus the Wrap helper that classify failures
//     (external tool, filesystem, timeout) so the pool can decide whether a
//     failure halts further dispatch.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability) stays uniform across the tool.
package services
