// Package batch orchestrates one transcode run.
//
// A run enumerates inputs, classifies each file, copies or skips non-FLAC
// files, and feeds FLAC files to a worker pool as jobs. Outcomes are logged
// as they arrive, recorded to the optional history ledger, and folded into a
// Summary that the CLI turns into an exit code.
//
// When an output directory is set without an explicit root, every input is
// enumerated up front so the common parent directory is known before the
// first output path is computed; otherwise inputs stream straight into the
// pool.
package batch
