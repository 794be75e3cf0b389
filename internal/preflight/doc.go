// Package preflight provides readiness checks for the external programs and
// filesystem paths flac2mp3 depends on.
//
// The transcode command runs these before any job is created: a missing
// program aborts the run with a distinct exit status, and an unusable output
// or state directory is reported before the worker pool starts. The check
// command renders the same results as a table.
package preflight
