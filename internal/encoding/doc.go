// Package encoding runs the FLAC to MP3 transcode pipeline for a single job.
//
// A Pipeline resolves the destination name, honours skip-existing, reads the
// source tags, then streams `flac --decode` into `lame` through an explicit OS
// pipe while lame writes into a hidden temp file beside the destination. The
// temp file is renamed into place only after both processes exit zero, so a
// destination path never shows partial content.
//
// Each codec process runs in its own process group; cancelling the job context
// sends SIGTERM to both groups and escalates to SIGKILL after a grace period.
// Every call to Run yields exactly one Outcome.
package encoding
