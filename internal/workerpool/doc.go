// Package workerpool runs transcode jobs with bounded concurrency.
//
// A Pool reads jobs lazily from a channel into an unbounded pending queue and
// keeps at most Workers pipelines running. Completions are observed as they
// happen and on a poll tick; the tick also enforces the optional per-job
// deadline. Under the fail-fast policy the first failed job stops dispatch,
// lets in-flight jobs finish, and reports buffered jobs as skipped. Cancel
// (or cancelling the Run context) terminates in-flight jobs, which then report
// Aborted, and leaves pending jobs undispatched.
//
// Every piece of pool state sits behind one mutex; runners never see it.
package workerpool
