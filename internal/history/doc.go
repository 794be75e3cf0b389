// Package history records transcode runs and their per-job outcomes in
// SQLite.
//
// The ledger is informational: a run that cannot open or write the database
// still transcodes, and callers log the failure rather than aborting. Schema
// changes bump schemaVersion; users delete history.db to adopt them.
package history
