package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flac2mp3/internal/encoding"
	"flac2mp3/internal/services"
)

// Run is one recorded transcode invocation.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	OutputDir   string
	Workers     int
	Succeeded   int
	Skipped     int
	Failed      int
	Aborted     int
	Copied      int
	OutputBytes int64
}

// Duration returns the run wall time, or zero while it is still running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// JobRecord is the persisted outcome of one job.
type JobRecord struct {
	ID          string
	RunID       string
	Input       string
	Output      string
	Outcome     string
	Reason      string
	ErrorMarker string
	Elapsed     time.Duration
	OutputBytes int64
	RecordedAt  time.Time
}

// Totals carries the final counters of a run.
type Totals struct {
	Status      string
	Succeeded   int
	Skipped     int
	Failed      int
	Aborted     int
	Copied      int
	OutputBytes int64
}

// StatusRunning marks a run that has not finished (or whose process died).
const StatusRunning = "running"

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// BeginRun inserts a run row in the running state.
func (s *Store) BeginRun(ctx context.Context, id, outputDir string, workers int, startedAt time.Time) error {
	err := s.exec(ctx,
		`INSERT INTO runs (id, started_at, status, output_dir, workers) VALUES (?, ?, ?, ?, ?)`,
		id, formatTime(startedAt), StatusRunning, nullableString(outputDir), workers,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", id, err)
	}
	return nil
}

// RecordJob stores the outcome of one job belonging to runID.
func (s *Store) RecordJob(ctx context.Context, runID string, job encoding.Job, outcome encoding.Outcome) error {
	reason := outcome.Reason
	if reason == "" && outcome.Err != nil {
		reason = outcome.Err.Error()
	}
	err := s.exec(ctx,
		`INSERT OR REPLACE INTO jobs (id, run_id, input, output, outcome, reason, error_marker, elapsed_ms, output_bytes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, runID, job.Input, nullableString(outcome.Output), outcome.Kind.String(),
		nullableString(reason), nullableString(services.Marker(outcome.Err)),
		outcome.Elapsed.Milliseconds(), outcome.OutputBytes, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// FinishRun stamps the run with its final status and counters.
func (s *Store) FinishRun(ctx context.Context, id string, totals Totals, finishedAt time.Time) error {
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET finished_at = ?, status = ?, succeeded = ?, skipped = ?, failed = ?, aborted = ?, copied = ?, output_bytes = ?
			 WHERE id = ?`,
			formatTime(finishedAt), totals.Status, totals.Succeeded, totals.Skipped, totals.Failed,
			totals.Aborted, totals.Copied, totals.OutputBytes, id,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

const runColumns = `id, started_at, COALESCE(finished_at, ''), status, COALESCE(output_dir, ''), workers,
	succeeded, skipped, failed, aborted, copied, output_bytes`

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns the run with the given ID.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return run, err
}

// Jobs returns the job records of a run in the order they finished.
func (s *Store) Jobs(ctx context.Context, runID string) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, run_id, input, COALESCE(output, ''), outcome, COALESCE(reason, ''), COALESCE(error_marker, ''),
		        elapsed_ms, output_bytes, recorded_at
		 FROM jobs WHERE run_id = ? ORDER BY recorded_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query jobs for run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		var (
			rec        JobRecord
			elapsedMS  int64
			recordedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Input, &rec.Output, &rec.Outcome, &rec.Reason,
			&rec.ErrorMarker, &elapsedMS, &rec.OutputBytes, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if rec.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run               Run
		started, finished string
	)
	if err := scanner.Scan(&run.ID, &started, &finished, &run.Status, &run.OutputDir, &run.Workers,
		&run.Succeeded, &run.Skipped, &run.Failed, &run.Aborted, &run.Copied, &run.OutputBytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return run, nil
}
