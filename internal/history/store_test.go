package history_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flac2mp3/internal/encoding"
	"flac2mp3/internal/history"
	"flac2mp3/internal/services"
	"flac2mp3/internal/testsupport"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := os.Stat(cfg.HistoryPath()); err != nil {
		t.Fatalf("expected database at %s: %v", cfg.HistoryPath(), err)
	}
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.BeginRun(ctx, "run-1", "/srv/mp3", 4, start); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	running, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if running.Status != history.StatusRunning || running.Duration() != 0 {
		t.Fatalf("unexpected running run %+v", running)
	}

	ok := encoding.Job{ID: "job-a", Input: "/music/a.flac"}
	bad := encoding.Job{ID: "job-b", Input: "/music/b.flac"}
	if err := store.RecordJob(ctx, "run-1", ok, encoding.Outcome{
		Kind: encoding.OutcomeSuccess, Output: "/srv/mp3/a.mp3", Elapsed: 1500 * time.Millisecond, OutputBytes: 4096,
	}); err != nil {
		t.Fatalf("RecordJob failed: %v", err)
	}
	failure := services.Wrap(services.ErrExternalTool, "encode", "lame", "exit status 2", nil)
	if err := store.RecordJob(ctx, "run-1", bad, encoding.Outcome{Kind: encoding.OutcomeFailed, Err: failure}); err != nil {
		t.Fatalf("RecordJob failed: %v", err)
	}

	totals := history.Totals{Status: "failed", Succeeded: 1, Failed: 1, OutputBytes: 4096}
	if err := store.FinishRun(ctx, "run-1", totals, start.Add(3*time.Second)); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != "failed" || run.Succeeded != 1 || run.Failed != 1 || run.OutputBytes != 4096 {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.OutputDir != "/srv/mp3" || run.Workers != 4 {
		t.Fatalf("unexpected run metadata %+v", run)
	}
	if run.Duration() != 3*time.Second {
		t.Fatalf("duration = %s, want 3s", run.Duration())
	}

	jobs, err := store.Jobs(ctx, "run-1")
	if err != nil {
		t.Fatalf("Jobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].ID != "job-a" || jobs[0].Outcome != "success" || jobs[0].Elapsed != 1500*time.Millisecond || jobs[0].OutputBytes != 4096 {
		t.Fatalf("unexpected first job %+v", jobs[0])
	}
	if jobs[1].Outcome != "failed" || jobs[1].ErrorMarker != "external_tool" || jobs[1].Reason == "" {
		t.Fatalf("unexpected second job %+v", jobs[1])
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "middle", "new"} {
		if err := store.BeginRun(ctx, id, "", 1, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("BeginRun %s failed: %v", id, err)
		}
	}

	runs, err := store.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "middle" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if runs[0].OutputDir != "" {
		t.Fatalf("expected empty output dir, got %q", runs[0].OutputDir)
	}
}

func TestFinishUnknownRun(t *testing.T) {
	store := openStore(t)
	err := store.FinishRun(context.Background(), "missing", history.Totals{Status: "completed"}, time.Now())
	if !errors.Is(err, history.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := store.GetRun(context.Background(), "missing"); !errors.Is(err, history.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound from GetRun, got %v", err)
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	if err := store.BeginRun(context.Background(), "persisted", "", 2, time.Now()); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := history.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if reopened.Path() != path {
		t.Fatalf("Path = %q, want %q", reopened.Path(), path)
	}
	if _, err := reopened.GetRun(context.Background(), "persisted"); err != nil {
		t.Fatalf("GetRun after reopen failed: %v", err)
	}
}
