package batch_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"flac2mp3/internal/batch"
	"flac2mp3/internal/encoding"
	"flac2mp3/internal/history"
	"flac2mp3/internal/testsupport"
	"flac2mp3/internal/workerpool"
)

type recorder struct {
	mu       sync.Mutex
	begun    []string
	jobs     map[string]encoding.OutcomeKind
	finished history.Totals
	done     bool
}

func (r *recorder) BeginRun(_ context.Context, id, _ string, _ int, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun = append(r.begun, id)
	r.jobs = make(map[string]encoding.OutcomeKind)
	return nil
}

func (r *recorder) RecordJob(_ context.Context, _ string, job encoding.Job, outcome encoding.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[filepath.Base(job.Input)] = outcome.Kind
	return nil
}

func (r *recorder) FinishRun(_ context.Context, _ string, totals history.Totals, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = totals
	r.done = true
	return nil
}

func mustExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}

func mustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be absent, stat err=%v", path, err)
	}
}

func TestRunMirrorsTreeAndCopiesMatches(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOutputDir(), testsupport.WithCodecStubs())
	cfg.Transcode.CopyPattern = `\.jpg$`
	src := filepath.Join(testsupport.BaseDir(cfg), "src", "album")
	testsupport.WriteFLAC(t, filepath.Join(src, "01.flac"), "one")
	testsupport.WriteFLAC(t, filepath.Join(src, "cd2", "02.flac"), "two")
	testsupport.WriteFile(t, filepath.Join(src, "cover.jpg"), 64)
	testsupport.WriteFile(t, filepath.Join(src, "notes.txt"), 16)

	rec := &recorder{}
	runner := batch.New(cfg, nil, batch.WithRecorder(rec))
	summary, err := runner.Run(context.Background(), batch.Request{Paths: []string{src}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Status != workerpool.StatusCompleted {
		t.Fatalf("status = %s, want completed (failures %+v)", summary.Status, summary.Failures)
	}
	if summary.Succeeded != 2 || summary.Copied != 1 || summary.NonFLAC != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	out := cfg.Paths.OutputDir
	mustExist(t, filepath.Join(out, "01.mp3"))
	mustExist(t, filepath.Join(out, "cd2", "02.mp3"))
	mustExist(t, filepath.Join(out, "cover.jpg"))
	mustNotExist(t, filepath.Join(out, "notes.txt"))

	data, err := os.ReadFile(filepath.Join(out, "cd2", "02.mp3"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "two") {
		t.Fatalf("unexpected output content %q", data)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.begun) != 1 || rec.begun[0] != summary.RunID {
		t.Fatalf("expected one recorded run %s, got %v", summary.RunID, rec.begun)
	}
	if rec.jobs["01.flac"] != encoding.OutcomeSuccess || rec.jobs["02.flac"] != encoding.OutcomeSuccess {
		t.Fatalf("unexpected recorded jobs %v", rec.jobs)
	}
	if !rec.done || rec.finished.Status != "completed" || rec.finished.Copied != 1 || rec.finished.Skipped != 1 {
		t.Fatalf("unexpected finished totals %+v", rec.finished)
	}
}

func TestRunWithoutOutputDirWritesBesideInputs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCodecStubs())
	cfg.Encoder.BadChars = ":"
	src := filepath.Join(testsupport.BaseDir(cfg), "src")
	input := filepath.Join(src, "Intro: Part 1.flac")
	testsupport.WriteFLAC(t, input, "pcm")

	summary, err := batch.New(cfg, nil).Run(context.Background(), batch.Request{Paths: []string{input}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	mustExist(t, filepath.Join(src, "Intro Part 1.mp3"))
}

func TestRunReadsInputListWithExplicitRoot(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOutputDir(), testsupport.WithCodecStubs())
	root := filepath.Join(testsupport.BaseDir(cfg), "library")
	cfg.Paths.RootDir = root
	a := filepath.Join(root, "artist", "a.flac")
	b := filepath.Join(root, "artist", "b.flac")
	testsupport.WriteFLAC(t, a, "a")
	testsupport.WriteFLAC(t, b, "b")

	list := strings.NewReader(a + "\n" + b + "\n" + a + "\n")
	summary, err := batch.New(cfg, nil).Run(context.Background(), batch.Request{List: list})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Succeeded != 2 || summary.Jobs() != 2 {
		t.Fatalf("expected two deduplicated jobs, got %+v", summary)
	}
	mustExist(t, filepath.Join(cfg.Paths.OutputDir, "artist", "a.mp3"))
	mustExist(t, filepath.Join(cfg.Paths.OutputDir, "artist", "b.mp3"))
}

func TestRunSkipExisting(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOutputDir(), testsupport.WithCodecStubs())
	cfg.Transcode.SkipExisting = true
	root := filepath.Join(testsupport.BaseDir(cfg), "library")
	cfg.Paths.RootDir = root
	testsupport.WriteFLAC(t, filepath.Join(root, "a.flac"), "a")
	existing := filepath.Join(cfg.Paths.OutputDir, "a.mp3")
	testsupport.WriteFile(t, existing, 10)

	summary, err := batch.New(cfg, nil).Run(context.Background(), batch.Request{Paths: []string{root}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Skipped != 1 || summary.Succeeded != 0 || summary.Status != workerpool.StatusCompleted {
		t.Fatalf("unexpected summary %+v", summary)
	}
	info, err := os.Stat(existing)
	if err != nil || info.Size() != 10 {
		t.Fatalf("existing output should be untouched: %v", err)
	}
}

func TestRunFailFastStopsAfterFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOutputDir(), testsupport.WithCodecStubs(), testsupport.WithWorkers(1))
	root := filepath.Join(testsupport.BaseDir(cfg), "library")
	cfg.Paths.RootDir = root
	bad := filepath.Join(root, "01-"+testsupport.MarkerDecodeFail+".flac")
	testsupport.WriteFLAC(t, bad, "x")
	for _, name := range []string{"02.flac", "03.flac", "04.flac"} {
		testsupport.WriteFLAC(t, filepath.Join(root, name), "ok")
	}

	summary, err := batch.New(cfg, nil).Run(context.Background(), batch.Request{Paths: []string{root}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Status != workerpool.StatusFailed {
		t.Fatalf("status = %s, want failed", summary.Status)
	}
	if summary.Failed != 1 || len(summary.Failures) != 1 || summary.Failures[0].Input != bad {
		t.Fatalf("unexpected failures %+v", summary)
	}
	if summary.Succeeded != 0 {
		t.Fatalf("no job should run after the first failure with one worker, got %+v", summary)
	}
	mustNotExist(t, filepath.Join(cfg.Paths.OutputDir, "01-"+testsupport.MarkerDecodeFail+".mp3"))
}

func TestRunContinuesWithoutFailFast(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOutputDir(), testsupport.WithCodecStubs(), testsupport.WithWorkers(1))
	cfg.Transcode.FailFast = false
	root := filepath.Join(testsupport.BaseDir(cfg), "library")
	cfg.Paths.RootDir = root
	testsupport.WriteFLAC(t, filepath.Join(root, "01-"+testsupport.MarkerDecodeFail+".flac"), "x")
	testsupport.WriteFLAC(t, filepath.Join(root, "02.flac"), "ok")

	summary, err := batch.New(cfg, nil).Run(context.Background(), batch.Request{Paths: []string{root}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Status != workerpool.StatusFailed || summary.Failed != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunCancellationAbortsJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOutputDir(), testsupport.WithCodecStubs(), testsupport.WithWorkers(1))
	root := filepath.Join(testsupport.BaseDir(cfg), "library")
	cfg.Paths.RootDir = root
	testsupport.WriteFLAC(t, filepath.Join(root, "01-"+testsupport.MarkerBlock+".flac"), "x")
	testsupport.WriteFLAC(t, filepath.Join(root, "02.flac"), "ok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hook := func(pool *workerpool.Pool) {
		go func() {
			deadline := time.Now().Add(5 * time.Second)
			for pool.Stats().Running == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			// Give the blocking decoder a moment to start.
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
	}

	summary, err := batch.New(cfg, nil, batch.WithPoolHook(hook)).Run(ctx, batch.Request{Paths: []string{root}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Status != workerpool.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", summary.Status)
	}
	if summary.Aborted != 1 || summary.Failed != 0 || summary.Succeeded != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	entries, err := os.ReadDir(cfg.Paths.OutputDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("cancelled run left files behind: %v", entries)
	}
}

func TestRunCancelAfterFailureReportsFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOutputDir(), testsupport.WithCodecStubs(), testsupport.WithWorkers(2))
	root := filepath.Join(testsupport.BaseDir(cfg), "library")
	cfg.Paths.RootDir = root
	testsupport.WriteFLAC(t, filepath.Join(root, "01-"+testsupport.MarkerBlock+".flac"), "x")
	testsupport.WriteFLAC(t, filepath.Join(root, "02-"+testsupport.MarkerDecodeFail+".flac"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hook := func(pool *workerpool.Pool) {
		go func() {
			deadline := time.Now().Add(5 * time.Second)
			for pool.Stats().Failed == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			cancel()
		}()
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	summary, err := batch.New(cfg, logger, batch.WithPoolHook(hook)).Run(ctx, batch.Request{Paths: []string{root}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Status != workerpool.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", summary.Status)
	}
	if summary.Failed != 1 || summary.Aborted != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !strings.Contains(logs.String(), "(1 failed before cancellation)") {
		t.Fatalf("final log line does not mention the failure:\n%s", logs.String())
	}
}
