package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"flac2mp3/internal/config"
	"flac2mp3/internal/discovery"
	"flac2mp3/internal/encoding"
	"flac2mp3/internal/filetype"
	"flac2mp3/internal/fileutil"
	"flac2mp3/internal/history"
	"flac2mp3/internal/logging"
	"flac2mp3/internal/services"
	"flac2mp3/internal/tags"
	"flac2mp3/internal/workerpool"
)

// Classifier decides whether an input is a FLAC stream.
type Classifier interface {
	IsFLAC(ctx context.Context, path string) (bool, error)
}

// Recorder persists run progress. *history.Store satisfies it.
type Recorder interface {
	BeginRun(ctx context.Context, id, outputDir string, workers int, startedAt time.Time) error
	RecordJob(ctx context.Context, runID string, job encoding.Job, outcome encoding.Outcome) error
	FinishRun(ctx context.Context, id string, totals history.Totals, finishedAt time.Time) error
}

// Request lists the inputs of a run.
type Request struct {
	Paths []string
	// List supplies extra paths one per line (a list file or stdin).
	List io.Reader
}

// Runner executes transcode runs for a configuration.
type Runner struct {
	cfg        *config.Config
	base       *slog.Logger
	logger     *slog.Logger
	pipeline   workerpool.Runner
	classifier Classifier
	recorder   Recorder
	copyRe     *regexp.Regexp
	onPool     func(*workerpool.Pool)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithPipeline replaces the transcode pipeline.
func WithPipeline(p workerpool.Runner) Option {
	return func(r *Runner) { r.pipeline = p }
}

// WithClassifier replaces the file type classifier.
func WithClassifier(c Classifier) Option {
	return func(r *Runner) { r.classifier = c }
}

// WithRecorder enables history recording.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithPoolHook is called with the pool before it starts, so callers can
// Cancel it or sample Stats.
func WithPoolHook(fn func(*workerpool.Pool)) Option {
	return func(r *Runner) { r.onPool = fn }
}

// New builds a Runner wired to the tools named in cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		base:       logger,
		logger:     logging.NewComponentLogger(logger, "batch"),
		classifier: filetype.NewClassifier(cfg.Tools.File),
		copyRe:     cfg.CopyPatternRegexp(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pipeline == nil {
		reader := tags.NewReader(cfg.Tools.Metaflac)
		reader.Logger = logging.NewComponentLogger(logger, "tags")
		r.pipeline = encoding.NewPipeline(cfg.Tools.Flac, cfg.Tools.Lame, reader, logger)
	}
	return r
}

func (r *Runner) settings() encoding.Settings {
	enc := r.cfg.Encoder
	return encoding.Settings{
		SkipExisting:   r.cfg.Transcode.SkipExisting,
		Preset:         enc.Preset,
		VBRQuality:     enc.VBRQuality,
		VBRSet:         enc.VBRQuality >= 0,
		BadChars:       enc.BadChars,
		NormalizeNames: enc.NormalizeUnicode,
	}
}

func (r *Runner) policy() workerpool.Policy {
	if r.cfg.Transcode.FailFast {
		return workerpool.PolicyFailFast
	}
	return workerpool.PolicyContinue
}

// Run transcodes every input in req. The returned error covers setup
// problems only; job failures and cancellation are reported in the Summary.
func (r *Runner) Run(ctx context.Context, req Request) (Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)
	summary := Summary{RunID: runID}

	layout := discovery.Layout{OutputDir: r.cfg.Paths.OutputDir, Root: r.cfg.Paths.RootDir}
	if layout.Enabled() {
		if err := os.MkdirAll(layout.OutputDir, 0o755); err != nil {
			return summary, services.Wrap(services.ErrFilesystem, "batch", "create output dir", layout.OutputDir, err)
		}
	}

	opts := discovery.Options{Paths: req.Paths, List: req.List, FollowLinks: r.cfg.Transcode.FollowLinks, Logger: logger}
	source := func(ctx context.Context, yield func(string) error) error {
		return discovery.Enumerate(ctx, opts, yield)
	}
	if layout.Enabled() && layout.Root == "" {
		logger.Info("Enumerating files...")
		files, err := discovery.Collect(ctx, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				summary.Status = workerpool.StatusCancelled
				summary.Elapsed = time.Since(start)
				r.finish(ctx, logger, nil, summary)
				return summary, nil
			}
			return summary, services.Wrap(services.ErrFilesystem, "batch", "enumerate inputs", "", err)
		}
		layout.Root = discovery.CommonDir(files)
		logger.Info(fmt.Sprintf("Found %d files", len(files)),
			logging.Int("files", len(files)),
			logging.String("root", layout.Root),
		)
		source = replay(files)
	}

	workers := r.cfg.Transcode.Workers
	recorder := r.begin(ctx, logger, runID, workers, start)
	logger.Info("Beginning transcode...",
		logging.Int("workers", workers),
		logging.String("policy", r.policy().String()),
		logging.String("output_dir", layout.OutputDir),
	)

	pool := workerpool.New(r.pipeline, workerpool.Options{
		Workers:      workers,
		Policy:       r.policy(),
		PollInterval: r.cfg.PollInterval(),
		JobTimeout:   r.cfg.JobTimeout(),
		Logger:       r.base,
	})
	if r.onPool != nil {
		r.onPool(pool)
	}

	produceCtx, stopProducing := context.WithCancel(ctx)
	defer stopProducing()
	jobs := make(chan encoding.Job)
	produced := make(chan produceResult, 1)
	go func() {
		produced <- r.produce(produceCtx, logger, source, layout, jobs)
	}()

	results := make(chan workerpool.Result)
	statusCh := make(chan workerpool.Status, 1)
	go func() {
		statusCh <- pool.Run(ctx, jobs, results)
	}()

	for res := range results {
		r.report(ctx, logger, recorder, runID, res)
		summary.add(res)
	}
	summary.Status = <-statusCh
	stopProducing()
	prod := <-produced

	summary.NonFLAC = prod.nonFLAC
	summary.Copied = prod.copied
	summary.CopyFailed = prod.copyFailed
	summary.Undispatched = pool.Stats().Undispatched
	if prod.err != nil && !errors.Is(prod.err, context.Canceled) {
		logging.ErrorWithContext(logger, "Input enumeration failed", "enumeration_failed",
			logging.Error(prod.err),
			logging.String(logging.FieldErrorHint, "check that every input path is readable"),
		)
		summary.Failed++
		summary.Failures = append(summary.Failures, Failure{Reason: prod.err.Error()})
	}
	if summary.Status == workerpool.StatusCompleted && (summary.Failed > 0 || summary.CopyFailed > 0) {
		summary.Status = workerpool.StatusFailed
	}
	summary.Elapsed = time.Since(start)

	r.finish(ctx, logger, recorder, summary)
	return summary, nil
}

func replay(files []string) func(context.Context, func(string) error) error {
	return func(ctx context.Context, yield func(string) error) error {
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := yield(f); err != nil {
				return err
			}
		}
		return nil
	}
}

type produceResult struct {
	nonFLAC    int
	copied     int
	copyFailed int
	err        error
}

// produce classifies inputs and sends FLAC jobs until the source is
// exhausted or ctx ends. It always closes jobs.
func (r *Runner) produce(ctx context.Context, logger *slog.Logger, source func(context.Context, func(string) error) error, layout discovery.Layout, jobs chan<- encoding.Job) produceResult {
	defer close(jobs)
	var res produceResult
	settings := r.settings()

	res.err = source(ctx, func(input string) error {
		isFLAC, err := r.classifier.IsFLAC(ctx, input)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Debug("type detection failed", logging.String("input", input), logging.Error(err))
		}
		if !isFLAC {
			r.passThrough(ctx, logger, layout, input, &res)
			return nil
		}

		output := ""
		if layout.Enabled() {
			output = encoding.ChangeExt(layout.OutputPath(input), encoding.OutputExt)
		}
		job := settings.NewJob(input, output)
		select {
		case jobs <- job:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return res
}

// passThrough copies a non-FLAC input into the output tree when it matches
// the copy pattern and logs it as skipped otherwise.
func (r *Runner) passThrough(ctx context.Context, logger *slog.Logger, layout discovery.Layout, input string, res *produceResult) {
	if layout.Enabled() && r.copyRe != nil {
		if loc := r.copyRe.FindStringIndex(input); loc != nil {
			match := input[loc[0]:loc[1]]
			dest := layout.OutputPath(input)
			err := os.MkdirAll(filepath.Dir(dest), 0o755)
			if err == nil {
				err = fileutil.CopyFileVerified(input, dest)
			}
			if err != nil {
				res.copyFailed++
				logging.ErrorWithContext(logger, "Failed to copy", "copy_failed",
					logging.String("input", input),
					logging.String("output", dest),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check permissions on the output directory"),
				)
				return
			}
			res.copied++
			logger.Info("Copied",
				logging.String("input", input),
				logging.String("output", dest),
				logging.String("match", match),
			)
			return
		}
	}
	res.nonFLAC++
	logger.Info("Skipped", logging.String("input", input), logging.String("reason", "not a FLAC file"))
}

func (r *Runner) report(ctx context.Context, logger *slog.Logger, recorder Recorder, runID string, res workerpool.Result) {
	o := res.Outcome
	jobLogger := logging.WithContext(services.WithJobID(ctx, res.Job.ID), r.logger)
	secs := o.Elapsed.Seconds()
	switch o.Kind {
	case encoding.OutcomeSuccess:
		jobLogger.Info(fmt.Sprintf("Transcoded in %.2f seconds", secs),
			logging.String("input", res.Job.Input),
			logging.String("output", o.Output),
			logging.Int64("output_bytes", o.OutputBytes),
		)
	case encoding.OutcomeSkipped:
		jobLogger.Info("Skipped",
			logging.String("input", res.Job.Input),
			logging.String("reason", o.Reason),
		)
	case encoding.OutcomeAborted:
		jobLogger.Info("Aborted",
			logging.String("input", res.Job.Input),
			logging.Duration("elapsed", o.Elapsed),
		)
	default:
		logging.ErrorWithContext(jobLogger, fmt.Sprintf("Failed to transcode after %.2f seconds", secs), "transcode_failed",
			logging.String("input", res.Job.Input),
			logging.String("reason", o.Reason),
			logging.Int("decode_exit", o.DecodeExit),
			logging.Int("encode_exit", o.EncodeExit),
			logging.String("error_marker", services.Marker(o.Err)),
			logging.String(logging.FieldErrorHint, "re-run with --log-level debug to see codec stderr"),
		)
	}

	if recorder != nil {
		if err := recorder.RecordJob(context.WithoutCancel(ctx), runID, res.Job, o); err != nil {
			logger.Warn("history record failed", logging.String("input", res.Job.Input), logging.Error(err))
		}
	}
}

// begin registers the run and returns the recorder to use for it, or nil
// when history is disabled or unavailable.
func (r *Runner) begin(ctx context.Context, logger *slog.Logger, runID string, workers int, start time.Time) Recorder {
	if r.recorder == nil {
		return nil
	}
	if err := r.recorder.BeginRun(ctx, runID, r.cfg.Paths.OutputDir, workers, start); err != nil {
		logging.WarnWithContext(logger, "history unavailable for this run", "history_begin_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run will not appear in history"),
		)
		return nil
	}
	return r.recorder
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, recorder Recorder, s Summary) {
	secs := s.Elapsed.Seconds()
	attrs := []logging.Attr{
		logging.Int("succeeded", s.Succeeded),
		logging.Int("skipped", s.Skipped+s.NonFLAC),
		logging.Int("failed", s.Failed+s.CopyFailed),
		logging.Int("aborted", s.Aborted),
		logging.Int("copied", s.Copied),
		logging.Int64("output_bytes", s.OutputBytes),
	}
	switch s.Status {
	case workerpool.StatusCancelled:
		attrs = append(attrs, logging.Int("undispatched", s.Undispatched))
		msg := fmt.Sprintf("User terminated transcode after %.2f seconds", secs)
		// Cancellation decides the exit code, so earlier failures go in the message.
		if failed := s.Failed + s.CopyFailed; failed > 0 {
			msg += fmt.Sprintf(" (%d failed before cancellation)", failed)
		}
		logger.Warn(msg, logging.Args(attrs...)...)
	case workerpool.StatusFailed:
		logger.Error(fmt.Sprintf("Transcode failed after %.2f seconds", secs), logging.Args(attrs...)...)
	default:
		logger.Info(fmt.Sprintf("Completed transcode in %.2f seconds", secs), logging.Args(attrs...)...)
	}

	if recorder != nil {
		if err := recorder.FinishRun(context.WithoutCancel(ctx), s.RunID, s.totals(), time.Now()); err != nil {
			logger.Warn("history finish failed", logging.Error(err))
		}
	}
}
