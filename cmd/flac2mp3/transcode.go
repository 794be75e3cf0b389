package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flac2mp3/internal/batch"
	"flac2mp3/internal/config"
	"flac2mp3/internal/deps"
	"flac2mp3/internal/history"
	"flac2mp3/internal/logging"
	"flac2mp3/internal/preflight"
	"flac2mp3/internal/runlock"
	"flac2mp3/internal/workerpool"
)

// transcodeFlags holds per-invocation overrides of the configuration.
type transcodeFlags struct {
	outputDir    string
	rootDir      string
	listFile     string
	skipExisting bool
	logFile      string
	quiet        bool
	vbrQuality   int
	preset       string
	copyPattern  string
	workers      int
	followLinks  bool
	failFast     bool
	jobTimeout   time.Duration
	logLevel     string
	logFormat    string
	noHistory    bool
}

func (f *transcodeFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.outputDir, "output-dir", "o", "", "Directory to write transcoded files to")
	fs.StringVarP(&f.rootDir, "root-dir", "d", "", "Root of the source tree; structure below it is preserved in --output-dir")
	fs.StringVarP(&f.listFile, "file", "f", "", "Read additional paths from FILE, one per line (- for stdin)")
	fs.BoolVarP(&f.skipExisting, "skip-existing", "s", false, "Skip files whose output already exists")
	fs.StringVarP(&f.logFile, "logfile", "l", "", "Also write JSON logs to this file")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Disable console output")
	fs.IntVarP(&f.vbrQuality, "vbr-quality", "V", 2, "VBR quality passed to lame as -V<n> (0 best, 9 smallest)")
	fs.StringVar(&f.preset, "preset", "", "lame preset passed as --preset; overrides -V")
	fs.StringVarP(&f.copyPattern, "copy-pattern", "c", "", "Copy non-FLAC files matching this regular expression into --output-dir")
	fs.IntVarP(&f.workers, "num-threads", "n", 0, "Number of concurrent transcodes (default: number of CPUs)")
	fs.BoolVar(&f.followLinks, "follow-links", false, "Follow symbolic links to directories")
	fs.BoolVar(&f.failFast, "fail-fast", true, "Stop dispatching new files after the first failure")
	fs.DurationVar(&f.jobTimeout, "job-timeout", 0, "Fail any single transcode running longer than this (0 disables)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "Console log format (console or json)")
	fs.BoolVar(&f.noHistory, "no-history", false, "Do not record this run in the history database")
}

// apply copies explicitly set flags onto cfg.
func (f *transcodeFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("output-dir") {
		cfg.Paths.OutputDir = f.outputDir
	}
	if changed("root-dir") {
		cfg.Paths.RootDir = f.rootDir
	}
	if changed("skip-existing") {
		cfg.Transcode.SkipExisting = f.skipExisting
	}
	if changed("logfile") {
		cfg.Logging.File = f.logFile
	}
	if changed("quiet") {
		cfg.Logging.Quiet = f.quiet
	}
	if changed("vbr-quality") {
		cfg.Encoder.VBRQuality = f.vbrQuality
	}
	if changed("preset") {
		cfg.Encoder.Preset = f.preset
	}
	if changed("copy-pattern") {
		cfg.Transcode.CopyPattern = f.copyPattern
	}
	if changed("num-threads") {
		if f.workers < 1 {
			return fmt.Errorf("--num-threads must be at least 1")
		}
		cfg.Transcode.Workers = f.workers
	}
	if changed("follow-links") {
		cfg.Transcode.FollowLinks = f.followLinks
	}
	if changed("fail-fast") {
		cfg.Transcode.FailFast = f.failFast
	}
	if changed("job-timeout") {
		if f.jobTimeout < 0 {
			return fmt.Errorf("--job-timeout must not be negative")
		}
		cfg.Transcode.JobTimeoutSeconds = int((f.jobTimeout + time.Second - 1) / time.Second)
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}
	if f.noHistory {
		cfg.History.Enabled = false
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}
	return cfg.Validate()
}

func runTranscode(cmd *cobra.Command, ctx *commandContext, flags *transcodeFlags, args []string) error {
	base, err := ctx.ensureConfig()
	if err != nil {
		return &exitError{code: exitSetup, err: err}
	}
	cfg := *base
	if err := flags.apply(cmd, &cfg); err != nil {
		return &exitError{code: exitSetup, err: err}
	}
	if len(args) == 0 && strings.TrimSpace(flags.listFile) == "" {
		return &exitError{code: exitSetup, err: errors.New("no inputs: pass files or directories, or --file")}
	}

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		return &exitError{code: exitSetup, err: fmt.Errorf("init logging: %w", err)}
	}

	if missing := deps.Missing(preflight.CheckSystemDeps(&cfg)); len(missing) > 0 {
		logger.Error("The following programs are required: "+strings.Join(missing, ","),
			logging.String(logging.FieldEventType, "missing_programs"),
			logging.String(logging.FieldErrorHint, "install flac, lame, and file, or set [tools] paths in the config"),
		)
		return &exitError{code: exitSetup, err: fmt.Errorf("missing required programs: %s", strings.Join(missing, ", ")), silent: !cfg.Logging.Quiet}
	}
	if failed := preflight.Failed(preflight.RunAll(&cfg)); len(failed) > 0 {
		var details []string
		for _, r := range failed {
			details = append(details, r.Name+": "+r.Detail)
		}
		return &exitError{code: exitSetup, err: fmt.Errorf("preflight failed: %s", strings.Join(details, "; "))}
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return &exitError{code: exitSetup, err: err}
	}

	if cfg.Paths.OutputDir != "" {
		lock, err := runlock.Acquire(cfg.LockDir(), cfg.Paths.OutputDir)
		if err != nil {
			return &exitError{code: exitSetup, err: err}
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Warn("failed to release run lock", logging.Error(err))
			}
		}()
	}

	list, closeList, err := openList(cmd, flags.listFile)
	if err != nil {
		return &exitError{code: exitSetup, err: err}
	}
	defer closeList()

	opts := []batch.Option{}
	if store := openHistory(&cfg, logger); store != nil {
		defer store.Close()
		opts = append(opts, batch.WithRecorder(store))
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := batch.New(&cfg, logger, opts...).Run(runCtx, batch.Request{Paths: args, List: list})
	if err != nil {
		return &exitError{code: exitSetup, err: err}
	}

	switch summary.Status {
	case workerpool.StatusCancelled:
		return &exitError{code: exitCancelled, err: context.Canceled, silent: true}
	case workerpool.StatusFailed:
		return &exitError{code: exitFailed, err: fmt.Errorf("%d of %d files failed", summary.Failed+summary.CopyFailed, summary.Jobs()+summary.Copied+summary.CopyFailed), silent: true}
	default:
		return nil
	}
}

// openList resolves --file; "-" reads the command's stdin.
func openList(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	path = strings.TrimSpace(path)
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return cmd.InOrStdin(), func() {}, nil
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve input list: %w", err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, nil, fmt.Errorf("open input list: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openHistory(cfg *config.Config, logger *slog.Logger) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	store, err := history.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "history database unavailable", "history_open_failed",
			logging.String("path", cfg.HistoryPath()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "run will not appear in history"),
			logging.String(logging.FieldErrorHint, "delete the history database if its schema is outdated"),
		)
		return nil
	}
	return store
}
