package encoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"flac2mp3/internal/fileutil"
	"flac2mp3/internal/logging"
	"flac2mp3/internal/services"
	"flac2mp3/internal/tags"
)

// TagReader supplies the tags forwarded to the encoder.
type TagReader interface {
	Read(ctx context.Context, path string) (tags.TagSet, error)
}

// outputMode is applied to published files; temp files start as 0600.
const outputMode os.FileMode = 0o644

// Pipeline transcodes one job at a time. It is safe for concurrent use.
type Pipeline struct {
	flac      string
	lame      string
	tags      TagReader
	logger    *slog.Logger
	killGrace time.Duration
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithKillGrace overrides the SIGTERM to SIGKILL grace period.
func WithKillGrace(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.killGrace = d
		}
	}
}

// NewPipeline wires a pipeline that runs the given flac and lame binaries.
func NewPipeline(flacBinary, lameBinary string, reader TagReader, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		flac:      flacBinary,
		lame:      lameBinary,
		tags:      reader,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
		killGrace: DefaultKillGrace,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes job and always returns exactly one Outcome. A cancelled ctx
// yields OutcomeAborted and never leaves a partial file at the destination.
func (p *Pipeline) Run(ctx context.Context, job Job) Outcome {
	start := time.Now()
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, p.logger)

	outcome := p.run(ctx, job, logger)
	outcome.Elapsed = time.Since(start)
	return outcome
}

func (p *Pipeline) run(ctx context.Context, job Job, logger *slog.Logger) Outcome {
	output := ResolveOutputPath(job)
	outcome := Outcome{Output: output}

	if job.SkipExisting {
		if _, err := os.Stat(output); err == nil {
			outcome.Kind = OutcomeSkipped
			outcome.Reason = "output exists"
			return outcome
		}
	}
	if err := ctx.Err(); err != nil {
		return aborted(outcome, err)
	}

	logger.Info("Transcoding", logging.String("input", job.Input), logging.String("output", output))

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return failed(outcome, services.Wrap(services.ErrFilesystem, "pipeline", "create destination directory", filepath.Dir(output), err))
	}
	tmp, err := fileutil.CreateTemp(output)
	if err != nil {
		return failed(outcome, services.Wrap(services.ErrFilesystem, "pipeline", "create temp file", output, err))
	}
	committed := false
	defer func() {
		if !committed {
			fileutil.Discard(tmp)
		}
	}()

	tagCtx := services.WithStage(ctx, "tags")
	tagSet, err := p.tags.Read(tagCtx, job.Input)
	if err != nil {
		if ctx.Err() != nil {
			return aborted(outcome, ctx.Err())
		}
		return failed(outcome, err)
	}

	outcome.DecodeExit, outcome.EncodeExit, err = p.transcode(ctx, job, tagSet, tmp, logger)
	if ctx.Err() != nil && (err != nil || outcome.ExitStatus() != 0) {
		return aborted(outcome, ctx.Err())
	}
	if err != nil {
		return failed(outcome, err)
	}

	if err := fileutil.Commit(tmp, output, outputMode); err != nil {
		return failed(outcome, services.Wrap(services.ErrFilesystem, "pipeline", "publish output", output, err))
	}
	committed = true

	if info, err := os.Stat(output); err == nil {
		outcome.OutputBytes = info.Size()
	}
	outcome.Kind = OutcomeSuccess
	return outcome
}

// transcode runs flac into lame through an explicit pipe. It returns both exit
// statuses and a non-nil error when either process failed to start or exited
// non-zero.
func (p *Pipeline) transcode(ctx context.Context, job Job, tagSet tags.TagSet, out *os.File, logger *slog.Logger) (int, int, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return -1, -1, services.Wrap(services.ErrFilesystem, "pipeline", "create pipe", job.Input, err)
	}

	var decodeErr, encodeErr tailBuffer
	decoder := newProcess(ctx, p.killGrace, p.flac, decodeArgs(job.Input)...)
	decoder.Stdout = pw
	decoder.Stderr = &decodeErr
	if err := decoder.Start(); err != nil {
		pr.Close()
		pw.Close()
		return -1, -1, services.Wrap(services.ErrExternalTool, "decode", "start flac", p.flac, err)
	}

	encoder := newProcess(ctx, p.killGrace, p.lame, encodeArgs(job.Options(), tagSet)...)
	encoder.Stdin = pr
	encoder.Stdout = out
	encoder.Stderr = &encodeErr
	encodeStartErr := encoder.Start()

	// Only the children hold the pipe now. If lame exits early, flac's next
	// write raises SIGPIPE instead of blocking forever.
	pr.Close()
	pw.Close()

	decodeWaitErr := decoder.Wait()
	decodeExit := exitStatus(decoder)
	if encodeStartErr != nil {
		return decodeExit, -1, services.Wrap(services.ErrExternalTool, "encode", "start lame", p.lame, encodeStartErr)
	}
	encodeWaitErr := encoder.Wait()
	encodeExit := exitStatus(encoder)

	logger.Debug("codec processes exited",
		logging.Int("decode_exit", decodeExit),
		logging.Int("encode_exit", encodeExit),
	)

	var errs []error
	if decodeWaitErr != nil {
		errs = append(errs, processError("decode", "flac", decodeWaitErr, decodeErr.String()))
	}
	if encodeWaitErr != nil {
		errs = append(errs, processError("encode", "lame", encodeWaitErr, encodeErr.String()))
	}
	return decodeExit, encodeExit, errors.Join(errs...)
}

func processError(stage, tool string, err error, stderr string) error {
	message := err.Error()
	if stderr != "" {
		message = fmt.Sprintf("%s: %s", message, stderr)
	}
	return services.Wrap(services.ErrExternalTool, stage, tool, message, err)
}

func decodeArgs(input string) []string {
	return []string{"--silent", "--stdout", "--decode", input}
}

func encodeArgs(options []string, t tags.TagSet) []string {
	return append(options,
		"--add-id3v2", "--silent",
		"--tt", t.Value(tags.KeyTitle),
		"--ta", t.Value(tags.KeyArtist),
		"--tl", t.Value(tags.KeyAlbum),
		"--ty", t.Value(tags.KeyDate),
		"--tc", t.Value(tags.KeyComment),
		"--tn", t.Track(),
		"--tg", t.Value(tags.KeyGenre),
		"-", "-",
	)
}

func failed(o Outcome, err error) Outcome {
	o.Kind = OutcomeFailed
	o.Err = err
	o.Reason = err.Error()
	return o
}

func aborted(o Outcome, err error) Outcome {
	o.Kind = OutcomeAborted
	o.Err = err
	o.Reason = "cancelled"
	return o
}
