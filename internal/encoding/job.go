package encoding

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Job is one immutable unit of transcode work.
type Job struct {
	ID     string
	Input  string
	Output string // optional; derived from Input when empty
	// SkipExisting returns Skipped without launching any process when the
	// resolved destination already exists.
	SkipExisting   bool
	EncoderOptions []string
	// BadChars are stripped from the generated output file name.
	BadChars       string
	NormalizeNames bool
}

// Settings holds the per-run values shared by every Job of a batch.
type Settings struct {
	SkipExisting   bool
	Preset         string
	VBRQuality     int
	VBRSet         bool
	BadChars       string
	NormalizeNames bool
}

// NewJob builds a Job for input with a fresh ID. output may be empty.
func (s Settings) NewJob(input, output string) Job {
	return Job{
		ID:             uuid.NewString(),
		Input:          input,
		Output:         output,
		SkipExisting:   s.SkipExisting,
		EncoderOptions: EncoderOptions(s.Preset, s.VBRQuality, s.VBRSet),
		BadChars:       s.BadChars,
		NormalizeNames: s.NormalizeNames,
	}
}

// Options returns a copy of the encoder options so callers cannot mutate the job.
func (j Job) Options() []string {
	return slices.Clone(j.EncoderOptions)
}

// OutcomeKind classifies how a job ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeSkipped
	OutcomeFailed
	OutcomeAborted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the terminal result of one job.
type Outcome struct {
	Kind    OutcomeKind
	Output  string
	Elapsed time.Duration
	Reason  string
	Err     error
	// Exit statuses of the codec processes; -1 when a process was killed by a
	// signal or never reported a status.
	DecodeExit  int
	EncodeExit  int
	OutputBytes int64
}

// ExitStatus returns the first non-zero codec exit status, decode first.
func (o Outcome) ExitStatus() int {
	if o.DecodeExit != 0 {
		return o.DecodeExit
	}
	return o.EncodeExit
}

// Succeeded reports whether the job produced its destination file.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}
