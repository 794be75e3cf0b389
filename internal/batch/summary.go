package batch

import (
	"time"

	"flac2mp3/internal/encoding"
	"flac2mp3/internal/history"
	"flac2mp3/internal/workerpool"
)

// Failure identifies one input that did not transcode.
type Failure struct {
	Input  string
	Reason string
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	RunID        string
	Status       workerpool.Status
	Succeeded    int
	Skipped      int
	Failed       int
	Aborted      int
	Undispatched int
	// NonFLAC counts inputs skipped because they are not FLAC streams.
	NonFLAC     int
	Copied      int
	CopyFailed  int
	OutputBytes int64
	Elapsed     time.Duration
	Failures    []Failure
}

// Jobs returns the number of FLAC jobs that reported an outcome.
func (s Summary) Jobs() int {
	return s.Succeeded + s.Skipped + s.Failed + s.Aborted
}

func (s *Summary) add(r workerpool.Result) {
	o := r.Outcome
	switch o.Kind {
	case encoding.OutcomeSuccess:
		s.Succeeded++
		s.OutputBytes += o.OutputBytes
	case encoding.OutcomeSkipped:
		s.Skipped++
	case encoding.OutcomeAborted:
		s.Aborted++
	default:
		s.Failed++
		reason := o.Reason
		if reason == "" && o.Err != nil {
			reason = o.Err.Error()
		}
		s.Failures = append(s.Failures, Failure{Input: r.Job.Input, Reason: reason})
	}
}

func (s Summary) totals() history.Totals {
	return history.Totals{
		Status:      s.Status.String(),
		Succeeded:   s.Succeeded,
		Skipped:     s.Skipped + s.NonFLAC,
		Failed:      s.Failed + s.CopyFailed,
		Aborted:     s.Aborted,
		Copied:      s.Copied,
		OutputBytes: s.OutputBytes,
	}
}
