package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"flac2mp3/internal/encoding"
)

// Runner executes one job to completion and reports its outcome.
type Runner interface {
	Run(ctx context.Context, job encoding.Job) encoding.Outcome
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job encoding.Job) encoding.Outcome

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, job encoding.Job) encoding.Outcome {
	return f(ctx, job)
}

// Policy decides whether a failed job halts dispatch.
type Policy int

const (
	// PolicyFailFast stops dispatching after the first fatal failure.
	PolicyFailFast Policy = iota
	// PolicyContinue runs every job regardless of failures.
	PolicyContinue
)

func (p Policy) String() string {
	switch p {
	case PolicyFailFast:
		return "fail-fast"
	case PolicyContinue:
		return "continue"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Options configures a Pool.
type Options struct {
	Workers      int
	Policy       Policy
	PollInterval time.Duration
	// JobTimeout cancels jobs running longer than this; 0 disables it.
	JobTimeout time.Duration
	Logger     *slog.Logger
}

const defaultPollInterval = 100 * time.Millisecond

// HaltedReason is the Skipped reason given to jobs never dispatched because
// fail-fast stopped the pool.
const HaltedReason = "dispatch halted"

// Result pairs a job with its terminal outcome.
type Result struct {
	Job     encoding.Job
	Outcome encoding.Outcome
}

// Status is the terminal status of a pool run.
type Status int

const (
	StatusCompleted Status = iota
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// State is the pool lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAccepting
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccepting:
		return "accepting"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Received   int
	Dispatched int
	Running    int
	Pending    int
	Succeeded  int
	Skipped    int
	Failed     int
	Aborted    int
	// Halted counts buffered jobs skipped because fail-fast stopped dispatch.
	Halted int
	// Undispatched counts buffered jobs dropped by cancellation.
	Undispatched int
	MaxRunning   int
}
