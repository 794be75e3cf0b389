package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"flac2mp3/internal/encoding"
	"flac2mp3/internal/logging"
	"flac2mp3/internal/services"
)

// Pool runs jobs through a Runner with bounded concurrency. A Pool runs once.
type Pool struct {
	runner Runner
	opts   Options
	logger *slog.Logger

	// wake is signalled when input arrives or a job completes.
	wake chan struct{}

	mu              sync.Mutex
	state           State
	pending         []encoding.Job
	inflight        map[uint64]*flight
	nextSeq         uint64
	stats           Stats
	inputDone       bool
	halted          bool
	cancelled       bool
	cancelRequested bool
	cancelRun       context.CancelFunc
	stopReading     context.CancelFunc
}

type flight struct {
	job      encoding.Job
	started  time.Time
	cancel   context.CancelCauseFunc
	timedOut bool
}

// New constructs a Pool. Workers below 1 is treated as 1.
func New(runner Runner, opts Options) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Pool{
		runner:   runner,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "workerpool"),
		wake:     make(chan struct{}, 1),
		inflight: make(map[uint64]*flight),
	}
}

// Run consumes jobs until the channel closes, dispatch halts, or the run is
// cancelled, then waits for every in-flight job. Each finished job is sent on
// results, which Run closes before returning; results must be drained. A nil
// results channel discards outcomes.
func (p *Pool) Run(ctx context.Context, jobs <-chan encoding.Job, results chan<- Result) Status {
	if results != nil {
		defer close(results)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	readCtx, stopReading := context.WithCancel(runCtx)
	defer stopReading()

	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		panic("workerpool: Run called twice")
	}
	p.state = StateAccepting
	p.cancelRun = cancelRun
	p.stopReading = stopReading
	if p.cancelRequested {
		cancelRun()
	}
	p.mu.Unlock()

	readerDone := make(chan struct{})
	go p.read(readCtx, jobs, readerDone)

	var wg sync.WaitGroup
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	done := runCtx.Done()

	for {
		p.dispatch(runCtx, results, &wg)
		if p.finished() {
			break
		}
		select {
		case <-p.wake:
		case now := <-ticker.C:
			p.enforceDeadlines(now)
		case <-done:
			p.markCancelled()
			done = nil
		}
	}

	stopReading()
	<-readerDone
	wg.Wait()

	return p.finish(results)
}

// Cancel terminates in-flight jobs and stops dispatch. It is idempotent and
// safe to call from any goroutine, including before Run.
func (p *Pool) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelRequested = true
	if p.cancelRun != nil {
		p.cancelRun()
	}
}

// State reports the pool lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Running = len(p.inflight)
	s.Pending = len(p.pending)
	return s
}

func (p *Pool) read(ctx context.Context, jobs <-chan encoding.Job, done chan<- struct{}) {
	defer close(done)
	defer p.notify()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			p.mu.Lock()
			if !ok {
				p.inputDone = true
				if p.state == StateAccepting {
					p.state = StateDraining
				}
				p.mu.Unlock()
				return
			}
			p.pending = append(p.pending, job)
			p.stats.Received++
			p.mu.Unlock()
			p.notify()
		}
	}
}

func (p *Pool) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// dispatch starts pending jobs while slots are free.
func (p *Pool) dispatch(ctx context.Context, results chan<- Result, wg *sync.WaitGroup) {
	for {
		p.mu.Lock()
		if p.cancelled || p.halted || ctx.Err() != nil || len(p.pending) == 0 || len(p.inflight) >= p.opts.Workers {
			p.mu.Unlock()
			return
		}
		job := p.pending[0]
		p.pending[0] = encoding.Job{}
		p.pending = p.pending[1:]

		jobCtx, cancel := context.WithCancelCause(ctx)
		seq := p.nextSeq
		p.nextSeq++
		f := &flight{job: job, started: time.Now(), cancel: cancel}
		p.inflight[seq] = f
		p.stats.Dispatched++
		if len(p.inflight) > p.stats.MaxRunning {
			p.stats.MaxRunning = len(p.inflight)
		}
		p.mu.Unlock()

		wg.Add(1)
		go p.execute(jobCtx, seq, f, results, wg)
	}
}

func (p *Pool) execute(ctx context.Context, seq uint64, f *flight, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	outcome := p.runSafely(services.WithJobID(ctx, f.job.ID), f.job)
	if outcome.Kind == encoding.OutcomeAborted && errors.Is(context.Cause(ctx), services.ErrTimeout) {
		outcome.Kind = encoding.OutcomeFailed
		outcome.Err = services.Wrap(services.ErrTimeout, "workerpool", "job deadline",
			fmt.Sprintf("exceeded %s", p.opts.JobTimeout), outcome.Err)
		outcome.Reason = outcome.Err.Error()
	}
	f.cancel(nil)

	p.complete(seq, f, outcome)
	if results != nil {
		results <- Result{Job: f.job, Outcome: outcome}
	}
	p.notify()
}

// runSafely converts a runner panic into a Failed outcome.
func (p *Pool) runSafely(ctx context.Context, job encoding.Job) (outcome encoding.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("runner panic: %v", r)
			logging.ErrorWithContext(logging.WithContext(ctx, p.logger), "runner panicked", "job_panic",
				logging.String("input", job.Input),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "report this as a bug"),
			)
			outcome = encoding.Outcome{
				Kind:    encoding.OutcomeFailed,
				Err:     err,
				Reason:  err.Error(),
				Elapsed: time.Since(start),
			}
		}
	}()
	return p.runner.Run(ctx, job)
}

func (p *Pool) complete(seq uint64, f *flight, outcome encoding.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, seq)

	switch outcome.Kind {
	case encoding.OutcomeSuccess:
		p.stats.Succeeded++
	case encoding.OutcomeSkipped:
		p.stats.Skipped++
	case encoding.OutcomeAborted:
		p.stats.Aborted++
	default:
		p.stats.Failed++
		if p.opts.Policy == PolicyFailFast && !p.halted && !p.cancelled && fatal(outcome.Err) {
			p.halted = true
			p.state = StateDraining
			if p.stopReading != nil {
				p.stopReading()
			}
			p.logger.Warn("dispatch halted after failure",
				logging.String("input", f.job.Input),
				logging.Int("in_flight", len(p.inflight)),
				logging.Int("pending", len(p.pending)),
				logging.String(logging.FieldEventType, "dispatch_halted"),
			)
		}
	}
}

// enforceDeadlines cancels jobs that have been running longer than JobTimeout.
func (p *Pool) enforceDeadlines(now time.Time) {
	if p.opts.JobTimeout <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.inflight {
		if f.timedOut || now.Sub(f.started) < p.opts.JobTimeout {
			continue
		}
		f.timedOut = true
		f.cancel(services.ErrTimeout)
		p.logger.Warn("job exceeded deadline; terminating",
			logging.String(logging.FieldJobID, f.job.ID),
			logging.String("input", f.job.Input),
			logging.Duration("timeout", p.opts.JobTimeout),
			logging.String(logging.FieldEventType, "job_timeout"),
		)
	}
}

func (p *Pool) markCancelled() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return
	}
	p.cancelled = true
	p.state = StateDraining
	p.logger.Info("cancelling in-flight jobs",
		logging.Int("in_flight", len(p.inflight)),
		logging.Int("pending", len(p.pending)),
	)
}

// finished reports whether the dispatch loop can stop waiting.
func (p *Pool) finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.inflight) > 0 {
		return false
	}
	if p.cancelled || p.halted {
		return true
	}
	return p.inputDone && len(p.pending) == 0
}

func (p *Pool) finish(results chan<- Result) Status {
	p.mu.Lock()
	leftover := p.pending
	p.pending = nil
	status := StatusCompleted
	switch {
	case p.cancelled:
		status = StatusCancelled
		p.stats.Undispatched += len(leftover)
		leftover = nil
	case p.stats.Failed > 0:
		status = StatusFailed
	}
	if p.halted {
		p.stats.Halted += len(leftover)
		p.stats.Skipped += len(leftover)
	}
	p.state = StateStopped
	p.mu.Unlock()

	if results != nil {
		for _, job := range leftover {
			results <- Result{Job: job, Outcome: encoding.Outcome{
				Kind:   encoding.OutcomeSkipped,
				Reason: HaltedReason,
				Output: encoding.ResolveOutputPath(job),
			}}
		}
	}
	return status
}

// fatal treats a failure without a recorded cause as fatal.
func fatal(err error) bool {
	return err == nil || services.IsFatal(err)
}
