// Package job drives an engine-side asynchronous job to a terminal state by
// polling its progress.
//
// A job moves NotStarted -> Running once its start call returns a handle,
// stays Running while progress readings are below 100, and ends Completed,
// Failed or Cancelled. Cancellation is reported separately from failure so
// callers can tell "we stopped waiting" from "the engine reported an error".
package job

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	NotStarted State = "not_started"
	Running    State = "running"
	Completed  State = "completed"
	Failed     State = "failed"
	Cancelled  State = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Sentinel errors.
var (
	// ErrTimeout marks a job that exceeded its maximum duration.
	ErrTimeout = errors.New("job: exceeded maximum duration")

	// ErrBadInterval is returned for a non-positive poll interval, which
	// would otherwise spin.
	ErrBadInterval = errors.New("job: poll interval must be positive")
)

// StatusFunc returns the job's progress in percent.
type StatusFunc func(ctx context.Context) (int, error)

// Options controls a single Await.
type Options struct {
	// Name labels the job in errors and tracker history.
	Name string
	// Interval is the exact pause between polls.
	Interval time.Duration
	// MaxDuration fails the job with ErrTimeout once the next wait would
	// exceed it. Zero means no limit.
	MaxDuration time.Duration
	// OnProgress receives every reading after clamping.
	OnProgress func(percent int)
	// Clock defaults to the wall clock.
	Clock Clock
	// Tracker, when set, records each transition.
	Tracker *Tracker
}

// Outcome is the terminal result of Await.
type Outcome struct {
	Name     string
	State    State
	Progress int
	Polls    int
	Elapsed  time.Duration
	Err      error
}

// Error returns nil for a completed job and an *Error otherwise.
func (o Outcome) Error() error {
	if o.State == Completed {
		return nil
	}
	return &Error{Job: o.Name, State: o.State, Err: o.Err}
}

// Error describes why a job did not complete.
type Error struct {
	Job   string
	State State
	Err   error
}

func (e *Error) Error() string {
	name := e.Job
	if name == "" {
		name = "job"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s", name, e.State)
	}
	return fmt.Sprintf("%s %s: %v", name, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Clamp limits a progress reading to [0,100].
func Clamp(percent int) int {
	return min(max(percent, 0), 100)
}

// Await polls status until the job completes, fails, times out or ctx is
// cancelled. It never polls again after a reading of 100 or more.
func Await(ctx context.Context, status StatusFunc, opts Options) Outcome {
	clk := opts.Clock
	if clk == nil {
		clk = RealClock{}
	}
	start := clk.Now()
	out := Outcome{Name: opts.Name, State: Running}

	finish := func(state State, err error) Outcome {
		out.State = state
		out.Err = err
		out.Elapsed = clk.Now().Sub(start)
		if opts.Tracker != nil {
			_ = opts.Tracker.Transition(state)
		}
		return out
	}

	if opts.Tracker != nil && opts.Tracker.State() == NotStarted {
		_ = opts.Tracker.Transition(Running)
	}
	if opts.Interval <= 0 {
		return finish(Failed, ErrBadInterval)
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(Cancelled, err)
		}

		pct, err := status(ctx)
		out.Polls++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish(Cancelled, ctxErr)
			}
			return finish(Failed, err)
		}

		out.Progress = Clamp(pct)
		if opts.OnProgress != nil {
			opts.OnProgress(out.Progress)
		}
		if out.Progress >= 100 {
			return finish(Completed, nil)
		}
		if opts.Tracker != nil {
			_ = opts.Tracker.Transition(Running)
		}

		if opts.MaxDuration > 0 && clk.Now().Sub(start)+opts.Interval > opts.MaxDuration {
			return finish(Failed, fmt.Errorf("%w (%s) at %d%%", ErrTimeout, opts.MaxDuration, out.Progress))
		}
		if err := clk.Sleep(ctx, opts.Interval); err != nil {
			return finish(Cancelled, err)
		}
	}
}

// Start issues a job's start call. On success the outcome is Running and
// the handle is valid; otherwise it is Failed, or Cancelled if ctx ended.
func Start[H any](ctx context.Context, name string, start func(context.Context) (H, error), tracker *Tracker) (H, Outcome) {
	out := Outcome{Name: name, State: NotStarted}
	var zero H
	if err := ctx.Err(); err != nil {
		out.State, out.Err = Cancelled, err
		track(tracker, Cancelled)
		return zero, out
	}
	h, err := start(ctx)
	if err != nil {
		out.State, out.Err = Failed, err
		if ctxErr := ctx.Err(); ctxErr != nil {
			out.State, out.Err = Cancelled, ctxErr
		}
		track(tracker, out.State)
		return zero, out
	}
	out.State = Running
	track(tracker, Running)
	return h, out
}

// Run starts a job and awaits it.
func Run[H any](ctx context.Context, start func(context.Context) (H, error), status func(context.Context, H) (int, error), opts Options) (H, Outcome) {
	if opts.Tracker == nil {
		opts.Tracker = NewTracker(opts.Name)
	}
	h, out := Start(ctx, opts.Name, start, opts.Tracker)
	if out.State != Running {
		return h, out
	}
	return h, Await(ctx, func(ctx context.Context) (int, error) { return status(ctx, h) }, opts)
}

func track(t *Tracker, s State) {
	if t != nil {
		_ = t.Transition(s)
	}
}
