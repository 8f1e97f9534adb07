// Package health waits for the scan engine to answer its liveness check.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/waftester/zapgate/pkg/duration"
)

// ErrTimeout is returned when the engine did not become ready in time.
var ErrTimeout = errors.New("health: engine not ready before timeout")

// Probe is a single liveness check. Any error means "not yet ready".
type Probe func(ctx context.Context) error

// WaiterConfig configures the waiter.
type WaiterConfig struct {
	// Timeout bounds the whole wait.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// Interval is the pause between attempts.
	Interval time.Duration `json:"interval" yaml:"interval"`
	// ProbeTimeout bounds a single attempt.
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
	// OnAttempt is called after every attempt with its outcome.
	OnAttempt func(attempt int, err error)
}

// DefaultWaiterConfig returns default waiter configuration
func DefaultWaiterConfig() *WaiterConfig {
	return &WaiterConfig{
		Timeout:      duration.ReadinessTimeout,
		Interval:     duration.ReadinessInterval,
		ProbeTimeout: duration.HTTPProbing,
	}
}

// clock lets tests drive time without sleeping.
type clock interface {
	now() time.Time
	sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) now() time.Time { return time.Now() }

func (realClock) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Waiter repeats a probe until it succeeds or the timeout elapses.
type Waiter struct {
	probe  Probe
	config *WaiterConfig
	clock  clock
}

// NewWaiter creates a new waiter
func NewWaiter(probe Probe, config *WaiterConfig) *Waiter {
	if config == nil {
		config = DefaultWaiterConfig()
	}
	return &Waiter{
		probe:  probe,
		config: config,
		clock:  realClock{},
	}
}

// WaitResult contains the wait operation result
type WaitResult struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	// LastErr is the error from the final failed probe, if any.
	LastErr error `json:"-"`
	// Err is ErrTimeout or the context error when Success is false.
	Err error `json:"-"`
}

// Wait probes until the first success. Probe errors are never fatal on
// their own; only the timeout or ctx ends an unsuccessful wait.
func (w *Waiter) Wait(ctx context.Context) *WaitResult {
	start := w.clock.now()
	deadline := start.Add(w.config.Timeout)
	result := &WaitResult{}

	finish := func(err error) *WaitResult {
		result.Duration = w.clock.now().Sub(start)
		result.Err = err
		return result
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		if result.Attempts > 0 && w.clock.now().After(deadline) {
			return finish(ErrTimeout)
		}

		result.Attempts++
		err := w.attempt(ctx, deadline)
		if w.config.OnAttempt != nil {
			w.config.OnAttempt(result.Attempts, err)
		}
		if err == nil {
			result.Success = true
			result.LastErr = nil
			return finish(nil)
		}
		result.LastErr = err

		if w.clock.now().After(deadline) {
			return finish(ErrTimeout)
		}
		if err := w.clock.sleep(ctx, w.config.Interval); err != nil {
			return finish(err)
		}
	}
}

// attempt runs one probe, bounded by ProbeTimeout and by the time left
// before deadline, but never less than Interval so a probe made close to
// the deadline still gets a usable window.
func (w *Waiter) attempt(ctx context.Context, deadline time.Time) error {
	limit := deadline.Sub(w.clock.now())
	if limit < w.config.Interval {
		limit = w.config.Interval
	}
	if w.config.ProbeTimeout > 0 && w.config.ProbeTimeout < limit {
		limit = w.config.ProbeTimeout
	}
	if limit <= 0 {
		return w.probe(ctx)
	}
	probeCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	return w.probe(probeCtx)
}

// WaitReady probes every interval until probe succeeds or timeout elapses.
func WaitReady(ctx context.Context, probe Probe, timeout, interval time.Duration) *WaitResult {
	cfg := DefaultWaiterConfig()
	cfg.Timeout = timeout
	cfg.Interval = interval
	return NewWaiter(probe, cfg).Wait(ctx)
}

// Ready reports whether the engine answered within timeout, polling at the
// default interval.
func Ready(ctx context.Context, probe Probe, timeout time.Duration) bool {
	return WaitReady(ctx, probe, timeout, duration.ReadinessInterval).Success
}
