package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the waiter sleeps (or a probe says so).
type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
	// cancel, when set, is invoked on the given sleep (1-based).
	cancelOn int
	cancel   context.CancelFunc
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	if c.cancel != nil && len(c.sleeps) == c.cancelOn {
		c.cancel()
		return ctx.Err()
	}
	c.t = c.t.Add(d)
	return nil
}

func newTestWaiter(probe Probe, timeout, interval time.Duration) (*Waiter, *fakeClock) {
	clk := newFakeClock()
	w := NewWaiter(probe, &WaiterConfig{Timeout: timeout, Interval: interval})
	w.clock = clk
	return w, clk
}

var errRefused = errors.New("connection refused")

func TestWait_ImmediateSuccess(t *testing.T) {
	w, clk := newTestWaiter(func(context.Context) error { return nil }, time.Minute, 2*time.Second)

	res := w.Wait(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err)
	assert.Empty(t, clk.sleeps)
}

func TestWait_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	probe := func(context.Context) error {
		calls++
		if calls < 4 {
			return errRefused
		}
		return nil
	}
	w, clk := newTestWaiter(probe, time.Minute, 2*time.Second)

	res := w.Wait(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, 4, res.Attempts)
	assert.Nil(t, res.LastErr)
	assert.Equal(t, 6*time.Second, res.Duration)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, clk.sleeps)
}

func TestWait_Timeout(t *testing.T) {
	w, _ := newTestWaiter(func(context.Context) error { return errRefused }, 60*time.Second, 2*time.Second)

	res := w.Wait(context.Background())
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.ErrorIs(t, res.LastErr, errRefused)
	// Attempts at t=0,2,...,60; the wait gives up at t=62.
	assert.Equal(t, 31, res.Attempts)
	assert.Equal(t, 62*time.Second, res.Duration)
}

func TestWait_ZeroTimeoutStillChecksOnce(t *testing.T) {
	calls := 0
	w, _ := newTestWaiter(func(context.Context) error { calls++; return errRefused }, 0, time.Second)

	res := w.Wait(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, ErrTimeout)
}

func TestWait_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	w, _ := newTestWaiter(func(context.Context) error { calls++; return nil }, time.Minute, time.Second)

	res := w.Wait(ctx)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, calls)
}

func TestWait_CancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, clk := newTestWaiter(func(context.Context) error { return errRefused }, time.Minute, time.Second)
	clk.cancel = cancel
	clk.cancelOn = 2

	res := w.Wait(ctx)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.NotErrorIs(t, res.Err, ErrTimeout)
	assert.Equal(t, 2, res.Attempts)
}

func TestWait_OnAttempt(t *testing.T) {
	var seen []int
	var errs []error
	calls := 0
	probe := func(context.Context) error {
		calls++
		if calls == 1 {
			return errRefused
		}
		return nil
	}
	w, _ := newTestWaiter(probe, time.Minute, time.Second)
	w.config.OnAttempt = func(attempt int, err error) {
		seen = append(seen, attempt)
		errs = append(errs, err)
	}

	res := w.Wait(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, []int{1, 2}, seen)
	assert.ErrorIs(t, errs[0], errRefused)
	assert.NoError(t, errs[1])
}

func TestWait_PerAttemptTimeoutApplied(t *testing.T) {
	var hadDeadline bool
	w, _ := newTestWaiter(func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}, time.Minute, time.Second)
	w.config.ProbeTimeout = 5 * time.Second

	require.True(t, w.Wait(context.Background()).Success)
	assert.True(t, hadDeadline)
}

func TestWait_AttemptBoundedByDeadline(t *testing.T) {
	var windows []time.Duration
	w, _ := newTestWaiter(func(ctx context.Context) error {
		dl, ok := ctx.Deadline()
		require.True(t, ok)
		windows = append(windows, time.Until(dl))
		return errRefused
	}, 3*time.Second, time.Second)
	w.config.ProbeTimeout = 30 * time.Second

	res := w.Wait(context.Background())
	require.ErrorIs(t, res.Err, ErrTimeout)
	require.Len(t, windows, 4)

	// Remaining time shrinks 3s, 2s, 1s; the last probe keeps one interval.
	for i, want := range []time.Duration{3 * time.Second, 2 * time.Second, time.Second, time.Second} {
		assert.LessOrEqual(t, windows[i], want, "attempt %d", i+1)
		assert.Greater(t, windows[i], want-500*time.Millisecond, "attempt %d", i+1)
	}
}

func TestWait_PerAttemptTimeoutCapsWindow(t *testing.T) {
	var window time.Duration
	w, _ := newTestWaiter(func(ctx context.Context) error {
		dl, _ := ctx.Deadline()
		window = time.Until(dl)
		return nil
	}, time.Minute, time.Second)
	w.config.ProbeTimeout = 2 * time.Second

	require.True(t, w.Wait(context.Background()).Success)
	assert.LessOrEqual(t, window, 2*time.Second)
	assert.Greater(t, window, time.Second)
}

func TestDefaultWaiterConfig(t *testing.T) {
	cfg := DefaultWaiterConfig()
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Interval)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
}

func TestWaitReady_RealClock(t *testing.T) {
	calls := 0
	res := WaitReady(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errRefused
		}
		return nil
	}, time.Second, 5*time.Millisecond)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
}

func TestReady(t *testing.T) {
	assert.True(t, Ready(context.Background(), func(context.Context) error { return nil }, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Ready(ctx, func(context.Context) error { return nil }, time.Second))
}
