package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSleeper records delays without actually sleeping.
type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.delays = append(f.delays, d)
	return nil
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	t.Parallel()
	s := &fakeSleeper{}
	err := doWithSleeper(context.Background(), DefaultConfig(), func() error {
		return nil
	}, s)
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(s.delays) != 0 {
		t.Fatalf("expected 0 sleeps, got %d", len(s.delays))
	}
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := &fakeSleeper{}
	cfg := Config{MaxAttempts: 3, InitDelay: time.Second, MaxDelay: 30 * time.Second, Strategy: Exponential}

	err := doWithSleeper(context.Background(), cfg, func() error {
		if calls.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, s)

	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	if len(s.delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(s.delays))
	}
}

func TestDo_AllFail(t *testing.T) {
	t.Parallel()
	s := &fakeSleeper{}
	sentinel := errors.New("always fail")
	cfg := Config{MaxAttempts: 3, InitDelay: time.Second, MaxDelay: 30 * time.Second, Strategy: Constant}

	err := doWithSleeper(context.Background(), cfg, func() error {
		return sentinel
	}, s)

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if len(s.delays) != 2 {
		t.Fatalf("expected 2 sleeps (no sleep after last attempt), got %d", len(s.delays))
	}
}

func TestDo_StopErrorShortCircuits(t *testing.T) {
	t.Parallel()
	var calls int
	s := &fakeSleeper{}
	permanent := errors.New("api rejected")

	err := doWithSleeper(context.Background(), ForRetries(5), func() error {
		calls++
		return Stop(permanent)
	}, s)

	if !errors.Is(err, permanent) {
		t.Fatalf("expected unwrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	var stop *StopError
	if errors.As(err, &stop) {
		t.Fatal("StopError wrapper should be removed")
	}
}

func TestStopNil(t *testing.T) {
	if Stop(nil) != nil {
		t.Fatal("Stop(nil) should be nil")
	}
}

func TestDo_RespectsContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, DefaultConfig(), func() error {
		t.Fatal("fn should not be called when context is cancelled")
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	t.Parallel()
	s := &fakeSleeper{}
	var attempts []int
	cfg := Config{
		MaxAttempts: 3,
		InitDelay:   time.Second,
		Strategy:    Constant,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		},
	}

	_ = doWithSleeper(context.Background(), cfg, func() error {
		return errors.New("fail")
	}, s)

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("unexpected retry attempts %v", attempts)
	}
}

func TestForRetries(t *testing.T) {
	if got := ForRetries(2).MaxAttempts; got != 3 {
		t.Fatalf("ForRetries(2).MaxAttempts = %d, want 3", got)
	}
	if got := ForRetries(-1).MaxAttempts; got != 1 {
		t.Fatalf("ForRetries(-1).MaxAttempts = %d, want 1", got)
	}
}

func TestDo_ExponentialBackoff(t *testing.T) {
	t.Parallel()
	s := &fakeSleeper{}
	cfg := Config{
		MaxAttempts: 4,
		InitDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Strategy:    Exponential,
	}

	_ = doWithSleeper(context.Background(), cfg, func() error {
		return errors.New("fail")
	}, s)

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if len(s.delays) != len(want) {
		t.Fatalf("expected %d delays, got %d: %v", len(want), len(s.delays), s.delays)
	}
	for i, w := range want {
		if s.delays[i] != w {
			t.Errorf("delay[%d] = %v, want %v", i, s.delays[i], w)
		}
	}
}

func TestCalcDelay_MaxDelayCap(t *testing.T) {
	cfg := Config{InitDelay: time.Second, MaxDelay: 3 * time.Second, Strategy: Exponential}
	if d := CalcDelay(cfg, 4); d != 3*time.Second {
		t.Errorf("CalcDelay = %v, want capped 3s", d)
	}
	cfg.Strategy = Linear
	if d := CalcDelay(cfg, 1); d != 2*time.Second {
		t.Errorf("linear CalcDelay = %v, want 2s", d)
	}
}

func TestCalcDelay_JitterRange(t *testing.T) {
	cfg := Config{InitDelay: time.Second, MaxDelay: 30 * time.Second, Strategy: Constant, Jitter: true}
	for range 100 {
		d := CalcDelay(cfg, 0)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("delay %v outside expected jitter range", d)
		}
	}
}
