// Package cli holds process-level plumbing shared by the zapgate command:
// signal handling and logger construction.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waftester/zapgate/pkg/defaults"
)

// SignalContext derives a context from parent that is cancelled on the
// first SIGINT/SIGTERM, letting the coordinator stop polling and report a
// cancelled run. A second signal within gracePeriod exits the process
// with defaults.ExitFailure.
//
//	ctx, cancel := cli.SignalContext(context.Background(), logger, 10*time.Second)
//	defer cancel()
func SignalContext(parent context.Context, logger *slog.Logger, gracePeriod time.Duration) (context.Context, context.CancelFunc) {
	return signalContext(parent, logger, gracePeriod, nil, nil)
}

// sigChan and exitFn override the real signal channel and os.Exit when non-nil.
func signalContext(
	parent context.Context,
	logger *slog.Logger,
	gracePeriod time.Duration,
	sigChan chan os.Signal,
	exitFn func(int),
) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	logger = orDefault(logger)

	ownChannel := sigChan == nil
	if ownChannel {
		sigChan = make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	}
	if exitFn == nil {
		exitFn = os.Exit
	}

	go func() {
		defer func() {
			if ownChannel {
				signal.Stop(sigChan)
			}
		}()

		select {
		case sig := <-sigChan:
			logger.Warn("signal received, cancelling run", slog.String("signal", sig.String()))
			cancel()

			select {
			case <-sigChan:
				logger.Error("second signal received, exiting")
				exitFn(defaults.ExitFailure)
			case <-time.After(gracePeriod):
			}
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
