package coordinator

import (
	"errors"
	"fmt"
)

// Kind classifies why a run stopped early.
type Kind string

const (
	KindConnectivity Kind = "connectivity"
	KindSetup        Kind = "setup"
	KindJob          Kind = "job"
	KindReport       Kind = "report"
	KindCancelled    Kind = "cancelled"
)

// Sentinels matched by PhaseError.Is, one per Kind.
var (
	ErrConnectivity = errors.New("engine unreachable")
	ErrSetup        = errors.New("context setup failed")
	ErrJob          = errors.New("scan job failed")
	ErrReport       = errors.New("report generation failed")
	ErrCancelled    = errors.New("run cancelled")
)

var kindSentinel = map[Kind]error{
	KindConnectivity: ErrConnectivity,
	KindSetup:        ErrSetup,
	KindJob:          ErrJob,
	KindReport:       ErrReport,
	KindCancelled:    ErrCancelled,
}

// PhaseError reports the phase that stopped a run and why.
//
//	errors.Is(err, coordinator.ErrCancelled)   // by kind
//	errors.Is(err, zap.ErrUnreachable)         // by cause
type PhaseError struct {
	Kind  Kind
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	msg := kindSentinel[e.Kind].Error()
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Phase, msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Phase, msg, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *PhaseError) Is(target error) bool {
	s, ok := kindSentinel[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of err, or "" if err is not a *PhaseError.
func KindOf(err error) Kind {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
