package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/waftester/zapgate/pkg/job"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventRunStart    EventType = "run_start"
	EventPhaseStart  EventType = "phase_start"
	EventProgress    EventType = "progress"
	EventPhaseEnd    EventType = "phase_end"
	EventRunComplete EventType = "run_complete"
)

// Event is emitted to observers as the run advances.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

type baseEvent struct {
	typ EventType
	at  time.Time
}

func (b baseEvent) Type() EventType      { return b.typ }
func (b baseEvent) Timestamp() time.Time { return b.at }

// RunStartEvent opens a run.
type RunStartEvent struct {
	baseEvent
	RunID   uuid.UUID
	Target  string
	Context string
}

// PhaseStartEvent marks entry into a phase.
type PhaseStartEvent struct {
	baseEvent
	RunID uuid.UUID
	Phase Phase
}

// ProgressEvent carries one clamped job reading.
type ProgressEvent struct {
	baseEvent
	RunID   uuid.UUID
	Phase   Phase
	Percent int
}

// PhaseEndEvent closes a phase.
type PhaseEndEvent struct {
	baseEvent
	RunID uuid.UUID
	PhaseResult
}

// RunCompleteEvent closes a run. Err is nil when every phase completed,
// whatever the verdict.
type RunCompleteEvent struct {
	baseEvent
	Result *Result
	Err    error
}

// Observer receives lifecycle events. Errors are logged and never affect
// the run.
type Observer interface {
	OnEvent(ctx context.Context, event Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event) error

func (f ObserverFunc) OnEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// PhaseResult is the recorded outcome of one phase.
type PhaseResult struct {
	Phase    Phase         `json:"phase"`
	State    job.State     `json:"state"`
	Progress int           `json:"progress,omitempty"`
	Polls    int           `json:"polls,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Err      error         `json:"-"`
}
