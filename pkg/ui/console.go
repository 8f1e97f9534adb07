package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/waftester/zapgate/pkg/coordinator"
	"github.com/waftester/zapgate/pkg/job"
)

// Console is a coordinator.Observer that prints phase transitions and job
// progress. Repeated identical progress readings are printed once.
type Console struct {
	mu   sync.Mutex
	last map[coordinator.Phase]int
}

// NewConsole returns a Console observer.
func NewConsole() *Console {
	return &Console{last: make(map[coordinator.Phase]int)}
}

// OnEvent implements coordinator.Observer.
func (c *Console) OnEvent(_ context.Context, event coordinator.Event) error {
	switch e := event.(type) {
	case *coordinator.RunStartEvent:
		PrintSection("Scan " + e.RunID.String())
		PrintConfigLine("Target", e.Target)
		PrintConfigLine("Context", e.Context)
	case *coordinator.PhaseStartEvent:
		PrintInfo(string(e.Phase))
	case *coordinator.ProgressEvent:
		c.mu.Lock()
		prev, seen := c.last[e.Phase]
		c.last[e.Phase] = e.Percent
		c.mu.Unlock()
		if !seen || prev != e.Percent {
			PrintProgress(string(e.Phase), e.Percent)
		}
	case *coordinator.PhaseEndEvent:
		c.phaseEnd(e)
	case *coordinator.RunCompleteEvent:
		if e.Err != nil {
			PrintError(e.Err.Error())
		}
	}
	return nil
}

func (c *Console) phaseEnd(e *coordinator.PhaseEndEvent) {
	elapsed := e.Elapsed.Round(time.Millisecond)
	switch e.State {
	case job.Completed:
		PrintSuccess(fmt.Sprintf("%s done in %s", e.Phase, elapsed))
	case job.Cancelled:
		PrintWarning(fmt.Sprintf("%s cancelled after %s", e.Phase, elapsed))
	default:
		PrintWarning(fmt.Sprintf("%s %s after %s", e.Phase, e.State, elapsed))
	}
}
