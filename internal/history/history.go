package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStepStart  EventType = "step_start"
	EventStepOK     EventType = "step_ok"
	EventStepFailed EventType = "step_failed"
	EventReady      EventType = "ready"
	EventSpawn      EventType = "spawn"
	EventExit       EventType = "exit"
	EventRestart    EventType = "restart"
)

// Event represents an orchestrator lifecycle event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	RunID      string    `json:"run_id"`
	Pipeline   string    `json:"pipeline"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Table is the relational table every SQL sink writes to.
const Table = "devloop_history"
