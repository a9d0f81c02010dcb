package workflow

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType represents the type of workflow event.
type EventType string

const (
	// EventPlanned indicates planning finished.
	EventPlanned EventType = "run_planned"
	// EventRoundStarted indicates a round's eligible steps are being dispatched.
	EventRoundStarted EventType = "round_started"
	// EventStepStarted indicates a worker was invoked for a step.
	EventStepStarted EventType = "step_started"
	// EventStepCompleted indicates a step produced output.
	EventStepCompleted EventType = "step_completed"
	// EventStepFailed indicates a step's worker was missing or failed.
	EventStepFailed EventType = "step_failed"
	// EventRunDone indicates synthesis finished.
	EventRunDone EventType = "run_done"
)

// Event is emitted by the engine as a run progresses.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID is the run the event belongs to.
	RunID string
	// Round is the scheduling round, for round and step events.
	Round int
	// StepID and Worker identify the step, for step events.
	StepID string
	Worker string
	// Steps lists the dispatched step IDs, for round events.
	Steps []string
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventEmitter delivers events to one subscriber over a buffered channel.
// A nil *EventEmitter drops everything.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event, waiting briefly for room before dropping it.
func (e *EventEmitter) Emit(event Event) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[workflow] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Call it once no run will emit again.
func (e *EventEmitter) Close() {
	close(e.events)
}
