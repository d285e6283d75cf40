package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies coordinator events.
type EventType string

const (
	// EventGateAudit is a 4Ds gate decision audit record.
	EventGateAudit EventType = "gate_audit"
	// EventAgentState is an agent lifecycle transition.
	EventAgentState EventType = "agent_state"
	// EventSession is a session lifecycle event (started, completed,
	// cancelled).
	EventSession EventType = "session"
	// EventGuardrail is a guardrail warning or kill.
	EventGuardrail EventType = "guardrail"
)

// Event is a coordinator event published on the bus and, for gate
// audits, persisted to the delegation_events table.
type Event struct {
	ID           string                 `json:"id"`
	Type         EventType              `json:"type"`
	DelegationID string                 `json:"delegation_id,omitempty"`
	Agent        string                 `json:"agent,omitempty"`
	TaskID       string                 `json:"task_id,omitempty"`
	GateType     string                 `json:"gate_type,omitempty"`
	Target       string                 `json:"target"`
	Details      map[string]interface{} `json:"details,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// NewEvent creates an event with a generated id and timestamp. Target
// "all" broadcasts to every subscriber.
func NewEvent(eventType EventType, target string, details map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Target:    target,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
}

// Sink consumes events. Implementations must be best-effort: the
// calling path never fails because a sink write failed.
type Sink interface {
	Log(event Event)
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

// Log delivers the event to every child sink.
func (m MultiSink) Log(event Event) {
	for _, s := range m {
		s.Log(event)
	}
}

// NopSink discards events. Useful as a default wiring.
type NopSink struct{}

// Log discards the event.
func (NopSink) Log(Event) {}
