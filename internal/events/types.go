package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the shape of an event's payload.
type EventType string

const (
	EventAgentSpawned  EventType = "agent:spawned"
	EventAgentOutput   EventType = "agent:output"
	EventAgentStatus   EventType = "agent:status"
	EventAgentDone     EventType = "agent:done"
	EventAgentRerouted EventType = "agent:rerouted"
	EventVerifyStart   EventType = "verify:start"
	EventVerifyResult  EventType = "verify:result"
	EventState         EventType = "state"
	EventSessionFound  EventType = "session:found"
	EventError         EventType = "error"
	EventToolSpawnFail EventType = "tool:spawn_failed"
)

// Priority constants, lower sorts first (most urgent).
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
	PriorityLow      = 4
)

// Event is a typed, timestamped message published on the Bus. Payload carries
// the type-specific fields; Target selects which subscribers receive it
// ("all" broadcasts, anything else is a per-agent or per-client target).
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	Priority  int                    `json:"priority"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewEvent creates an event with an auto-generated id and current timestamp.
func NewEvent(eventType EventType, source, target string, priority int, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// AllEventTypes returns every defined event type, for notification routers
// that need to validate a configured type filter.
func AllEventTypes() []EventType {
	return []EventType{
		EventAgentSpawned,
		EventAgentOutput,
		EventAgentStatus,
		EventAgentDone,
		EventAgentRerouted,
		EventVerifyStart,
		EventVerifyResult,
		EventState,
		EventSessionFound,
		EventError,
		EventToolSpawnFail,
	}
}
