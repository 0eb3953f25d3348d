package orchestrator

// EventType names one stage signal emitted during a turn.
type EventType string

const (
	EventStatus        EventType = "status"
	EventRoute         EventType = "route"
	EventContext       EventType = "context"
	EventPlan          EventType = "plan"
	EventComplexity    EventType = "complexity"
	EventDecomposition EventType = "decomposition"
	EventTool          EventType = "tool"
	EventCitations     EventType = "citations"
	EventActivity      EventType = "activity"
	EventCritique      EventType = "critique"
	EventToken         EventType = "token"
	EventWarning       EventType = "warning"
	EventComplete      EventType = "complete"
	EventTelemetry     EventType = "telemetry"
	EventTrace         EventType = "trace"
	EventDone          EventType = "done"
)

// Event is one structured pipeline signal. Payload carries the minimal data
// needed to reconstruct that stage's decision.
type Event struct {
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Emitter receives pipeline events, typically bridging to a UI or log sink.
// Emit must not block the turn; slow sinks should buffer.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls the function.
func (f EmitterFunc) Emit(ev Event) {
	f(ev)
}

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}

// NopEmitter discards all events.
var NopEmitter Emitter = nopEmitter{}
