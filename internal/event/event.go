// Package event carries the transparency trail: every phase of a workflow
// emits an ordered, session-scoped event that callers can replay live or
// after the fact.
package event

import "time"

type Type string

const (
	TypeReceived Type = "received"
	TypeThinking Type = "thinking"
	TypeDecision Type = "decision"
	TypeAction   Type = "action"
	TypeResult   Type = "result"
	TypeError    Type = "error"
)

// OrchestratorAgent is the agent name on engine-level events. Consumers
// treat a result or error event from this identity as the workflow
// terminal marker.
const OrchestratorAgent = "orchestrator"

// Event is one append-only entry in a session's transparency trail.
// Seq is a per-process monotonic counter so events emitted within the same
// timestamp still replay in emit order.
type Event struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	AgentName     string         `json:"agent_name"`
	Type          Type           `json:"event_type"`
	Title         string         `json:"title"`
	Details       map[string]any `json:"details"`
	ParentEventID string         `json:"parent_event_id,omitempty"`
	StepNumber    int            `json:"step_number"`
	DurationMS    int64          `json:"duration_ms"`
	Seq           int64          `json:"seq"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Terminal reports whether this event marks the end of a workflow: a
// result or error event from the orchestrator identity with a positive
// step number.
func (e *Event) Terminal() bool {
	if e.AgentName != OrchestratorAgent {
		return false
	}
	if e.Type != TypeResult && e.Type != TypeError {
		return false
	}
	return e.StepNumber > 0
}
