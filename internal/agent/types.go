// Package agent defines the contract between the orchestration engine and
// the specialist agents it dispatches to, plus the capability registry that
// resolves plan names to live handles.
package agent

import "context"

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// Message is one unit of work handed to an agent: the action to perform
// and its enriched parameter payload.
type Message struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	SessionID  string         `json:"session_id"`
}

// Identity scopes every agent call to the requesting user. Agents must
// never read data outside this scope.
type Identity struct {
	UserID string `json:"user_id"`
}

// Result is an agent's answer to one message.
type Result struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Completed reports whether the call succeeded.
func (r Result) Completed() bool { return r.Status == StatusCompleted }

// Failed returns a failed result with the given error text.
func Failed(msg string) Result {
	return Result{Status: StatusFailed, Error: msg}
}

// CompletedWith wraps a payload in a successful result.
func CompletedWith(payload map[string]any) Result {
	return Result{Status: StatusCompleted, Result: payload}
}

// Capability describes what an agent does, in terms the planner prompt can
// embed verbatim.
type Capability struct {
	Name            string   `json:"name"`
	Purpose         string   `json:"purpose"`
	WhenToUse       []string `json:"when_to_use"`
	WhenNotToUse    []string `json:"when_not_to_use"`
	ExampleTasks    []string `json:"example_tasks"`
	DataSourceAware bool     `json:"data_source_aware"`
}

// Agent is a dispatchable specialist. Execute is synchronous; the engine
// bounds it with a deadline on ctx.
type Agent interface {
	Capability() Capability
	Execute(ctx context.Context, msg Message, id Identity) Result
}
