package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
)

// Step is one planned agent invocation. After normalization Agent holds the
// canonical registered name and Action is always populated.
type Step struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Required   bool           `json:"required"`
}

// Plan is a strict linear pipeline. It is never mutated after validation
// except for in-place agent-name normalization.
type Plan struct {
	Steps           []Step `json:"steps"`
	OverallStrategy string `json:"overall_strategy,omitempty"`
}

// wire shapes: Required defaults to true when absent, and models often emit
// "task" instead of "action".
type planJSON struct {
	Steps           []stepJSON `json:"steps"`
	OverallStrategy string     `json:"overall_strategy"`
}

type stepJSON struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Task       string         `json:"task"`
	Parameters map[string]any `json:"parameters"`
	Reasoning  string         `json:"reasoning"`
	Required   *bool          `json:"required"`
}

// ParseError marks malformed plan text. It is the only failure class that
// makes the plan eligible for one repair attempt.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("plan parse: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError marks a structurally wrong plan. Never repaired: a plan
// that parsed but names unknown agents or omits fields is a bad plan, not a
// formatting glitch.
type ValidationError struct {
	StepNumber int // 0 for plan-level violations
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.StepNumber > 0 {
		return fmt.Sprintf("plan validation: step %d: %s", e.StepNumber, e.Reason)
	}
	return fmt.Sprintf("plan validation: %s", e.Reason)
}

// ParsePlan decodes raw LLM output into a plan. Formatting wrappers (code
// fences, leading prose up to the first brace) are stripped first. A
// failure here is a *ParseError.
func ParsePlan(raw string) (*Plan, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, &ParseError{Err: fmt.Errorf("no JSON object found in response")}
	}
	var wire planJSON
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, &ParseError{Err: err}
	}
	p := &Plan{OverallStrategy: wire.OverallStrategy}
	for _, s := range wire.Steps {
		step := Step{
			Agent:      s.Agent,
			Action:     s.Action,
			Parameters: s.Parameters,
			Reasoning:  s.Reasoning,
			Required:   true,
		}
		if s.Required != nil {
			step.Required = *s.Required
		}
		if step.Action == "" {
			step.Action = s.Task
		}
		if step.Parameters == nil {
			step.Parameters = map[string]any{}
		}
		p.Steps = append(p.Steps, step)
	}
	return p, nil
}

// extractJSON strips code fences and surrounding prose, returning the
// outermost {...} in the text.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// ValidatePlan checks every step against the registry. maxSteps of 0 means
// unbounded. A bad plan surfaces as a *ValidationError; it is never
// silently trimmed to the valid subset.
func ValidatePlan(p *Plan, reg *agent.Registry, maxSteps int) error {
	if len(p.Steps) == 0 {
		return &ValidationError{Reason: "plan has no steps"}
	}
	if maxSteps > 0 && len(p.Steps) > maxSteps {
		return &ValidationError{Reason: fmt.Sprintf("plan has %d steps, limit is %d", len(p.Steps), maxSteps)}
	}
	for i, s := range p.Steps {
		n := i + 1
		if strings.TrimSpace(s.Agent) == "" {
			return &ValidationError{StepNumber: n, Reason: "missing agent"}
		}
		if strings.TrimSpace(s.Action) == "" {
			return &ValidationError{StepNumber: n, Reason: "missing action"}
		}
		if _, _, ok := reg.Resolve(s.Agent); !ok {
			return &ValidationError{StepNumber: n, Reason: fmt.Sprintf("unknown agent %q", s.Agent)}
		}
	}
	return nil
}

// NormalizePlan rewrites each step's agent to its canonical resolved name
// so the executor never re-resolves. Call only after ValidatePlan passed.
func NormalizePlan(p *Plan, reg *agent.Registry) {
	for i := range p.Steps {
		if _, canonical, ok := reg.Resolve(p.Steps[i].Agent); ok {
			p.Steps[i].Agent = canonical
		}
	}
}
