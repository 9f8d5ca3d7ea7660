package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
	"github.com/1enterprisesight/agent-profiler/internal/event"
	"github.com/1enterprisesight/agent-profiler/internal/state/store"
)

// WorkflowResult is the recorded outcome of one executed step.
type WorkflowResult struct {
	StepNumber int            `json:"step_number"`
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Result     map[string]any `json:"result,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// executePlan runs the validated plan strictly in order. A required step's
// failure aborts the rest; an optional step's failure is recorded, warned
// about, and skipped over. Returns the results accumulated so far and
// whether the whole plan completed.
func (e *Engine) executePlan(ctx context.Context, sessionID, userID, query string, plan *Plan, pc *planContext) ([]WorkflowResult, bool) {
	var results []WorkflowResult
	previous := map[string]any{}

	for i, step := range plan.Steps {
		n := i + 1
		payload := e.enrichPayload(step, query, pc, previous)

		e.mustEmit(ctx, sessionID, userID, event.Event{
			AgentName:  step.Agent,
			Type:       event.TypeAction,
			Title:      fmt.Sprintf("Running %s.%s", step.Agent, step.Action),
			Details:    map[string]any{"reasoning": step.Reasoning},
			StepNumber: n,
		})

		start := time.Now()
		res := e.dispatch(ctx, step, payload, sessionID, userID)
		duration := time.Since(start).Milliseconds()

		wr := WorkflowResult{
			StepNumber: n,
			Agent:      step.Agent,
			Action:     step.Action,
			Result:     res.Result,
			Success:    res.Completed(),
			Error:      res.Error,
			DurationMS: duration,
		}
		if res.Status == agent.StatusTimeout && wr.Error == "" {
			wr.Error = "agent timed out"
		}
		results = append(results, wr)
		e.persistResult(sessionID, wr)

		if wr.Success {
			// Step k+1 references this step's findings by key.
			previous[fmt.Sprintf("step_%d", n)] = res.Result
			e.mustEmit(ctx, sessionID, userID, event.Event{
				AgentName:  step.Agent,
				Type:       event.TypeResult,
				Title:      summarizeResult(res.Result),
				Details:    map[string]any{"action": step.Action},
				StepNumber: n,
				DurationMS: duration,
			})
			continue
		}

		e.mustEmit(ctx, sessionID, userID, event.Event{
			AgentName:  step.Agent,
			Type:       event.TypeError,
			Title:      fmt.Sprintf("%s failed: %s", step.Agent, wr.Error),
			Details:    map[string]any{"action": step.Action, "status": res.Status},
			StepNumber: n,
			DurationMS: duration,
		})

		if step.Required {
			// Fail fast: later steps typically depend on this one.
			return results, false
		}
		log.Printf("orchestrator: optional step %d (%s) failed, continuing: %s", n, step.Agent, wr.Error)
	}
	return results, true
}

// enrichPayload merges the step's own parameters with the accumulated
// workflow context. Step parameters win on key collision.
func (e *Engine) enrichPayload(step Step, query string, pc *planContext, previous map[string]any) map[string]any {
	payload := map[string]any{
		"original_query":        query,
		"previous_step_results": previous,
	}
	if pc.schema != nil {
		payload["schema_context"] = pc.schema.Describe()
	}
	if len(pc.history) > 0 {
		history := make([]map[string]any, 0, len(pc.history))
		for _, m := range pc.history {
			history = append(history, map[string]any{"role": m.Role, "content": m.Content})
		}
		payload["conversation_history"] = history
	}
	if pc.understanding != nil {
		payload["query_understanding"] = pc.understanding
	}
	for k, v := range step.Parameters {
		payload[k] = v
	}
	return payload
}

// dispatch invokes the agent under a bounded wait. The agent owns its own
// timeout behavior; this wait is the backstop that keeps the pipeline from
// hanging on an agent that ignores its contract.
func (e *Engine) dispatch(ctx context.Context, step Step, payload map[string]any, sessionID, userID string) agent.Result {
	a, _, ok := e.registry.Resolve(step.Agent)
	if !ok {
		// Validation guarantees this cannot happen; defend anyway.
		return agent.Failed(fmt.Sprintf("agent %q not registered", step.Agent))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	done := make(chan agent.Result, 1)
	go func() {
		done <- a.Execute(callCtx, agent.Message{
			Action:     step.Action,
			Parameters: payload,
			SessionID:  sessionID,
		}, agent.Identity{UserID: userID})
	}()

	select {
	case res := <-done:
		return res
	case <-callCtx.Done():
		return agent.Result{
			Status: agent.StatusTimeout,
			Error:  fmt.Sprintf("agent %q timed out after %s", step.Agent, e.stepTimeout),
		}
	}
}

func (e *Engine) persistResult(sessionID string, wr WorkflowResult) {
	if e.results == nil {
		return
	}
	err := e.results.Append(store.StepResult{
		SessionID:  sessionID,
		StepNumber: wr.StepNumber,
		Agent:      wr.Agent,
		Action:     wr.Action,
		Result:     wr.Result,
		Success:    wr.Success,
		Error:      wr.Error,
		DurationMS: wr.DurationMS,
	})
	if err != nil {
		log.Printf("orchestrator: persist step result: %v", err)
	}
}

// summarizeResult turns a step payload into a compact event title. The
// transparency stream stays bounded; full payloads live in the workflow
// results.
func summarizeResult(result map[string]any) string {
	if result == nil {
		return "Step completed"
	}
	switch result["type"] {
	case "count":
		return fmt.Sprintf("Found %v records", result["count"])
	case "aggregate":
		return fmt.Sprintf("Computed %v(%v) = %v", result["operation"], result["field"], result["value"])
	case "group_by":
		if groups, ok := result["groups"].(map[string]int); ok {
			return fmt.Sprintf("Grouped records into %d buckets", len(groups))
		}
		return "Grouped records"
	case "segments":
		if segs, ok := result["segments"].([]map[string]any); ok {
			return fmt.Sprintf("Created %d segments", len(segs))
		}
		return "Created segments"
	case "profile":
		return fmt.Sprintf("Profiled %v fields across %v records", result["field_count"], result["record_count"])
	case "patterns":
		if ps, ok := result["patterns"].([]map[string]any); ok {
			return fmt.Sprintf("Detected %d patterns in %v", len(ps), result["field"])
		}
		return "Pattern analysis complete"
	case "benchmark":
		if score, ok := result["completeness_score"].(float64); ok {
			return fmt.Sprintf("Scored data quality at %.0f%%", score)
		}
		return "Benchmark complete"
	case "recommendations":
		if recs, ok := result["recommendations"].([]string); ok {
			return fmt.Sprintf("Generated %d recommendations", len(recs))
		}
		return "Generated recommendations"
	}
	return "Step completed"
}
