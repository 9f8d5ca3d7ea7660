package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/1enterprisesight/agent-profiler/internal/dataset"
	"github.com/1enterprisesight/agent-profiler/internal/provider"
	"github.com/1enterprisesight/agent-profiler/internal/state/store"
)

// planContext is everything the planner prompt embeds beyond the query.
type planContext struct {
	schema        *dataset.Schema
	history       []*store.Message
	understanding *Understanding
	dataSources   map[string]int
}

// generatePlan asks the model for a plan and returns the raw response text.
// Every prompt/response pair lands in the audit log.
func (e *Engine) generatePlan(ctx context.Context, sessionID, userID, query string, pc *planContext) (string, error) {
	prompt := e.buildPlanPrompt(query, pc)

	start := time.Now()
	resp, err := e.llm.Complete(ctx, &provider.CompletionRequest{
		Model: e.model,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: prompt},
		},
		Temperature: provider.Temp(0),
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		e.logLLM(sessionID, userID, "plan", prompt, "", err, latency)
		return "", fmt.Errorf("plan generation: %w", err)
	}
	e.logLLM(sessionID, userID, "plan", prompt, resp.Content, nil, latency)
	return resp.Content, nil
}

// buildPlanPrompt enumerates the exact registered agent identifiers and
// forbids invented ones. Name hallucination is the largest source of plan
// validation failure, so the constraint is stated twice.
func (e *Engine) buildPlanPrompt(query string, pc *planContext) string {
	var b strings.Builder
	b.WriteString("Create an execution plan to answer the user's question by delegating to specialist agents.\n\n")

	names := e.registry.Names()
	fmt.Fprintf(&b, "Valid agent identifiers (use ONLY these, exactly as written): %s\n", strings.Join(names, ", "))
	b.WriteString("Never invent an agent name. A plan naming any other agent will be rejected.\n\n")

	b.WriteString("Agents:\n")
	for _, c := range e.registry.Schema() {
		fmt.Fprintf(&b, "## %s\n%s\n", c.Name, c.Purpose)
		writeList(&b, "Use when", c.WhenToUse)
		writeList(&b, "Do not use when", c.WhenNotToUse)
		writeList(&b, "Example tasks", c.ExampleTasks)
		b.WriteString("\n")
	}

	if pc.schema != nil {
		b.WriteString("Data context:\n")
		b.WriteString(pc.schema.Describe())
		b.WriteString("\n")
	}
	if len(pc.dataSources) > 0 {
		b.WriteString("Data sources: ")
		first := true
		for src, n := range pc.dataSources {
			if !first {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%d records)", src, n)
			first = false
		}
		b.WriteString("\n\n")
	}
	if len(pc.history) > 0 {
		b.WriteString("Conversation history:\n")
		for _, m := range pc.history {
			fmt.Fprintf(&b, "  %s: %s\n", m.Role, truncate(m.Content, 200))
		}
		b.WriteString("\n")
	}
	if pc.understanding != nil {
		fmt.Fprintf(&b, "Interpreted intent: %s\n", pc.understanding.CanonicalIntent)
		if pc.understanding.ReferencesPrevious {
			fmt.Fprintf(&b, "The request references previous %s.\n", pc.understanding.PreviousReferenceType)
		}
		if len(pc.understanding.RelevantFields) > 0 {
			fmt.Fprintf(&b, "Relevant fields: %s\n", strings.Join(pc.understanding.RelevantFields, ", "))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User question: %s\n\n", query)
	b.WriteString("Respond with only a JSON object:\n")
	b.WriteString(`{"overall_strategy": "...", "steps": [{"agent": "...", "action": "...", "parameters": {}, "reasoning": "...", "required": true}]}`)
	if e.maxPlanSteps > 0 {
		fmt.Fprintf(&b, "\nUse at most %d steps.", e.maxPlanSteps)
	}
	b.WriteString("\n")
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}

// preparePlan runs the parse/validate/repair state machine over raw plan
// text. Repair is entered at most once, and only from a parse failure; a
// validation failure is final on first sight.
func (e *Engine) preparePlan(ctx context.Context, sessionID, userID, raw string) (*Plan, error) {
	plan, parseErr := ParsePlan(raw)
	if parseErr != nil {
		repaired, repairErr := e.repairPlan(ctx, sessionID, userID, raw, parseErr)
		if repairErr != nil {
			// The original error is what the caller needs to see.
			return nil, fmt.Errorf("plan rejected after repair attempt (%v): %w", repairErr, parseErr)
		}
		plan = repaired
	}
	if err := ValidatePlan(plan, e.registry, e.maxPlanSteps); err != nil {
		return nil, err
	}
	NormalizePlan(plan, e.registry)
	return plan, nil
}

// repairPlan sends the malformed text and its exact parse error back to the
// model once. No second attempt: unlimited repair loops would mask
// genuinely bad requests.
func (e *Engine) repairPlan(ctx context.Context, sessionID, userID, malformed string, parseErr error) (*Plan, error) {
	var b strings.Builder
	b.WriteString("The following plan is not valid JSON. Fix the formatting and respond with only the corrected JSON object. Do not change the plan's content.\n\n")
	fmt.Fprintf(&b, "Parse error: %v\n\nMalformed plan:\n%s\n", parseErr, malformed)

	start := time.Now()
	resp, err := e.llm.Complete(ctx, &provider.CompletionRequest{
		Model: e.model,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: b.String()},
		},
		Temperature: provider.Temp(0),
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		e.logLLM(sessionID, userID, "repair", b.String(), "", err, latency)
		return nil, fmt.Errorf("repair call: %w", err)
	}
	e.logLLM(sessionID, userID, "repair", b.String(), resp.Content, nil, latency)

	return ParsePlan(resp.Content)
}
