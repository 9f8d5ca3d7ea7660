package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/1enterprisesight/agent-profiler/internal/provider"
)

// Synthesis is the aggregator's output.
type Synthesis struct {
	Answer      string         `json:"answer"`
	KeyFindings []string       `json:"key_findings"`
	DataSummary map[string]any `json:"data_summary"`
}

// aggregate synthesizes a final answer from all step outputs. On any model
// or parse failure it falls back to a deterministic concatenation of step
// summaries; the pipeline always terminates with some user-facing answer.
func (e *Engine) aggregate(ctx context.Context, sessionID, userID, query, strategy string, results []WorkflowResult) *Synthesis {
	prompt := buildSynthesisPrompt(query, strategy, results)

	start := time.Now()
	resp, err := e.llm.Complete(ctx, &provider.CompletionRequest{
		Model: e.model,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: prompt},
		},
		Temperature: provider.Temp(0.3),
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		e.logLLM(sessionID, userID, "synthesis", prompt, "", err, latency)
		log.Printf("orchestrator: synthesis failed, using fallback answer: %v", err)
		return fallbackSynthesis(results)
	}
	e.logLLM(sessionID, userID, "synthesis", prompt, resp.Content, nil, latency)

	var s Synthesis
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &s); err != nil || s.Answer == "" {
		// Plain-text answers are acceptable too.
		if trimmed := strings.TrimSpace(resp.Content); trimmed != "" && !strings.HasPrefix(trimmed, "{") {
			return &Synthesis{Answer: trimmed, KeyFindings: []string{}, DataSummary: map[string]any{}}
		}
		log.Printf("orchestrator: synthesis parse failed, using fallback answer")
		return fallbackSynthesis(results)
	}
	if s.KeyFindings == nil {
		s.KeyFindings = []string{}
	}
	if s.DataSummary == nil {
		s.DataSummary = map[string]any{}
	}
	return &s
}

func buildSynthesisPrompt(query, strategy string, results []WorkflowResult) string {
	var b strings.Builder
	b.WriteString("Write a clear answer to the user's question from the analysis results below.\n")
	b.WriteString("Respond with only a JSON object: {\"answer\": \"...\", \"key_findings\": [], \"data_summary\": {}}\n")
	b.WriteString("Quote exact numbers from the results; never invent values.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", query)
	if strategy != "" {
		fmt.Fprintf(&b, "Strategy: %s\n", strategy)
	}
	b.WriteString("Results:\n")
	for _, r := range results {
		if !r.Success {
			fmt.Fprintf(&b, "  step %d (%s.%s): FAILED: %s\n", r.StepNumber, r.Agent, r.Action, r.Error)
			continue
		}
		data, _ := json.Marshal(r.Result)
		fmt.Fprintf(&b, "  step %d (%s.%s): %s\n", r.StepNumber, r.Agent, r.Action, data)
	}
	return b.String()
}

// fallbackSynthesis concatenates each step's compact summary. Degraded but
// deterministic.
func fallbackSynthesis(results []WorkflowResult) *Synthesis {
	var lines []string
	summary := map[string]any{}
	for _, r := range results {
		if !r.Success {
			lines = append(lines, fmt.Sprintf("Step %d (%s) failed: %s", r.StepNumber, r.Agent, r.Error))
			continue
		}
		lines = append(lines, summarizeResult(r.Result))
		summary[fmt.Sprintf("step_%d", r.StepNumber)] = r.Result
	}
	if len(lines) == 0 {
		lines = []string{"No analysis steps completed."}
	}
	return &Synthesis{
		Answer:      strings.Join(lines, " "),
		KeyFindings: lines,
		DataSummary: summary,
	}
}
