package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
	"github.com/1enterprisesight/agent-profiler/internal/provider"
)

// Recommendation turns earlier step results into actionable suggestions.
// It is the one specialist that talks to the model directly.
type Recommendation struct {
	llm   provider.Provider
	model string
}

func NewRecommendation(llm provider.Provider, model string) *Recommendation {
	return &Recommendation{llm: llm, model: model}
}

func (a *Recommendation) Capability() agent.Capability {
	return agent.Capability{
		Name:    "recommendation",
		Purpose: "Generates actionable recommendations from earlier analysis",
		WhenToUse: []string{
			"The user asks what they should do next",
			"Analysis from earlier steps needs to be turned into actions",
		},
		WhenNotToUse: []string{
			"No analysis exists yet to base recommendations on",
			"The user wants raw numbers or profiles",
		},
		ExampleTasks: []string{
			"What should I focus on?",
			"Recommend next steps for my high-value clients",
		},
		DataSourceAware: false,
	}
}

func (a *Recommendation) Execute(ctx context.Context, msg agent.Message, id agent.Identity) agent.Result {
	query := paramString(msg.Parameters, "original_query")
	if query == "" {
		query = paramString(msg.Parameters, "request")
	}

	var prior string
	if prev, ok := msg.Parameters["previous_step_results"].(map[string]any); ok && len(prev) > 0 {
		if data, err := json.Marshal(prev); err == nil {
			prior = string(data)
		}
	}

	var b strings.Builder
	b.WriteString("You are a business analyst. Based on the analysis below, give 3-5 concrete, prioritized recommendations.\n")
	b.WriteString("Respond with a JSON array of strings, nothing else.\n\n")
	fmt.Fprintf(&b, "User question: %s\n", query)
	if prior != "" {
		fmt.Fprintf(&b, "Analysis results: %s\n", prior)
	} else {
		b.WriteString("No prior analysis is available; recommend how to start.\n")
	}

	resp, err := a.llm.Complete(ctx, &provider.CompletionRequest{
		Model: a.model,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: b.String()},
		},
		Temperature: provider.Temp(0.7),
	})
	if err != nil {
		return agent.Failed(fmt.Sprintf("recommendation model call: %v", err))
	}

	recommendations := parseRecommendations(resp.Content)
	return agent.CompletedWith(map[string]any{
		"type":            "recommendations",
		"recommendations": recommendations,
	})
}

// parseRecommendations accepts a JSON array, optionally fenced, and falls
// back to treating non-empty lines as items.
func parseRecommendations(content string) []string {
	trimmed := stripFences(content)

	var items []string
	if err := json.Unmarshal([]byte(trimmed), &items); err == nil && len(items) > 0 {
		return items
	}
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
