package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/1enterprisesight/agent-profiler/internal/provider"
	"github.com/1enterprisesight/agent-profiler/internal/state/store"
)

// Understanding is advisory context for planning, not a gate. It is derived
// once per request and never persisted as authoritative state.
type Understanding struct {
	CanonicalIntent       string   `json:"canonical_intent"`
	ReferencesPrevious    bool     `json:"references_previous"`
	PreviousReferenceType string   `json:"previous_reference_type"` // results | query | none
	RelevantFields        []string `json:"relevant_fields"`
	ClarifiedQuery        string   `json:"clarified_query"`
	Ambiguities           []string `json:"ambiguities"`
}

// fallbackUnderstanding is what every failure path produces: the raw query
// passes through untouched.
func fallbackUnderstanding(query string) *Understanding {
	return &Understanding{
		CanonicalIntent:       query,
		ReferencesPrevious:    false,
		PreviousReferenceType: "none",
		RelevantFields:        []string{},
		ClarifiedQuery:        query,
		Ambiguities:           []string{},
	}
}

// understand asks the model to canonicalize the request. Any call or parse
// error falls back to the raw query; this layer must never block the
// pipeline.
func (e *Engine) understand(ctx context.Context, sessionID, userID, query string, history []*store.Message, fieldNames []string) *Understanding {
	prompt := buildUnderstandingPrompt(query, history, fieldNames)

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
		e.logLLM(sessionID, userID, "understanding", prompt, "", err, latency)
		log.Printf("orchestrator: understanding failed, using raw query: %v", err)
		return fallbackUnderstanding(query)
	}
	e.logLLM(sessionID, userID, "understanding", prompt, resp.Content, nil, latency)

	var u Understanding
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &u); err != nil {
		log.Printf("orchestrator: understanding parse failed, using raw query: %v", err)
		return fallbackUnderstanding(query)
	}
	if u.CanonicalIntent == "" {
		u.CanonicalIntent = query
	}
	if u.ClarifiedQuery == "" {
		u.ClarifiedQuery = query
	}
	if u.PreviousReferenceType == "" {
		u.PreviousReferenceType = "none"
	}
	if u.RelevantFields == nil {
		u.RelevantFields = []string{}
	}
	if u.Ambiguities == nil {
		u.Ambiguities = []string{}
	}
	return &u
}

func buildUnderstandingPrompt(query string, history []*store.Message, fieldNames []string) string {
	var b strings.Builder
	b.WriteString("Canonicalize this analytical request. Respond with only a JSON object:\n")
	b.WriteString(`{"canonical_intent": "...", "references_previous": false, "previous_reference_type": "results|query|none", "relevant_fields": [], "clarified_query": "...", "ambiguities": []}`)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Request: %s\n", query)
	if len(fieldNames) > 0 {
		fmt.Fprintf(&b, "Available fields: %s\n", strings.Join(fieldNames, ", "))
	}
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "  %s: %s\n", m.Role, truncate(m.Content, 200))
		}
		b.WriteString("If the request refers to earlier turns or their results, set references_previous and fold the referenced detail into clarified_query.\n")
	}
	return b.String()
}

// truncate cuts s to at most n bytes on a rune boundary, so multi-byte
// characters are never split mid-sequence in prompts or event details.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
