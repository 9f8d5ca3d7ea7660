package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
	"github.com/1enterprisesight/agent-profiler/internal/agents"
	"github.com/1enterprisesight/agent-profiler/internal/dataset"
	"github.com/1enterprisesight/agent-profiler/internal/event"
	"github.com/1enterprisesight/agent-profiler/internal/provider"
	"github.com/1enterprisesight/agent-profiler/internal/state/store"
)

type scriptedLLM struct {
	responses []string
	requests  []*provider.CompletionRequest
}

func (f *scriptedLLM) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	if len(f.requests) > len(f.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", len(f.requests))
	}
	return &provider.CompletionResponse{Content: f.responses[len(f.requests)-1]}, nil
}

// recordingAgent returns a fixed result and records every message it gets.
type recordingAgent struct {
	name     string
	result   agent.Result
	messages []agent.Message
}

func (a *recordingAgent) Capability() agent.Capability { return agent.Capability{Name: a.name} }

func (a *recordingAgent) Execute(_ context.Context, msg agent.Message, _ agent.Identity) agent.Result {
	a.messages = append(a.messages, msg)
	return a.result
}

type testEnv struct {
	engine  *Engine
	events  *store.EventStore
	llmlog  *store.LLMLog
	records *dataset.RecordStore
}

func newTestEnv(t *testing.T, llm LLMClient, agentList ...agent.Agent) *testEnv {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	events := store.NewEventStore(db)
	llmlog := store.NewLLMLog(db)
	records := dataset.NewRecordStore(db)

	registry := agent.NewRegistry()
	for _, a := range agentList {
		registry.Register(a)
	}

	engine := NewEngine(
		llm,
		registry,
		event.NewEmitter(events, nil),
		store.NewMessageStore(db),
		store.NewResultStore(db),
		llmlog,
		records,
		Options{Model: "test-model", MaxPlanSteps: 8},
	)
	return &testEnv{engine: engine, events: events, llmlog: llmlog, records: records}
}

const plainUnderstanding = `{"canonical_intent": "count records", "references_previous": false, "previous_reference_type": "none", "relevant_fields": [], "clarified_query": "How many records do I have?", "ambiguities": []}`

func countPlan(required bool) string {
	return fmt.Sprintf(`{"overall_strategy": "count the records", "steps": [{"agent": "quantitative", "action": "count_records", "parameters": {}, "required": %v}]}`, required)
}

func TestEndToEndCount(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		plainUnderstanding,
		countPlan(true),
		`{"answer": "You have 4 records.", "key_findings": ["4 records total"], "data_summary": {"count": 4}}`,
	}}

	env := newTestEnv(t, llm)
	for i := 0; i < 4; i++ {
		if _, err := env.records.Insert(dataset.Record{
			UserID: "u1", Name: fmt.Sprintf("client-%d", i),
			Attributes: map[string]any{"revenue": fmt.Sprintf("%d00", i+1)},
		}); err != nil {
			t.Fatal(err)
		}
	}
	// Real specialist wired against the same store.
	env.engine.registry.Register(agents.NewQuantitative(env.records))

	resp, err := env.engine.HandleQuery(context.Background(), "s1", "u1", "How many records do I have?")
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if !resp.Success {
		t.Fatalf("workflow failed: %s", resp.Error)
	}
	if !strings.Contains(resp.Answer, "4") {
		t.Errorf("answer missing the literal count: %q", resp.Answer)
	}
	if len(resp.WorkflowResults) != 1 {
		t.Fatalf("results = %d, want 1", len(resp.WorkflowResults))
	}
	if resp.WorkflowResults[0].Result["count"] != 4 {
		t.Errorf("step result = %+v", resp.WorkflowResults[0].Result)
	}
	if len(resp.AgentsUsed) != 1 || resp.AgentsUsed[0] != "quantitative" {
		t.Errorf("agents_used = %v", resp.AgentsUsed)
	}

	trail, err := env.events.BySession("s1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) == 0 {
		t.Fatal("no events emitted")
	}
	if trail[0].Type != event.TypeReceived {
		t.Errorf("first event = %s, want received", trail[0].Type)
	}
	last := trail[len(trail)-1]
	if !last.Terminal() {
		t.Errorf("last event is not terminal: %+v", last)
	}
	for i := 1; i < len(trail); i++ {
		if trail[i].Seq <= trail[i-1].Seq {
			t.Errorf("event %d seq not increasing: %d <= %d", i, trail[i].Seq, trail[i-1].Seq)
		}
	}
}

func TestUnderstandingFailureFallsBackToRawQuery(t *testing.T) {
	step := &recordingAgent{name: "quantitative", result: agent.CompletedWith(map[string]any{"type": "count", "count": 0})}
	llm := &scriptedLLM{responses: []string{
		"I'm not sure what you mean.", // unparseable understanding
		countPlan(true),
		`{"answer": "Zero.", "key_findings": [], "data_summary": {}}`,
	}}
	env := newTestEnv(t, llm, step)

	resp, err := env.engine.HandleQuery(context.Background(), "s1", "u1", "how many?")
	if err != nil || !resp.Success {
		t.Fatalf("understanding failure blocked the pipeline: %v / %+v", err, resp)
	}
	// The raw query flows through to the step payload.
	if got := step.messages[0].Parameters["original_query"]; got != "how many?" {
		t.Errorf("original_query = %v", got)
	}
}

func TestRepairInvokedOnceAndAccepted(t *testing.T) {
	step := &recordingAgent{name: "quantitative", result: agent.CompletedWith(map[string]any{"type": "count", "count": 7})}
	llm := &scriptedLLM{responses: []string{
		plainUnderstanding,
		`{"steps": [{"agent": "quantitative", "action": "count_records",}]}`, // trailing comma
		countPlan(true), // repaired
		`{"answer": "Seven.", "key_findings": [], "data_summary": {}}`,
	}}
	env := newTestEnv(t, llm, step)

	resp, err := env.engine.HandleQuery(context.Background(), "s1", "u1", "count")
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if !resp.Success {
		t.Fatalf("repaired plan rejected: %s", resp.Error)
	}
	if len(llm.requests) != 4 {
		t.Errorf("llm calls = %d, want 4 (understanding, plan, repair, synthesis)", len(llm.requests))
	}

	calls, _ := env.llmlog.BySession("s1")
	repairs := 0
	for _, c := range calls {
		if c.Purpose == "repair" {
			repairs++
		}
	}
	if repairs != 1 {
		t.Errorf("repair calls logged = %d, want 1", repairs)
	}
}

func TestRepairSecondFailureIsFatal(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		plainUnderstanding,
		`not json at all`,
		`still not json`,
	}}
	env := newTestEnv(t, llm, &recordingAgent{name: "quantitative", result: agent.CompletedWith(nil)})

	resp, err := env.engine.HandleQuery(context.Background(), "s1", "u1", "count")
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if resp.Success {
		t.Fatal("doubly malformed plan accepted")
	}
	// No synthesis call after rejection: understanding, plan, repair only.
	if len(llm.requests) != 3 {
		t.Errorf("llm calls = %d, want 3", len(llm.requests))
	}
	// The original parse error is preserved in the failure payload.
	if !strings.Contains(resp.Error, "parse") {
		t.Errorf("error does not preserve the parse failure: %q", resp.Error)
	}

	trail, _ := env.events.BySession("s1", "u1")
	last := trail[len(trail)-1]
	if last.Type != event.TypeError || !last.Terminal() {
		t.Errorf("terminal error event missing: %+v", last)
	}
}

func TestValidationFailureNeverRepaired(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		plainUnderstanding,
		`{"steps": [{"agent": "oracle", "action": "divine"}]}`, // parses, unknown agent
	}}
	env := newTestEnv(t, llm, &recordingAgent{name: "quantitative", result: agent.CompletedWith(nil)})

	resp, err := env.engine.HandleQuery(context.Background(), "s1", "u1", "count")
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if resp.Success {
		t.Fatal("plan with unknown agent accepted")
	}
	// Understanding and plan only: validation failure must not trigger repair.
	if len(llm.requests) != 2 {
		t.Errorf("llm calls = %d, want 2", len(llm.requests))
	}
	if !strings.Contains(resp.Error, "oracle") {
		t.Errorf("error does not name the bad agent: %q", resp.Error)
	}
}

func TestRequiredStepFailureAborts(t *testing.T) {
	failer := &recordingAgent{name: "quantitative", result: agent.Failed("store unavailable")}
	next := &recordingAgent{name: "segmentation", result: agent.CompletedWith(nil)}
	llm := &scriptedLLM{responses: []string{
		plainUnderstanding,
		`{"steps": [
			{"agent": "quantitative", "action": "count_records", "required": true},
			{"agent": "segmentation", "action": "segment"}
		]}`,
	}}
	env := newTestEnv(t, llm, failer, next)

	resp, err := env.engine.HandleQuery(context.Background(), "s1", "u1", "count then segment")
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if resp.Success {
		t.Fatal("workflow succeeded despite required-step failure")
	}
	if len(resp.WorkflowResults) != 1 {
		t.Fatalf("results = %d, want exactly 1", len(resp.WorkflowResults))
	}
	if len(next.messages) != 0 {
		t.Error("step after a failed required step was dispatched")
	}
	// Failure is labeled with step number and agent name.
	if !strings.Contains(resp.Error, "step 1") || !strings.Contains(resp.Error, "quantitative") {
		t.Errorf("failure label = %q", resp.Error)
	}
	if resp.ExecutionPlan == nil || len(resp.ExecutionPlan.Steps) != 2 {
		t.Error("failure payload missing the plan")
	}
}

func TestOptionalStepFailureContinues(t *testing.T) {
	failer := &recordingAgent{name: "quantitative", result: agent.Failed("no numeric field")}
	next := &recordingAgent{name: "segmentation", result: agent.CompletedWith(map[string]any{"type": "segments"})}
	llm := &scriptedLLM{responses: []string{
		plainUnderstanding,
		`{"steps": [
			{"agent": "quantitative", "action": "aggregate", "required": false},
			{"agent": "segmentation", "action": "segment"}
		]}`,
		`{"answer": "Done.", "key_findings": [], "data_summary": {}}`,
	}}
	env := newTestEnv(t, llm, failer, next)

	resp, err := env.engine.HandleQuery(context.Background(), "s1", "u1", "aggregate then segment")
	if err != nil {
		t.Fatalf("HandleQuery: %v", err)
	}
	if !resp.Success {
		t.Fatalf("optional failure aborted the workflow: %s", resp.Error)
	}
	if len(resp.WorkflowResults) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.WorkflowResults))
	}
	if resp.WorkflowResults[0].Success || !resp.WorkflowResults[1].Success {
		t.Errorf("result statuses = %v, %v", resp.WorkflowResults[0].Success, resp.WorkflowResults[1].Success)
	}

	// The failed step leaves no entry in previous_step_results.
	prev, ok := next.messages[0].Parameters["previous_step_results"].(map[string]any)
	if !ok {
		t.Fatal("previous_step_results missing")
	}
	if _, present := prev["step_1"]; present {
		t.Error("failed step leaked into previous_step_results")
	}
}

func TestPreviousStepResultsFlow(t *testing.T) {
	first := &recordingAgent{name: "quantitative", result: agent.CompletedWith(map[string]any{"type": "count", "count": 12})}
	second := &recordingAgent{name: "recommendation", result: agent.CompletedWith(map[string]any{"type": "recommendations", "recommendations": []string{"x"}})}
	llm := &scriptedLLM{responses: []string{
		plainUnderstanding,
		`{"steps": [
			{"agent": "quantitative", "action": "count_records"},
			{"agent": "recommendation", "action": "recommend_actions"}
		]}`,
		`{"answer": "Done.", "key_findings": [], "data_summary": {}}`,
	}}
	env := newTestEnv(t, llm, first, second)

	if _, err := env.engine.HandleQuery(context.Background(), "s1", "u1", "count then recommend"); err != nil {
		t.Fatal(err)
	}
	prev := second.messages[0].Parameters["previous_step_results"].(map[string]any)
	step1, ok := prev["step_1"].(map[string]any)
	if !ok || step1["count"] != 12 {
		t.Errorf("previous_step_results = %v", prev)
	}
}

func TestReferencesPreviousTurn(t *testing.T) {
	step := &recordingAgent{name: "quantitative", result: agent.CompletedWith(map[string]any{"type": "count", "count": 3})}
	understanding := `{"canonical_intent": "count clients in region X", "references_previous": true, "previous_reference_type": "query", "relevant_fields": ["region"], "clarified_query": "How many clients in region X do I have?", "ambiguities": []}`
	llm := &scriptedLLM{responses: []string{
		understanding,
		countPlan(true),
		`{"answer": "Three in region X.", "key_findings": [], "data_summary": {}}`,
	}}
	env := newTestEnv(t, llm, step)

	// First request leaves the prior turn in the conversation log.
	if _, err := env.engine.HandleQuery(context.Background(), "s1", "u1", "show me clients in region X"); err != nil {
		t.Fatal(err)
	}
	llm.responses = append(llm.responses, understanding, countPlan(true),
		`{"answer": "Three in region X.", "key_findings": [], "data_summary": {}}`)

	resp, err := env.engine.HandleQuery(context.Background(), "s1", "u1", "How many do I have?")
	if err != nil || !resp.Success {
		t.Fatalf("follow-up failed: %v / %+v", err, resp)
	}

	// The understanding prompt for the follow-up carries the earlier turn,
	// and the clarified query embedding "region X" drives planning and
	// execution.
	undPrompt := llm.requests[3].Messages[0].Content
	if !strings.Contains(undPrompt, "show me clients in region X") {
		t.Error("understanding prompt missing conversation history")
	}
	planPrompt := llm.requests[4].Messages[0].Content
	if !strings.Contains(planPrompt, "region X") {
		t.Error("plan prompt missing the clarified reference")
	}
	if got := step.messages[len(step.messages)-1].Parameters["original_query"]; got != "How many clients in region X do I have?" {
		t.Errorf("step query = %v", got)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	short := "hello"
	if got := truncate(short, 10); got != short {
		t.Errorf("truncate(%q, 10) = %q", short, got)
	}

	// Multi-byte runes must never be split mid-sequence.
	s := strings.Repeat("é", 20) // 2 bytes per rune
	for n := 1; n < len(s); n++ {
		got := truncate(s, n)
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(_, %d) = %q is not valid UTF-8", n, got)
		}
		if len(got) > n+len("...") {
			t.Fatalf("truncate(_, %d) returned %d bytes", n, len(got))
		}
	}
}
