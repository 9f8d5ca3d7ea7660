// Package orchestrator coordinates specialist agents to answer open-ended
// analytical requests: it understands the query, asks the model for a plan,
// validates and repairs that plan, executes it step by step, and
// synthesizes the results, emitting a transparency event at every phase.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
	"github.com/1enterprisesight/agent-profiler/internal/dataset"
	"github.com/1enterprisesight/agent-profiler/internal/event"
	"github.com/1enterprisesight/agent-profiler/internal/metrics"
	"github.com/1enterprisesight/agent-profiler/internal/provider"
	"github.com/1enterprisesight/agent-profiler/internal/state/store"
)

// LLMClient is the slice of the provider contract the engine needs.
type LLMClient interface {
	Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

// Engine runs one workflow per call. Safe for concurrent use across
// sessions; within a session callers are expected to serialize requests.
type Engine struct {
	llm      LLMClient
	model    string
	registry *agent.Registry
	emitter  *event.Emitter

	messages *store.MessageStore
	results  *store.ResultStore
	llmlog   *store.LLMLog
	records  *dataset.RecordStore

	historyLimit int
	stepTimeout  time.Duration
	maxPlanSteps int
}

// Options bound the engine's resource use.
type Options struct {
	Model        string
	HistoryLimit int
	StepTimeout  time.Duration
	MaxPlanSteps int
}

func NewEngine(
	llm LLMClient,
	registry *agent.Registry,
	emitter *event.Emitter,
	messages *store.MessageStore,
	results *store.ResultStore,
	llmlog *store.LLMLog,
	records *dataset.RecordStore,
	opts Options,
) *Engine {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 60 * time.Second
	}
	return &Engine{
		llm:          llm,
		model:        opts.Model,
		registry:     registry,
		emitter:      emitter,
		messages:     messages,
		results:      results,
		llmlog:       llmlog,
		records:      records,
		historyLimit: opts.HistoryLimit,
		stepTimeout:  opts.StepTimeout,
		maxPlanSteps: opts.MaxPlanSteps,
	}
}

// Response is the workflow payload returned to the caller on completion or
// required-step failure. Failed is labeled with the failing step so the
// caller always has an auditable trace.
type Response struct {
	Answer          string           `json:"answer"`
	KeyFindings     []string         `json:"key_findings"`
	DataSummary     map[string]any   `json:"data_summary"`
	ExecutionPlan   *Plan            `json:"execution_plan,omitempty"`
	WorkflowResults []WorkflowResult `json:"workflow_results"`
	AgentsUsed      []string         `json:"agents_used"`
	Success         bool             `json:"success"`
	Error           string           `json:"error,omitempty"`
}

// HandleQuery runs the full pipeline for one request. It never returns a
// nil response with a nil error: even a failed workflow yields a labeled
// payload. The returned error covers infrastructure faults only (the event
// emitter refusing the request, for example), not workflow failures.
func (e *Engine) HandleQuery(ctx context.Context, sessionID, userID, query string) (*Response, error) {
	workflowStart := time.Now()

	if _, err := e.emit(ctx, sessionID, userID, event.Event{
		Type:    event.TypeReceived,
		Title:   "Received query",
		Details: map[string]any{"query": truncate(query, 200)},
	}); err != nil {
		return nil, err
	}
	if _, err := e.messages.Append(sessionID, userID, "user", query, nil); err != nil {
		log.Printf("orchestrator: persist user message: %v", err)
	}

	history, err := e.messages.History(sessionID, userID, e.historyLimit)
	if err != nil {
		log.Printf("orchestrator: load history: %v", err)
	}

	pc := e.discoverContext(userID, history)

	e.mustEmit(ctx, sessionID, userID, event.Event{
		Type:  event.TypeThinking,
		Title: "Understanding the question",
	})
	pc.understanding = e.understand(ctx, sessionID, userID, query, history, fieldNames(pc.schema))

	e.mustEmit(ctx, sessionID, userID, event.Event{
		Type:    event.TypeThinking,
		Title:   "Planning the analysis",
		Details: map[string]any{"intent": pc.understanding.CanonicalIntent},
	})

	raw, err := e.generatePlan(ctx, sessionID, userID, pc.understanding.ClarifiedQuery, pc)
	if err != nil {
		return e.fail(ctx, sessionID, userID, workflowStart, nil, nil, fmt.Errorf("plan generation failed: %w", err)), nil
	}
	plan, err := e.preparePlan(ctx, sessionID, userID, raw)
	if err != nil {
		return e.fail(ctx, sessionID, userID, workflowStart, nil, nil, err), nil
	}

	e.mustEmit(ctx, sessionID, userID, event.Event{
		Type:  event.TypeDecision,
		Title: fmt.Sprintf("Planned %d steps", len(plan.Steps)),
		Details: map[string]any{
			"strategy": plan.OverallStrategy,
			"agents":   agentsUsed(plan),
		},
	})

	results, completed := e.executePlan(ctx, sessionID, userID, pc.understanding.ClarifiedQuery, plan, pc)
	if !completed {
		failed := results[len(results)-1]
		err := fmt.Errorf("required step %d (%s) failed: %s", failed.StepNumber, failed.Agent, failed.Error)
		return e.fail(ctx, sessionID, userID, workflowStart, plan, results, err), nil
	}

	e.mustEmit(ctx, sessionID, userID, event.Event{
		Type:  event.TypeThinking,
		Title: "Synthesizing the answer",
	})
	synthesis := e.aggregate(ctx, sessionID, userID, query, plan.OverallStrategy, results)

	resp := &Response{
		Answer:          synthesis.Answer,
		KeyFindings:     synthesis.KeyFindings,
		DataSummary:     synthesis.DataSummary,
		ExecutionPlan:   plan,
		WorkflowResults: results,
		AgentsUsed:      agentsUsed(plan),
		Success:         true,
	}

	if _, err := e.messages.Append(sessionID, userID, "assistant", synthesis.Answer,
		map[string]any{"agents_used": resp.AgentsUsed}); err != nil {
		log.Printf("orchestrator: persist assistant message: %v", err)
	}

	duration := time.Since(workflowStart)
	e.mustEmit(ctx, sessionID, userID, event.Event{
		Type:       event.TypeResult,
		Title:      "Workflow complete",
		Details:    map[string]any{"agents_used": resp.AgentsUsed},
		StepNumber: len(results) + 1,
		DurationMS: duration.Milliseconds(),
	})
	metrics.ObserveWorkflow("completed", duration)
	return resp, nil
}

// fail emits the terminal error event, records the failure, and returns
// the labeled failure payload with everything accumulated so far.
func (e *Engine) fail(ctx context.Context, sessionID, userID string, start time.Time, plan *Plan, results []WorkflowResult, cause error) *Response {
	duration := time.Since(start)

	step := len(results) + 1
	var vErr *ValidationError
	if errors.As(cause, &vErr) && vErr.StepNumber > 0 {
		step = vErr.StepNumber
	}

	e.mustEmit(ctx, sessionID, userID, event.Event{
		Type:       event.TypeError,
		Title:      "Workflow failed",
		Details:    map[string]any{"error": cause.Error()},
		StepNumber: step,
		DurationMS: duration.Milliseconds(),
	})
	if _, err := e.messages.Append(sessionID, userID, "assistant",
		fmt.Sprintf("I could not complete that request: %s", cause.Error()), nil); err != nil {
		log.Printf("orchestrator: persist failure message: %v", err)
	}
	metrics.ObserveWorkflow("failed", duration)

	resp := &Response{
		Answer:          fmt.Sprintf("The workflow could not be completed: %s", cause.Error()),
		KeyFindings:     []string{},
		DataSummary:     map[string]any{},
		ExecutionPlan:   plan,
		WorkflowResults: results,
		Error:           cause.Error(),
	}
	if plan != nil {
		resp.AgentsUsed = agentsUsed(plan)
	} else {
		resp.AgentsUsed = []string{}
	}
	if resp.WorkflowResults == nil {
		resp.WorkflowResults = []WorkflowResult{}
	}
	return resp
}

// discoverContext loads the user's records and derives the schema bundle
// the planner and executor share.
func (e *Engine) discoverContext(userID string, history []*store.Message) *planContext {
	pc := &planContext{history: history, dataSources: map[string]int{}}
	if e.records == nil {
		return pc
	}
	records, err := e.records.ByUser(userID)
	if err != nil {
		log.Printf("orchestrator: load records for discovery: %v", err)
		return pc
	}
	pc.schema = dataset.Discover(records)
	for _, r := range records {
		pc.dataSources[r.DataSource]++
	}
	return pc
}

func fieldNames(s *dataset.Schema) []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.AllFields))
	for name := range s.AllFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func agentsUsed(p *Plan) []string {
	seen := map[string]struct{}{}
	var agents []string
	for _, s := range p.Steps {
		if _, ok := seen[s.Agent]; ok {
			continue
		}
		seen[s.Agent] = struct{}{}
		agents = append(agents, s.Agent)
	}
	return agents
}

// emit routes one event through the emitter, filling session and user ids.
func (e *Engine) emit(ctx context.Context, sessionID, userID string, ev event.Event) (*event.Event, error) {
	ev.SessionID = sessionID
	ev.UserID = userID
	return e.emitter.Emit(ctx, ev)
}

// mustEmit is for events after the request is already admitted: a sink
// hiccup is logged, not propagated, so a transient storage error cannot
// kill a running workflow.
func (e *Engine) mustEmit(ctx context.Context, sessionID, userID string, ev event.Event) {
	if _, err := e.emit(ctx, sessionID, userID, ev); err != nil {
		log.Printf("orchestrator: emit event: %v", err)
	}
}

func (e *Engine) logLLM(sessionID, userID, purpose, prompt, response string, callErr error, latencyMS int64) {
	metrics.ObserveLLMCall(purpose, callErr == nil)
	if e.llmlog == nil {
		return
	}
	c := store.LLMCall{
		SessionID: sessionID,
		UserID:    userID,
		AgentName: event.OrchestratorAgent,
		Purpose:   purpose,
		Model:     e.model,
		Prompt:    prompt,
		Response:  response,
		LatencyMS: latencyMS,
	}
	if callErr != nil {
		c.Error = callErr.Error()
	}
	if err := e.llmlog.Append(c); err != nil {
		log.Printf("orchestrator: llm audit log: %v", err)
	}
}
