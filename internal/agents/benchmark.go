package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
	"github.com/1enterprisesight/agent-profiler/internal/dataset"
)

// completenessTarget is the per-field completeness below which a field is
// flagged for followup.
const completenessTarget = 0.8

// Benchmark scores data quality: per-field completeness against the
// discovered schema and an overall grade. Scoring is deterministic so the
// same dataset always benchmarks the same.
type Benchmark struct {
	records *dataset.RecordStore
}

func NewBenchmark(records *dataset.RecordStore) *Benchmark {
	return &Benchmark{records: records}
}

func (a *Benchmark) Capability() agent.Capability {
	return agent.Capability{
		Name:    "benchmark",
		Purpose: "Scores data quality and completeness against the discovered schema",
		WhenToUse: []string{
			"The user asks how complete or reliable their data is",
			"The user wants a data quality score or grade",
		},
		WhenNotToUse: []string{
			"The user wants the dataset's shape (use data_discovery)",
			"The user wants analysis of the values themselves (use quantitative or pattern_recognition)",
		},
		ExampleTasks: []string{
			"How complete is my client data?",
			"Score the quality of my records",
		},
		DataSourceAware: true,
	}
}

func (a *Benchmark) Execute(ctx context.Context, msg agent.Message, id agent.Identity) agent.Result {
	if err := ctx.Err(); err != nil {
		return agent.Failed(err.Error())
	}
	records, err := a.records.ByUser(id.UserID)
	if err != nil {
		return agent.Failed(fmt.Sprintf("load records: %v", err))
	}
	schema := dataset.Discover(records)

	switch normalizeAction(msg.Action) {
	case "quality_score", "calculate_quality_score":
		return a.qualityScore(msg, schema)
	default:
		// check_completeness and anything else quality-shaped.
		return a.checkCompleteness(msg, schema)
	}
}

// checkCompleteness scores each required field's fill rate. Without an
// explicit required_fields parameter every discovered field is required.
func (a *Benchmark) checkCompleteness(msg agent.Message, schema *dataset.Schema) agent.Result {
	required := paramStrings(msg.Parameters, "required_fields")
	if len(required) == 0 {
		for name := range schema.AllFields {
			required = append(required, name)
		}
		sort.Strings(required)
	}
	if len(required) == 0 {
		return agent.CompletedWith(map[string]any{
			"type":               "benchmark",
			"completeness_score": 0.0,
			"total_records":      schema.RecordCount,
			"field_scores":       map[string]float64{},
			"missing_counts":     map[string]int{},
			"recommendations":    []string{"No records to evaluate yet; ingest data first"},
		})
	}

	fieldScores := map[string]float64{}
	missing := map[string]int{}
	var recommendations []string
	var sum float64
	for _, name := range required {
		completeness := 0.0
		if f := fieldByName(schema, name); f != nil {
			completeness = f.Completeness
		}
		fieldScores[name] = completeness * 100
		missing[name] = schema.RecordCount - int(completeness*float64(schema.RecordCount)+0.5)
		sum += completeness
		if completeness < completenessTarget {
			recommendations = append(recommendations,
				fmt.Sprintf("Field %q is only %.0f%% complete; fill the %d missing values", name, completeness*100, missing[name]))
		}
	}
	if recommendations == nil {
		recommendations = []string{}
	}

	return agent.CompletedWith(map[string]any{
		"type":               "benchmark",
		"completeness_score": sum / float64(len(required)) * 100,
		"total_records":      schema.RecordCount,
		"field_scores":       fieldScores,
		"missing_counts":     missing,
		"recommendations":    recommendations,
	})
}

// qualityScore condenses completeness into a single graded score.
func (a *Benchmark) qualityScore(msg agent.Message, schema *dataset.Schema) agent.Result {
	res := a.checkCompleteness(msg, schema)
	if !res.Completed() {
		return res
	}
	score, _ := res.Result["completeness_score"].(float64)
	res.Result["grade"] = grade(score)
	return res
}

func grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 50:
		return "C"
	}
	return "D"
}

func fieldByName(schema *dataset.Schema, name string) *dataset.Field {
	for k, f := range schema.AllFields {
		if strings.EqualFold(k, name) {
			return f
		}
	}
	return nil
}

func paramStrings(params map[string]any, key string) []string {
	var out []string
	switch v := params[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
