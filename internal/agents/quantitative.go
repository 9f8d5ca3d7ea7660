package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
	"github.com/1enterprisesight/agent-profiler/internal/dataset"
)

// Quantitative answers counting and aggregation questions over the user's
// records. "How many records" means rows in the dataset, nothing fuzzier.
type Quantitative struct {
	records *dataset.RecordStore
}

func NewQuantitative(records *dataset.RecordStore) *Quantitative {
	return &Quantitative{records: records}
}

func (a *Quantitative) Capability() agent.Capability {
	return agent.Capability{
		Name:    "quantitative",
		Purpose: "Counts, aggregates, and groups records numerically",
		WhenToUse: []string{
			"The user asks how many records match something",
			"The user wants a sum, average, min, or max over a numeric field",
			"The user wants counts broken down by a field's values",
		},
		WhenNotToUse: []string{
			"The user wants a data profile (use data_discovery)",
			"The user wants tiered segments (use segmentation)",
		},
		ExampleTasks: []string{
			"How many records do I have?",
			"What is the average revenue?",
			"Count records by data source",
		},
		DataSourceAware: true,
	}
}

func (a *Quantitative) Execute(ctx context.Context, msg agent.Message, id agent.Identity) agent.Result {
	if err := ctx.Err(); err != nil {
		return agent.Failed(err.Error())
	}
	switch normalizeAction(msg.Action) {
	case "count", "count_records":
		return a.count(id)
	case "aggregate":
		return a.aggregate(msg, id)
	case "group_by", "group":
		return a.groupBy(msg, id)
	default:
		// Unrecognized quantitative work defaults to the literal count.
		return a.count(id)
	}
}

func normalizeAction(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}

func (a *Quantitative) count(id agent.Identity) agent.Result {
	n, err := a.records.Count(id.UserID)
	if err != nil {
		return agent.Failed(fmt.Sprintf("count records: %v", err))
	}
	return agent.CompletedWith(map[string]any{
		"type":  "count",
		"count": n,
	})
}

func (a *Quantitative) aggregate(msg agent.Message, id agent.Identity) agent.Result {
	field := paramString(msg.Parameters, "field")
	op := paramString(msg.Parameters, "operation")
	if op == "" {
		op = "avg"
	}
	if field == "" {
		return agent.Failed("aggregate requires a field parameter")
	}

	records, err := a.records.ByUser(id.UserID)
	if err != nil {
		return agent.Failed(fmt.Sprintf("load records: %v", err))
	}
	schema := dataset.Discover(records)
	if schema.NumericField(field) == nil {
		return agent.Failed(fmt.Sprintf("field %q is not numeric", field))
	}

	values := numericValues(records, field)
	if len(values) == 0 {
		return agent.Failed(fmt.Sprintf("field %q has no values", field))
	}

	var result float64
	switch strings.ToLower(op) {
	case "sum":
		for _, v := range values {
			result += v
		}
	case "avg", "average", "mean":
		for _, v := range values {
			result += v
		}
		result /= float64(len(values))
	case "min":
		result = values[0]
		for _, v := range values {
			if v < result {
				result = v
			}
		}
	case "max":
		result = values[0]
		for _, v := range values {
			if v > result {
				result = v
			}
		}
	default:
		return agent.Failed(fmt.Sprintf("unknown operation %q", op))
	}

	return agent.CompletedWith(map[string]any{
		"type":      "aggregate",
		"field":     field,
		"operation": strings.ToLower(op),
		"value":     result,
		"samples":   len(values),
	})
}

func (a *Quantitative) groupBy(msg agent.Message, id agent.Identity) agent.Result {
	field := paramString(msg.Parameters, "field")
	if field == "" {
		field = paramString(msg.Parameters, "group_by")
	}
	if field == "" {
		return agent.Failed("group_by requires a field parameter")
	}

	records, err := a.records.ByUser(id.UserID)
	if err != nil {
		return agent.Failed(fmt.Sprintf("load records: %v", err))
	}
	groups := map[string]int{}
	for _, r := range records {
		v, ok := attributeString(r, field)
		if !ok {
			v = "(missing)"
		}
		groups[v]++
	}
	return agent.CompletedWith(map[string]any{
		"type":   "group_by",
		"field":  field,
		"groups": groups,
	})
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func attributeString(r *dataset.Record, field string) (string, bool) {
	for k, v := range r.Attributes {
		if strings.EqualFold(k, field) && v != nil {
			return fmt.Sprintf("%v", v), true
		}
	}
	return "", false
}

func numericValues(records []*dataset.Record, field string) []float64 {
	clean := strings.NewReplacer(",", "", "$", "", "%", "", " ", "")
	var values []float64
	for _, r := range records {
		s, ok := attributeString(r, field)
		if !ok {
			continue
		}
		if v, err := strconv.ParseFloat(clean.Replace(s), 64); err == nil {
			values = append(values, v)
		}
	}
	return values
}
