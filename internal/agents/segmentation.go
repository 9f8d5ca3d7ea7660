package agents

import (
	"context"
	"fmt"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
	"github.com/1enterprisesight/agent-profiler/internal/dataset"
)

// Segmentation cuts records into value tiers over a numeric field using the
// percentile thresholds discovered from the data, never fixed boundaries.
type Segmentation struct {
	records *dataset.RecordStore
}

func NewSegmentation(records *dataset.RecordStore) *Segmentation {
	return &Segmentation{records: records}
}

func (a *Segmentation) Capability() agent.Capability {
	return agent.Capability{
		Name:    "segmentation",
		Purpose: "Groups records into high/medium/low tiers over a numeric field",
		WhenToUse: []string{
			"The user wants records grouped into tiers or buckets by value",
			"The user asks who their top or bottom records are",
		},
		WhenNotToUse: []string{
			"The user wants a single number (use quantitative)",
			"The user wants the dataset's shape (use data_discovery)",
		},
		ExampleTasks: []string{
			"Segment my clients by revenue",
			"Who are my high-value records?",
		},
		DataSourceAware: true,
	}
}

func (a *Segmentation) Execute(ctx context.Context, msg agent.Message, id agent.Identity) agent.Result {
	if err := ctx.Err(); err != nil {
		return agent.Failed(err.Error())
	}
	field := paramString(msg.Parameters, "field")

	records, err := a.records.ByUser(id.UserID)
	if err != nil {
		return agent.Failed(fmt.Sprintf("load records: %v", err))
	}
	schema := dataset.Discover(records)

	// Without an explicit field, fall back to the first discovered numeric.
	if field == "" {
		if len(schema.NumericFields) == 0 {
			return agent.Failed("no numeric field available for segmentation")
		}
		field = schema.NumericFields[0].Name
	}
	f := schema.NumericField(field)
	if f == nil {
		return agent.Failed(fmt.Sprintf("field %q is not numeric", field))
	}
	if f.Thresholds == nil {
		return agent.Failed(fmt.Sprintf("field %q has too few values to segment", field))
	}

	// Tiers: high >= p75, medium >= p25, low below.
	tiers := map[string][]string{"high": {}, "medium": {}, "low": {}}
	total := 0
	for _, r := range records {
		values := numericValues([]*dataset.Record{r}, field)
		if len(values) == 0 {
			continue
		}
		total++
		name := r.Name
		if name == "" {
			name = r.ID
		}
		switch v := values[0]; {
		case v >= f.Thresholds.P75:
			tiers["high"] = append(tiers["high"], name)
		case v >= f.Thresholds.P25:
			tiers["medium"] = append(tiers["medium"], name)
		default:
			tiers["low"] = append(tiers["low"], name)
		}
	}

	segments := make([]map[string]any, 0, 3)
	for _, tier := range []string{"high", "medium", "low"} {
		members := tiers[tier]
		pct := 0.0
		if total > 0 {
			pct = float64(len(members)) / float64(total) * 100
		}
		segments = append(segments, map[string]any{
			"tier":    tier,
			"size":    len(members),
			"percent": pct,
			"members": members,
		})
	}

	return agent.CompletedWith(map[string]any{
		"type":     "segments",
		"field":    field,
		"total":    total,
		"segments": segments,
		"thresholds": map[string]any{
			"p25": f.Thresholds.P25,
			"p75": f.Thresholds.P75,
		},
	})
}
