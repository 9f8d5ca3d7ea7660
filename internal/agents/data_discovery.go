// Package agents holds the built-in specialists the engine dispatches to.
// Each one is deliberately small: the engine treats them as opaque and only
// speaks the agent contract.
package agents

import (
	"context"
	"fmt"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
	"github.com/1enterprisesight/agent-profiler/internal/dataset"
)

// DataDiscovery profiles a user's dataset: what fields exist, their inferred
// types, completeness, and value thresholds.
type DataDiscovery struct {
	records *dataset.RecordStore
}

func NewDataDiscovery(records *dataset.RecordStore) *DataDiscovery {
	return &DataDiscovery{records: records}
}

func (a *DataDiscovery) Capability() agent.Capability {
	return agent.Capability{
		Name:    "data_discovery",
		Purpose: "Profiles the user's dataset: fields, types, completeness, and value ranges",
		WhenToUse: []string{
			"The user asks what data they have or what fields exist",
			"Another step needs the dataset's shape before deeper analysis",
		},
		WhenNotToUse: []string{
			"The user asks for counts, math, or aggregation (use quantitative)",
			"The user asks for groupings or tiers (use segmentation)",
		},
		ExampleTasks: []string{
			"What fields do my records have?",
			"Profile my data quality",
		},
		DataSourceAware: true,
	}
}

func (a *DataDiscovery) Execute(ctx context.Context, msg agent.Message, id agent.Identity) agent.Result {
	if err := ctx.Err(); err != nil {
		return agent.Failed(err.Error())
	}
	records, err := a.records.ByUser(id.UserID)
	if err != nil {
		return agent.Failed(fmt.Sprintf("load records: %v", err))
	}
	schema := dataset.Discover(records)

	fields := make([]map[string]any, 0, len(schema.AllFields))
	for _, name := range sortedFieldNames(schema) {
		f := schema.AllFields[name]
		entry := map[string]any{
			"name":         f.Name,
			"type":         f.Type,
			"completeness": f.Completeness,
		}
		if f.Thresholds != nil {
			entry["thresholds"] = map[string]any{
				"p25": f.Thresholds.P25,
				"p50": f.Thresholds.P50,
				"p75": f.Thresholds.P75,
				"p90": f.Thresholds.P90,
			}
		}
		fields = append(fields, entry)
	}

	sources := map[string]int{}
	for _, r := range records {
		sources[r.DataSource]++
	}

	return agent.CompletedWith(map[string]any{
		"type":         "profile",
		"record_count": schema.RecordCount,
		"field_count":  len(schema.AllFields),
		"fields":       fields,
		"data_sources": sources,
	})
}

func sortedFieldNames(s *dataset.Schema) []string {
	names := make([]string, 0, len(s.AllFields))
	for _, f := range s.NumericFields {
		names = append(names, f.Name)
	}
	for _, f := range s.DateFields {
		names = append(names, f.Name)
	}
	for _, f := range s.BooleanFields {
		names = append(names, f.Name)
	}
	for _, f := range s.TextFields {
		names = append(names, f.Name)
	}
	return names
}
