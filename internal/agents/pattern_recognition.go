package agents

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/1enterprisesight/agent-profiler/internal/agent"
	"github.com/1enterprisesight/agent-profiler/internal/dataset"
)

// PatternRecognition surfaces trends, outliers, and distribution shape in
// the user's records. Detection is statistical over the discovered schema,
// never over hardcoded field names.
type PatternRecognition struct {
	records *dataset.RecordStore
}

func NewPatternRecognition(records *dataset.RecordStore) *PatternRecognition {
	return &PatternRecognition{records: records}
}

func (a *PatternRecognition) Capability() agent.Capability {
	return agent.Capability{
		Name:    "pattern_recognition",
		Purpose: "Detects trends, outliers, and distribution patterns in numeric data",
		WhenToUse: []string{
			"The user asks about trends, growth, or change over time",
			"The user asks for anomalies, outliers, or unusual values",
			"The user wants to know how values are spread or concentrated",
		},
		WhenNotToUse: []string{
			"The user wants a single count or aggregate (use quantitative)",
			"The user wants tiered segments (use segmentation)",
		},
		ExampleTasks: []string{
			"Are there any outliers in my revenue data?",
			"How is revenue trending month over month?",
			"Who are my top performers?",
		},
		DataSourceAware: true,
	}
}

func (a *PatternRecognition) Execute(ctx context.Context, msg agent.Message, id agent.Identity) agent.Result {
	if err := ctx.Err(); err != nil {
		return agent.Failed(err.Error())
	}
	records, field, errRes := a.resolveField(msg, id)
	if errRes != nil {
		return *errRes
	}

	switch normalizeAction(msg.Action) {
	case "outliers", "anomalies":
		return patternsResult(field.Name, outlierPatterns(records, field.Name))
	case "distribution":
		return patternsResult(field.Name, distributionPatterns(records, field))
	case "top", "top_performers":
		return patternsResult(field.Name, rankPatterns(records, field.Name, paramLimit(msg.Parameters), true))
	case "bottom", "bottom_performers":
		return patternsResult(field.Name, rankPatterns(records, field.Name, paramLimit(msg.Parameters), false))
	case "trend", "trends":
		patterns, err := trendPatterns(records, msg, field.Name)
		if err != nil {
			return agent.Failed(err.Error())
		}
		return patternsResult(field.Name, patterns)
	default:
		// Broad requests get the full sweep: distribution, outliers, and a
		// trend when a date field exists.
		patterns := distributionPatterns(records, field)
		patterns = append(patterns, outlierPatterns(records, field.Name)...)
		if trend, err := trendPatterns(records, msg, field.Name); err == nil {
			patterns = append(patterns, trend...)
		}
		return patternsResult(field.Name, patterns)
	}
}

// resolveField loads the identity's records and picks the analysis field:
// the field parameter when given, else the first discovered numeric field.
func (a *PatternRecognition) resolveField(msg agent.Message, id agent.Identity) ([]*dataset.Record, *dataset.Field, *agent.Result) {
	records, err := a.records.ByUser(id.UserID)
	if err != nil {
		res := agent.Failed(fmt.Sprintf("load records: %v", err))
		return nil, nil, &res
	}
	schema := dataset.Discover(records)

	field := paramString(msg.Parameters, "field")
	if field == "" {
		if len(schema.NumericFields) == 0 {
			res := agent.Failed("no numeric field available for pattern analysis")
			return nil, nil, &res
		}
		return records, schema.NumericFields[0], nil
	}
	f := schema.NumericField(field)
	if f == nil {
		res := agent.Failed(fmt.Sprintf("field %q is not numeric", field))
		return nil, nil, &res
	}
	return records, f, nil
}

func patternsResult(field string, patterns []map[string]any) agent.Result {
	if patterns == nil {
		patterns = []map[string]any{}
	}
	return agent.CompletedWith(map[string]any{
		"type":     "patterns",
		"field":    field,
		"patterns": patterns,
	})
}

type namedValue struct {
	name  string
	value float64
}

func namedValues(records []*dataset.Record, field string) []namedValue {
	var values []namedValue
	for _, r := range records {
		vs := numericValues([]*dataset.Record{r}, field)
		if len(vs) == 0 {
			continue
		}
		name := r.Name
		if name == "" {
			name = r.ID
		}
		values = append(values, namedValue{name: name, value: vs[0]})
	}
	return values
}

// outlierPatterns flags values beyond two standard deviations from the mean.
func outlierPatterns(records []*dataset.Record, field string) []map[string]any {
	values := namedValues(records, field)
	if len(values) < 3 {
		return nil
	}
	mean, sd := meanStddev(values)
	if sd == 0 {
		return nil
	}
	low, high := mean-2*sd, mean+2*sd

	var patterns []map[string]any
	for _, v := range values {
		if v.value < low || v.value > high {
			patterns = append(patterns, map[string]any{
				"type":        "outlier",
				"description": fmt.Sprintf("%s has %s = %.2f, outside the normal range %.2f to %.2f", v.name, field, v.value, low, high),
				"record":      v.name,
				"value":       v.value,
			})
		}
	}
	return patterns
}

func distributionPatterns(records []*dataset.Record, f *dataset.Field) []map[string]any {
	values := namedValues(records, f.Name)
	if len(values) == 0 {
		return nil
	}
	mean, sd := meanStddev(values)
	min, max := values[0].value, values[0].value
	for _, v := range values {
		if v.value < min {
			min = v.value
		}
		if v.value > max {
			max = v.value
		}
	}
	p := map[string]any{
		"type":        "distribution",
		"description": fmt.Sprintf("%s ranges %.2f to %.2f, mean %.2f, stddev %.2f over %d values", f.Name, min, max, mean, sd, len(values)),
		"min":         min,
		"max":         max,
		"mean":        mean,
		"stddev":      sd,
		"samples":     len(values),
	}
	if f.Thresholds != nil {
		p["percentiles"] = map[string]any{
			"p25": f.Thresholds.P25,
			"p50": f.Thresholds.P50,
			"p75": f.Thresholds.P75,
			"p90": f.Thresholds.P90,
		}
	}
	return []map[string]any{p}
}

// rankPatterns reports the top or bottom performers and their share of the
// field's total.
func rankPatterns(records []*dataset.Record, field string, limit int, top bool) []map[string]any {
	values := namedValues(records, field)
	if len(values) == 0 {
		return nil
	}
	sort.Slice(values, func(i, j int) bool {
		if top {
			return values[i].value > values[j].value
		}
		return values[i].value < values[j].value
	})
	var total float64
	for _, v := range values {
		total += v.value
	}
	if limit > len(values) {
		limit = len(values)
	}

	kind := "top"
	if !top {
		kind = "bottom"
	}
	var patterns []map[string]any
	for i := 0; i < limit; i++ {
		v := values[i]
		p := map[string]any{
			"type":        kind,
			"description": fmt.Sprintf("%s ranks #%d by %s with %.2f", v.name, i+1, field, v.value),
			"record":      v.name,
			"value":       v.value,
			"rank":        i + 1,
		}
		if total != 0 {
			p["share"] = v.value / total * 100
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// trendPatterns buckets the field by month over a date field and reports
// the direction of change from first to last period.
func trendPatterns(records []*dataset.Record, msg agent.Message, field string) ([]map[string]any, error) {
	schema := dataset.Discover(records)
	dateField := paramString(msg.Parameters, "date_field")
	if dateField == "" {
		if len(schema.DateFields) == 0 {
			return nil, fmt.Errorf("no date field available for trend analysis")
		}
		dateField = schema.DateFields[0].Name
	}

	buckets := map[string]float64{}
	for _, r := range records {
		ds, ok := attributeString(r, dateField)
		if !ok {
			continue
		}
		t, ok := parseDate(ds)
		if !ok {
			continue
		}
		vs := numericValues([]*dataset.Record{r}, field)
		if len(vs) == 0 {
			continue
		}
		buckets[t.Format("2006-01")] += vs[0]
	}
	if len(buckets) < 2 {
		return nil, fmt.Errorf("not enough dated values to detect a trend")
	}

	periods := make([]string, 0, len(buckets))
	for p := range buckets {
		periods = append(periods, p)
	}
	sort.Strings(periods)

	first, last := buckets[periods[0]], buckets[periods[len(periods)-1]]
	direction := "stable"
	switch {
	case first == 0 && last != 0:
		direction = "increasing"
	case first != 0 && (last-first)/math.Abs(first) > 0.05:
		direction = "increasing"
	case first != 0 && (last-first)/math.Abs(first) < -0.05:
		direction = "decreasing"
	}

	series := make([]map[string]any, 0, len(periods))
	for _, p := range periods {
		series = append(series, map[string]any{"period": p, "value": buckets[p]})
	}
	return []map[string]any{{
		"type":        "trend",
		"description": fmt.Sprintf("%s is %s across %d periods (%.2f in %s, %.2f in %s)", field, direction, len(periods), first, periods[0], last, periods[len(periods)-1]),
		"direction":   direction,
		"date_field":  dateField,
		"series":      series,
	}}, nil
}

var dateLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
	"1/2/2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func meanStddev(values []namedValue) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v.value
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v.value - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func paramLimit(params map[string]any) int {
	if v, ok := params["limit"].(float64); ok && v > 0 {
		return int(v)
	}
	if v, ok := params["limit"].(int); ok && v > 0 {
		return v
	}
	return 5
}
