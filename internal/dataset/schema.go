package dataset

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Field types as inferred from sampled values.
const (
	TypeNumeric = "numeric"
	TypeDate    = "date"
	TypeBoolean = "boolean"
	TypeText    = "text"
)

// typeThreshold is the fraction of non-empty samples that must match a
// candidate type before the field is classified as that type.
const typeThreshold = 0.8

// sampleLimit caps how many values per field feed type inference.
const sampleLimit = 50

// Thresholds are percentile breakpoints over a numeric field, used to cut
// value tiers without hardcoded boundaries.
type Thresholds struct {
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// Field describes one discovered attribute.
type Field struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Samples      []string    `json:"samples,omitempty"`
	Completeness float64     `json:"completeness"`
	Thresholds   *Thresholds `json:"thresholds,omitempty"`
}

// Schema is the discovered shape of a user's records.
type Schema struct {
	RecordCount   int               `json:"record_count"`
	NumericFields []*Field          `json:"numeric_fields"`
	DateFields    []*Field          `json:"date_fields"`
	BooleanFields []*Field          `json:"boolean_fields"`
	TextFields    []*Field          `json:"text_fields"`
	AllFields     map[string]*Field `json:"all_fields"`
	HasSchema     bool              `json:"has_schema"`
}

// Discover infers a schema from the given records. Field names are the
// union of attribute keys; each field's type comes from sampling up to 50
// non-empty values and applying the 80% match threshold.
func Discover(records []*Record) *Schema {
	s := &Schema{
		AllFields: map[string]*Field{},
	}
	s.RecordCount = len(records)
	if len(records) == 0 {
		return s
	}

	names := map[string]struct{}{}
	for _, r := range records {
		for k := range r.Attributes {
			names[k] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(names))
	for k := range names {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		f := analyzeField(name, records)
		s.AllFields[name] = f
		switch f.Type {
		case TypeNumeric:
			s.NumericFields = append(s.NumericFields, f)
		case TypeDate:
			s.DateFields = append(s.DateFields, f)
		case TypeBoolean:
			s.BooleanFields = append(s.BooleanFields, f)
		default:
			s.TextFields = append(s.TextFields, f)
		}
	}
	s.HasSchema = len(s.AllFields) > 0
	return s
}

func analyzeField(name string, records []*Record) *Field {
	var values []string
	present := 0
	for _, r := range records {
		v, ok := r.Attributes[name]
		if !ok || v == nil {
			continue
		}
		str := strings.TrimSpace(stringify(v))
		if str == "" {
			continue
		}
		present++
		if len(values) < sampleLimit {
			values = append(values, str)
		}
	}

	f := &Field{
		Name:         name,
		Type:         inferType(values),
		Completeness: float64(present) / float64(len(records)),
	}
	if n := len(values); n > 5 {
		f.Samples = values[:5]
	} else {
		f.Samples = values
	}
	if f.Type == TypeNumeric {
		f.Thresholds = numericThresholds(values)
	}
	return f
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// inferType applies the 80% sample threshold. Boolean is checked before
// numeric so "0"/"1" columns of flags do not read as numbers.
func inferType(samples []string) string {
	if len(samples) == 0 {
		return TypeText
	}
	var numeric, date, boolean, total int
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		total++
		switch {
		case isBoolean(s):
			boolean++
		case isNumeric(s):
			numeric++
		case isDate(s):
			date++
		}
	}
	if total == 0 {
		return TypeText
	}
	switch {
	case float64(numeric)/float64(total) >= typeThreshold:
		return TypeNumeric
	case float64(date)/float64(total) >= typeThreshold:
		return TypeDate
	case float64(boolean)/float64(total) >= typeThreshold:
		return TypeBoolean
	}
	return TypeText
}

func isBoolean(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "yes", "no", "0", "1", "t", "f", "y", "n":
		return true
	}
	return false
}

func isNumeric(s string) bool {
	cleaned := strings.NewReplacer(",", "", "$", "", "%", "", " ", "").Replace(s)
	if cleaned == "" {
		return false
	}
	_, err := strconv.ParseFloat(cleaned, 64)
	return err == nil
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`^\d{2}/\d{2}/\d{4}`),
	regexp.MustCompile(`^\d{2}-\d{2}-\d{4}`),
	regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}`),
}

func isDate(s string) bool {
	if len(s) < 6 {
		return false
	}
	for _, p := range datePatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// numericThresholds parses the samples and returns percentile breakpoints.
// Returns nil when fewer than two values parse.
func numericThresholds(samples []string) *Thresholds {
	var vals []float64
	for _, s := range samples {
		cleaned := strings.NewReplacer(",", "", "$", "", "%", "", " ", "").Replace(s)
		if v, err := strconv.ParseFloat(cleaned, 64); err == nil {
			vals = append(vals, v)
		}
	}
	if len(vals) < 2 {
		return nil
	}
	sort.Float64s(vals)
	return &Thresholds{
		P25: percentile(vals, 0.25),
		P50: percentile(vals, 0.50),
		P75: percentile(vals, 0.75),
		P90: percentile(vals, 0.90),
	}
}

// percentile linearly interpolates between sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Describe renders the schema as planner prompt context. Only discovered
// fields appear; an empty dataset reads as such.
func (s *Schema) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Records: %d\n", s.RecordCount)
	if !s.HasSchema {
		b.WriteString("No fields discovered yet.")
		return b.String()
	}
	if len(s.NumericFields) > 0 {
		b.WriteString("Numeric fields (use for math and aggregation):\n")
		for _, f := range s.NumericFields {
			fmt.Fprintf(&b, "  - %s (completeness %.0f%%", f.Name, f.Completeness*100)
			if f.Thresholds != nil {
				fmt.Fprintf(&b, "; p25=%.2f p50=%.2f p75=%.2f p90=%.2f",
					f.Thresholds.P25, f.Thresholds.P50, f.Thresholds.P75, f.Thresholds.P90)
			}
			b.WriteString(")\n")
		}
	}
	if len(s.DateFields) > 0 {
		b.WriteString("Date fields (use for date filtering):\n")
		for _, f := range s.DateFields {
			fmt.Fprintf(&b, "  - %s\n", f.Name)
		}
	}
	if len(s.BooleanFields) > 0 {
		b.WriteString("Boolean fields:\n")
		for _, f := range s.BooleanFields {
			fmt.Fprintf(&b, "  - %s\n", f.Name)
		}
	}
	if len(s.TextFields) > 0 {
		names := make([]string, len(s.TextFields))
		for i, f := range s.TextFields {
			names[i] = f.Name
		}
		fmt.Fprintf(&b, "Text fields (no math): %s\n", strings.Join(names, ", "))
	}
	return b.String()
}

// NumericField returns the discovered numeric field matching name
// case-insensitively, or nil when absent or not numeric.
func (s *Schema) NumericField(name string) *Field {
	for k, f := range s.AllFields {
		if strings.EqualFold(k, name) {
			if f.Type != TypeNumeric {
				return nil
			}
			return f
		}
	}
	return nil
}
