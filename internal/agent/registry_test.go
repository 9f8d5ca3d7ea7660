package agent

import (
	"context"
	"testing"
)

type stubAgent struct {
	name string
}

func (s stubAgent) Capability() Capability { return Capability{Name: s.name} }

func (s stubAgent) Execute(_ context.Context, _ Message, _ Identity) Result {
	return CompletedWith(map[string]any{"agent": s.name})
}

func TestResolveExactCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAgent{name: "Quantitative"})

	for _, name := range []string{"quantitative", "QUANTITATIVE", " Quantitative "} {
		a, canonical, ok := r.Resolve(name)
		if !ok {
			t.Fatalf("Resolve(%q) failed", name)
		}
		if canonical != "quantitative" {
			t.Errorf("Resolve(%q) canonical = %q", name, canonical)
		}
		if a == nil {
			t.Fatalf("Resolve(%q) returned nil agent", name)
		}
	}
}

func TestResolveAlias(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAgent{name: "quantitative"})
	r.Register(stubAgent{name: "data_discovery"})
	r.Register(stubAgent{name: "pattern_recognition"})
	r.Register(stubAgent{name: "benchmark"})

	cases := map[string]string{
		"sql_analytics": "quantitative",
		"sql":           "quantitative",
		"analytics":     "quantitative",
		"data_profiler": "data_discovery",
		"profiler":      "data_discovery",
		"patterns":      "pattern_recognition",
		"trends":        "pattern_recognition",
		"quality":       "benchmark",
		"benchmarking":  "benchmark",
	}
	for alias, want := range cases {
		direct, _, ok := r.Resolve(want)
		if !ok {
			t.Fatalf("Resolve(%q) failed", want)
		}
		viaAlias, canonical, ok := r.Resolve(alias)
		if !ok {
			t.Fatalf("Resolve(%q) failed", alias)
		}
		if canonical != want {
			t.Errorf("Resolve(%q) canonical = %q, want %q", alias, canonical, want)
		}
		// Alias and exact name resolve to the same handle.
		if direct != viaAlias {
			t.Errorf("Resolve(%q) returned a different handle than Resolve(%q)", alias, want)
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	r := NewRegistry()
	if _, _, ok := r.Resolve("mystery"); ok {
		t.Error("unknown name resolved")
	}
	// Alias whose target is not registered must not resolve.
	if _, _, ok := r.Resolve("sql"); ok {
		t.Error("alias resolved without a registered target")
	}
}

func TestRegisterLastWriterWins(t *testing.T) {
	r := NewRegistry()
	first := stubAgent{name: "segmentation"}
	second := stubAgent{name: "Segmentation"}
	r.Register(first)
	r.Register(second)

	a, _, ok := r.Resolve("segmentation")
	if !ok {
		t.Fatal("Resolve failed")
	}
	if a != Agent(second) {
		t.Error("re-registration did not replace the handle")
	}
	if got := len(r.Names()); got != 1 {
		t.Errorf("names = %d, want 1", got)
	}
}

func TestSchemaSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"segmentation", "data_discovery", "recommendation", "quantitative"} {
		r.Register(stubAgent{name: name})
	}
	caps := r.Schema()
	want := []string{"data_discovery", "quantitative", "recommendation", "segmentation"}
	if len(caps) != len(want) {
		t.Fatalf("schema = %d entries, want %d", len(caps), len(want))
	}
	for i, c := range caps {
		if c.Name != want[i] {
			t.Errorf("schema[%d] = %q, want %q", i, c.Name, want[i])
		}
	}
}

func TestCanonical(t *testing.T) {
	if got := Canonical(" SQL "); got != "quantitative" {
		t.Errorf("Canonical(SQL) = %q", got)
	}
	if got := Canonical("unknown_agent"); got != "unknown_agent" {
		t.Errorf("Canonical(unknown_agent) = %q", got)
	}
}
