package agent

import (
	"log"
	"sort"
	"strings"
	"sync"
)

// aliases maps historical and shorthand agent names to canonical ones.
// Resolution falls through to this table only after an exact
// case-insensitive match fails.
var aliases = map[string]string{
	"data_profiler": "data_discovery",
	"profiler":      "data_discovery",
	"segment":       "segmentation",
	"segmenter":     "segmentation",
	"sql_analytics": "quantitative",
	"sql":           "quantitative",
	"analytics":     "quantitative",
	"recommend":     "recommendation",
	"recommender":   "recommendation",
	"patterns":      "pattern_recognition",
	"pattern":       "pattern_recognition",
	"trends":        "pattern_recognition",
	"anomaly":       "pattern_recognition",
	"benchmarking":  "benchmark",
	"quality":       "benchmark",
	"data_quality":  "benchmark",
}

// Registry holds the live agents by canonical lowercase name.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under its capability name, lowercased. Registering
// the same name again replaces the previous handle.
func (r *Registry) Register(a Agent) {
	name := strings.ToLower(a.Capability().Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		log.Printf("registry: replacing agent %q", name)
	}
	r.agents[name] = a
}

// Resolve finds the agent for a plan name: exact case-insensitive match
// first, then the alias table. The second return is the canonical name the
// caller should use in events and results.
func (r *Registry) Resolve(name string) (Agent, string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.agents[key]; ok {
		return a, key, true
	}
	if canonical, ok := aliases[key]; ok {
		if a, ok := r.agents[canonical]; ok {
			log.Printf("registry: resolved alias %q -> %q", key, canonical)
			return a, canonical, true
		}
	}
	return nil, "", false
}

// Canonical returns the canonical form of a plan name without requiring a
// registered handle. Unknown names come back unchanged, lowercased.
func Canonical(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	return key
}

// Names returns the registered canonical names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns all capability descriptors sorted by name, so prompt
// construction is deterministic.
func (r *Registry) Schema() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make([]Capability, 0, len(r.agents))
	for _, a := range r.agents {
		caps = append(caps, a.Capability())
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Name < caps[j].Name })
	return caps
}
