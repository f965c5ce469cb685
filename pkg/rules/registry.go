package rules

import (
	"sort"
	"sync"

	"github.com/metrolab/wafersample/pkg/errcode"
)

// Factory builds a rule instance. Instances are stateless, so factories are
// usually trivial constructors.
type Factory func() Rule

// Registry maps rule type names to factories. Registration happens at
// process start; lookups are concurrent-safe and constant-time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	factory Factory
	info    Info
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a rule type. Re-registering a name overwrites it.
func (r *Registry) Register(info Info, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[info.Name] = registryEntry{factory: f, info: info}
}

// Get resolves a rule type by name.
func (r *Registry) Get(name string) (Rule, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errcode.New(errcode.UnknownPlugin, "unknown rule type %q", name).
			WithDetail("kind", "rule").
			WithDetail("name", name)
	}
	return e.factory(), nil
}

// List returns rule descriptions sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Builtin returns a registry preloaded with the built-in rule types.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(fixedPointInfo, func() Rule { return &FixedPoint{} })
	r.Register(centerEdgeInfo, func() Rule { return &CenterEdge{} })
	r.Register(uniformGridInfo, func() Rule { return &UniformGrid{} })
	r.Register(randomSamplingInfo, func() Rule { return &RandomSampling{} })
	return r
}
