// Package emitter converts simulation results into vendor-specific tool
// file formats. Each vendor plugin owns its coordinate translation from the
// engine's canonical center-origin, y-up representation.
package emitter

import (
	"sort"
	"sync"

	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/validation"
)

// Meta carries the strategy context an export embeds alongside the sites.
type Meta struct {
	StrategyID   string
	StrategyName string
	Version      string
	WaferSize    string
	ProductType  string
	ProcessLayer string
	VendorParams map[string]any
}

// Output is one emitted vendor file.
type Output struct {
	Bytes       []byte
	ContentType string
	Filename    string
}

// Emitter is the vendor plugin contract.
type Emitter interface {
	// Name returns the registry name of the vendor.
	Name() string

	// Emit serializes the result. validation may be nil when the strategy
	// was never validated against a schematic.
	Emit(result *engine.SimulationResult, meta Meta, validation *validation.Result) (Output, error)
}

// Registry maps vendor names to emitters. Registration happens at process
// start; lookups are concurrent-safe.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Emitter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Emitter)}
}

// Register adds a vendor. Re-registering a name overwrites it.
func (r *Registry) Register(e Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Name()] = e
}

// Get resolves a vendor by name.
func (r *Registry) Get(name string) (Emitter, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errcode.New(errcode.UnknownPlugin, "unknown vendor %q", name).
			WithDetail("kind", "vendor").
			WithDetail("name", name)
	}
	return e, nil
}

// Has reports whether the vendor is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns the registered vendor names sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Builtin returns a registry preloaded with the built-in vendors.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(&ASML{})
	r.Register(&KLA{})
	return r
}
