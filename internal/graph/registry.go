package graph

import (
	"sort"

	"github.com/vk/buildgrid/internal/module"
)

// Definition describes how to create one module: its identity, kind, the
// package macros it inherits and the strategies its Init runs.
type Definition struct {
	ID         module.ID
	Kind       module.Kind
	Macros     map[string]string
	Strategies []module.Strategy
}

// Registry holds every known definition. Modules are only created for
// definitions reachable from the requested roots.
type Registry struct {
	defs  map[module.ID]*Definition
	order []module.ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[module.ID]*Definition)}
}

// Add registers a definition. Identities must be unique.
func (r *Registry) Add(def Definition) error {
	if _, ok := r.defs[def.ID]; ok {
		return &DuplicateModuleError{ID: def.ID}
	}
	d := def
	r.defs[def.ID] = &d
	r.order = append(r.order, def.ID)
	return nil
}

// Lookup returns the definition registered for id.
func (r *Registry) Lookup(id module.ID) (*Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// IDs returns every registered identity in registration order.
func (r *Registry) IDs() []module.ID {
	return append([]module.ID(nil), r.order...)
}

// Len returns the number of definitions.
func (r *Registry) Len() int { return len(r.order) }

// Match returns every registered identity matching pattern, sorted.
func (r *Registry) Match(pattern string) []module.ID {
	var out []module.ID
	for _, id := range r.order {
		if id.Match(pattern) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
