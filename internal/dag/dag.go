package dag

import (
	"fmt"
	"strings"
)

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		verts: make(map[string]*vertex),
	}
}

// AddNode adds a vertex. Adding an existing vertex is a no-op.
func (g *Graph) AddNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.verts[id]; ok {
		return
	}

	g.verts[id] = &vertex{
		id:         id,
		deps:       make(map[string]*vertex),
		dependents: make(map[string]*vertex),
	}
	g.order = append(g.order, id)
}

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.verts[id]
	return ok
}

// Nodes returns every node ID in insertion order.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// AddEdge records that to depends on from. Both vertices must exist and
// differ. Repeating an edge is a no-op.
func (g *Graph) AddEdge(from, to string) error {
	if from == to {
		return fmt.Errorf("self-referential edge on %s", from)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.verts[from]
	if !ok {
		return fmt.Errorf("edge %s -> %s: unknown source vertex", from, to)
	}
	dst, ok := g.verts[to]
	if !ok {
		return fmt.Errorf("edge %s -> %s: unknown destination vertex", from, to)
	}
	if _, dup := dst.deps[from]; dup {
		return nil
	}
	dst.deps[from] = src
	dst.depOrder = append(dst.depOrder, from)
	src.dependents[to] = dst
	src.dependentOrder = append(src.dependentOrder, to)

	return nil
}

// Dependencies returns the IDs of the nodes the given node depends on, in
// edge insertion order.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.verts[id]
	if !ok {
		return nil, fmt.Errorf("unknown vertex %s", id)
	}
	return append([]string(nil), n.depOrder...), nil
}

// Dependents returns the IDs of the nodes that depend on the given node, in
// edge insertion order.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.verts[id]
	if !ok {
		return nil, fmt.Errorf("unknown vertex %s", id)
	}
	return append([]string(nil), n.dependentOrder...), nil
}

// CycleError describes a dependency cycle. Path starts and ends with the same
// node and lists each node followed by one of its dependencies.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

// DetectCycles returns a *CycleError for the first cycle reached when walking
// vertices in insertion order, or nil.
func (g *Graph) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// done vertices are cycle-free; onStack vertices are on the current path.
	done := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(n *vertex) error
	visit = func(n *vertex) error {
		if done[n.id] {
			return nil
		}
		if onStack[n.id] {
			start := 0
			for i, id := range stack {
				if id == n.id {
					start = i
					break
				}
			}
			path := append(append([]string(nil), stack[start:]...), n.id)
			return &CycleError{Path: path}
		}

		onStack[n.id] = true
		stack = append(stack, n.id)

		for _, depID := range n.depOrder {
			if err := visit(n.deps[depID]); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, n.id)
		done[n.id] = true
		return nil
	}

	for _, id := range g.order {
		if err := visit(g.verts[id]); err != nil {
			return err
		}
	}
	return nil
}

// TopologicalOrder returns every node ID such that each node appears after
// all of its dependencies. Ties are broken by insertion order.
func (g *Graph) TopologicalOrder() ([]string, error) {
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool, len(g.verts))
	out := make([]string, 0, len(g.verts))
	var visit func(n *vertex)
	visit = func(n *vertex) {
		if visited[n.id] {
			return
		}
		visited[n.id] = true
		for _, depID := range n.depOrder {
			visit(n.deps[depID])
		}
		out = append(out, n.id)
	}
	for _, id := range g.order {
		visit(g.verts[id])
	}
	return out, nil
}
