package dag

import "sync"

// Graph holds string vertices and directed "depends on" edges between them.
// It is safe for concurrent use, and every iteration follows insertion order.
type Graph struct {
	mu    sync.RWMutex
	verts map[string]*vertex
	order []string
}

// vertex keeps both edge directions, each as a lookup set plus an ordered list.
type vertex struct {
	id string

	deps     map[string]*vertex
	depOrder []string

	dependents     map[string]*vertex
	dependentOrder []string
}
