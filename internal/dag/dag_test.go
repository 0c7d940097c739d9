package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// build creates a graph with the given vertices and "from -> to" edges.
func build(t *testing.T, verts []string, edges ...[2]string) *Graph {
	t.Helper()
	g := New()
	for _, v := range verts {
		g.AddNode(v)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func TestAddNodeIsIdempotent(t *testing.T) {
	// --- Arrange ---
	g := New()

	// --- Act ---
	g.AddNode("dynamic_library.tbb")
	g.AddNode("dynamic_library.tbb")
	g.AddNode("procedural_header.tbb_version")

	// --- Assert ---
	assert.Len(t, g.verts, 2)
	assert.True(t, g.HasNode("dynamic_library.tbb"))
	assert.False(t, g.HasNode("collation.TBBTests"))
	assert.Equal(t, []string{"dynamic_library.tbb", "procedural_header.tbb_version"}, g.Nodes())
}

func TestAddEdge(t *testing.T) {
	// --- Arrange ---
	g := build(t, []string{"hdr", "src"})

	// --- Act ---
	err := g.AddEdge("hdr", "src")

	// --- Assert ---
	require.NoError(t, err)
	assert.Same(t, g.verts["src"], g.verts["hdr"].dependents["src"])
	assert.Same(t, g.verts["hdr"], g.verts["src"].deps["hdr"])

	assert.ErrorContains(t, g.AddEdge("missing", "src"), "unknown source vertex")
	assert.ErrorContains(t, g.AddEdge("src", "missing"), "unknown destination vertex")
	assert.ErrorContains(t, g.AddEdge("src", "src"), "self-referential edge on src")
}

func TestDetectCycles(t *testing.T) {
	testCases := []struct {
		name      string
		verts     []string
		edges     [][2]string
		wantCycle []string
	}{
		{
			name: "empty graph",
		},
		{
			name:  "no edges",
			verts: []string{"a", "b", "c"},
		},
		{
			name:  "diamond with a transitive edge",
			verts: []string{"a", "b", "c", "d"},
			edges: [][2]string{{"a", "b"}, {"b", "c"}, {"a", "c"}, {"c", "d"}},
		},
		{
			name:      "two vertices",
			verts:     []string{"a", "b"},
			edges:     [][2]string{{"a", "b"}, {"b", "a"}},
			wantCycle: []string{"a", "b", "a"},
		},
		{
			name:      "four vertices",
			verts:     []string{"a", "b", "c", "d"},
			edges:     [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"d", "a"}},
			wantCycle: []string{"a", "d", "c", "b", "a"},
		},
		{
			name:      "disjoint component",
			verts:     []string{"a", "b", "x", "y", "z"},
			edges:     [][2]string{{"a", "b"}, {"x", "y"}, {"y", "z"}, {"z", "y"}},
			wantCycle: []string{"y", "z", "y"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			g := build(t, tc.verts, tc.edges...)

			// --- Act ---
			err := g.DetectCycles()

			// --- Assert ---
			if tc.wantCycle == nil {
				assert.NoError(t, err)
				return
			}
			var cycle *CycleError
			require.ErrorAs(t, err, &cycle)
			assert.Equal(t, tc.wantCycle, cycle.Path)
			assert.ErrorContains(t, err, "cycle detected: ")
		})
	}
}

func TestEdgeOrderIsDeterministic(t *testing.T) {
	// --- Arrange ---
	g := build(t, []string{"dynamic_library.tbb", "header_collection.c", "source_collection.a", "procedural_header.b"},
		[2]string{"header_collection.c", "dynamic_library.tbb"},
		[2]string{"source_collection.a", "dynamic_library.tbb"},
		[2]string{"procedural_header.b", "dynamic_library.tbb"},
	)

	// --- Act ---
	dupErr := g.AddEdge("source_collection.a", "dynamic_library.tbb")
	deps, depsErr := g.Dependencies("dynamic_library.tbb")
	dependents, dependentsErr := g.Dependents("source_collection.a")
	_, missingErr := g.Dependencies("dynamic_library.missing")

	// --- Assert ---
	require.NoError(t, dupErr)
	require.NoError(t, depsErr)
	require.NoError(t, dependentsErr)
	assert.Equal(t, []string{"header_collection.c", "source_collection.a", "procedural_header.b"}, deps)
	assert.Equal(t, []string{"dynamic_library.tbb"}, dependents)
	assert.ErrorContains(t, missingErr, "unknown vertex dynamic_library.missing")
	assert.Equal(t, []string{"dynamic_library.tbb", "header_collection.c", "source_collection.a", "procedural_header.b"}, g.Nodes())
}

func TestTopologicalOrder(t *testing.T) {
	testCases := []struct {
		name      string
		verts     []string
		edges     [][2]string
		want      []string
		wantCycle bool
	}{
		{
			name:  "dependencies first",
			verts: []string{"console_application.test", "dynamic_library.tbb", "source_collection.tbb.source", "procedural_header.tbb_version"},
			edges: [][2]string{
				{"dynamic_library.tbb", "console_application.test"},
				{"source_collection.tbb.source", "dynamic_library.tbb"},
				{"procedural_header.tbb_version", "source_collection.tbb.source"},
			},
			want: []string{"procedural_header.tbb_version", "source_collection.tbb.source", "dynamic_library.tbb", "console_application.test"},
		},
		{
			name:  "independent vertices keep insertion order",
			verts: []string{"z", "y", "x"},
			want:  []string{"z", "y", "x"},
		},
		{
			name:      "cycle",
			verts:     []string{"a", "b"},
			edges:     [][2]string{{"a", "b"}, {"b", "a"}},
			wantCycle: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			g := build(t, tc.verts, tc.edges...)

			// --- Act ---
			order, err := g.TopologicalOrder()

			// --- Assert ---
			if tc.wantCycle {
				var cycle *CycleError
				assert.ErrorAs(t, err, &cycle)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, order)
		})
	}
}
