package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBody_Merge(t *testing.T) {
	// --- Arrange ---
	tmpl := Body{
		Group:       "Tests",
		Macros:      map[string]string{"suite": "tbb", "mode": "template"},
		LinkAgainst: []string{"dynamic_library.tbb"},
		Patches:     []*PatchDecl{{Name: "common"}},
		Output:      "$(packagebuilddir)/template.out",
	}
	decl := Body{
		Macros:      map[string]string{"mode": "module"},
		LinkAgainst: []string{"dynamic_library.tbbmalloc"},
		Patches:     []*PatchDecl{{Name: "own"}},
		Sources:     []*SourceDecl{{Name: "source"}},
	}

	// --- Act ---
	merged := tmpl.Merge(decl)

	// --- Assert ---
	assert.Equal(t, "Tests", merged.Group, "template scalar survives when the module leaves it unset")
	assert.Equal(t, map[string]string{"suite": "tbb", "mode": "module"}, merged.Macros)
	assert.Equal(t, []string{"dynamic_library.tbb", "dynamic_library.tbbmalloc"}, merged.LinkAgainst)
	assert.Len(t, merged.Patches, 2)
	assert.Equal(t, "common", merged.Patches[0].Name)
	assert.Equal(t, "own", merged.Patches[1].Name)
	assert.Len(t, merged.Sources, 1)
	assert.Equal(t, "$(packagebuilddir)/template.out", merged.Output)
}

func TestBody_MergeDoesNotAlias(t *testing.T) {
	// --- Arrange ---
	tmpl := Body{LinkAgainst: make([]string, 1, 4), Macros: map[string]string{"a": "1"}}
	tmpl.LinkAgainst[0] = "dynamic_library.a"

	// --- Act ---
	first := tmpl.Merge(Body{LinkAgainst: []string{"dynamic_library.b"}, Macros: map[string]string{"a": "2"}})
	second := tmpl.Merge(Body{LinkAgainst: []string{"dynamic_library.c"}})

	// --- Assert ---
	assert.Equal(t, []string{"dynamic_library.a", "dynamic_library.b"}, first.LinkAgainst)
	assert.Equal(t, []string{"dynamic_library.a", "dynamic_library.c"}, second.LinkAgainst)
	assert.Equal(t, "1", tmpl.Macros["a"])
}

func TestBody_MergeCombinesSourceCollections(t *testing.T) {
	// --- Arrange ---
	tmpl := Body{Sources: []*SourceDecl{{
		Name:    "source",
		Patches: []*PatchDecl{{Name: "pthread"}},
	}}}
	decl := Body{Sources: []*SourceDecl{
		{Name: "source", Language: "cxx", Files: []string{"$(packagedir)/src/test/test_atomic.cpp"}},
		{Name: "extra", Files: []string{"$(packagedir)/src/test/harness.cpp"}},
	}}

	// --- Act ---
	merged := tmpl.Merge(decl)

	// --- Assert ---
	require.Len(t, merged.Sources, 2)
	src := merged.Sources[0]
	assert.Equal(t, "source", src.Name)
	assert.Equal(t, "cxx", src.Language)
	assert.Equal(t, []string{"$(packagedir)/src/test/test_atomic.cpp"}, src.Files)
	require.Len(t, src.Patches, 1)
	assert.Equal(t, "pthread", src.Patches[0].Name)
	assert.Equal(t, "extra", merged.Sources[1].Name)
	assert.Empty(t, tmpl.Sources[0].Files, "the template is left untouched")
}
