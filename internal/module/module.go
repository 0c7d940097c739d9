// Package module defines the buildable unit of a build graph. A module is
// created once, configured by running its ordered Init strategies, and then
// frozen: its outputs, dependencies and patches never change afterwards.
package module

import (
	"fmt"
	"strings"

	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/patch"
	"github.com/vk/buildgrid/internal/settings"
	"github.com/vk/buildgrid/internal/tokenized"
)

// ContentFunc computes the text of a generated file.
type ContentFunc func() (string, error)

// Module is a node of the build graph.
type Module struct {
	id     ID
	kind   Kind
	lang   Language
	group  string
	parent *Module

	children []*Module
	macros   *tokenized.Table
	settings *settings.Bag

	outputs     map[string]string
	outputOrder []string

	deps       []ID
	depSet     map[ID]struct{}
	usesPublic []ID
	linkWith   []ID

	privatePatches []patch.Patch
	publicPatches  []patch.Patch

	inputs   []string
	includes []Inclusion
	content  ContentFunc

	strategies  []Strategy
	initialized bool
	frozen      bool
}

// Inclusion selects outputs of other modules for a collation.
type Inclusion struct {
	Pattern string
	Key     string
}

// New creates an uninitialized module whose macros inherit from parent.
func New(id ID, kind Kind, parent *tokenized.Table, strategies ...Strategy) *Module {
	m := &Module{
		id:         id,
		kind:       kind,
		macros:     tokenized.NewTable(parent),
		outputs:    make(map[string]string),
		depSet:     make(map[ID]struct{}),
		strategies: strategies,
	}
	m.macros.Set("modulename", id.Label())
	m.macros.Set("OutputName", id.Label())
	return m
}

func (m *Module) ID() ID                   { return m.id }
func (m *Module) Kind() Kind               { return m.kind }
func (m *Module) Language() Language       { return m.lang }
func (m *Module) Group() string            { return m.group }
func (m *Module) Parent() *Module          { return m.parent }
func (m *Module) Macros() *tokenized.Table { return m.macros }
func (m *Module) String() string           { return m.id.String() }

// Children returns the modules created by this module's Init.
func (m *Module) Children() []*Module { return append([]*Module(nil), m.children...) }

// Encapsulating returns the outermost ancestor, or m itself.
func (m *Module) Encapsulating() *Module {
	cur := m
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// SetLanguage sets the source language of a source collection.
func (m *Module) SetLanguage(l Language) { m.lang = l }

// SetGroup sets the solution folder the module is listed under.
func (m *Module) SetGroup(g string) { m.group = g }

// SetMacro defines a module-local macro.
func (m *Module) SetMacro(name, value string) { m.macros.Set(name, value) }

// Macro resolves a macro visible to the module, expanding nested references.
func (m *Module) Macro(name string) (string, bool) {
	raw, ok := m.macros.Lookup(name)
	if !ok {
		return "", false
	}
	v, err := tokenized.New(raw, m.macros).Resolve()
	if err != nil {
		return raw, true
	}
	return v, true
}

// Template binds raw to the module's current macros.
func (m *Module) Template(raw string) tokenized.String {
	return tokenized.New(raw, m.macros)
}

// AddChild records c as created by m.
func (m *Module) AddChild(c *Module) {
	c.parent = m
	if c.group == "" {
		c.group = m.group
	}
	m.children = append(m.children, c)
}

// OutputError is returned when an output key is assigned twice or after the
// module has been frozen.
type OutputError struct {
	Module ID
	Key    string
	Reason string
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("module %s: output %q %s", e.Module, e.Key, e.Reason)
}

func (e *OutputError) Is(target error) bool { return target == errkind.ErrConfiguration }

// RegisterOutput resolves path and records it under key. Each key may be
// assigned once, and only while the module is being initialized.
func (m *Module) RegisterOutput(key string, path tokenized.String) error {
	if m.frozen {
		return &OutputError{Module: m.id, Key: key, Reason: "registered after initialization"}
	}
	if _, ok := m.outputs[key]; ok {
		return &OutputError{Module: m.id, Key: key, Reason: "already registered"}
	}
	resolved, err := path.Resolve()
	if err != nil {
		return fmt.Errorf("module %s: output %q: %w", m.id, key, err)
	}
	m.outputs[key] = resolved
	m.outputOrder = append(m.outputOrder, key)
	return nil
}

// Output returns the resolved path registered under key.
func (m *Module) Output(key string) (string, bool) {
	p, ok := m.outputs[key]
	return p, ok
}

// OutputKeys returns the registered keys in registration order.
func (m *Module) OutputKeys() []string { return append([]string(nil), m.outputOrder...) }

// OutputsWithPrefix returns the paths of every key starting with prefix, in
// registration order.
func (m *Module) OutputsWithPrefix(prefix string) []string {
	var out []string
	for _, k := range m.outputOrder {
		if strings.HasPrefix(k, prefix) {
			out = append(out, m.outputs[k])
		}
	}
	return out
}

// DependsOnID records an ordering edge: id must be built before m. Repeated
// edges are ignored.
func (m *Module) DependsOnID(id ID) {
	if id == m.id {
		return
	}
	if _, ok := m.depSet[id]; ok {
		return
	}
	m.depSet[id] = struct{}{}
	m.deps = append(m.deps, id)
}

// DependsOn records an ordering edge on another module.
func (m *Module) DependsOn(other *Module) { m.DependsOnID(other.id) }

// Dependencies returns the direct dependencies in declaration order.
func (m *Module) Dependencies() []ID { return append([]ID(nil), m.deps...) }

// UsePublicPatchesOf makes id's public patches apply to m without an
// ordering edge.
func (m *Module) UsePublicPatchesOf(id ID) {
	for _, existing := range m.usesPublic {
		if existing == id {
			return
		}
	}
	m.usesPublic = append(m.usesPublic, id)
}

// PublicPatchSources returns the modules whose public patches m consumes
// without depending on them.
func (m *Module) PublicPatchSources() []ID { return append([]ID(nil), m.usesPublic...) }

// LinkAgainst records a library whose binary m links with. It implies a
// dependency edge.
func (m *Module) LinkAgainst(id ID) {
	m.DependsOnID(id)
	for _, existing := range m.linkWith {
		if existing == id {
			return
		}
	}
	m.linkWith = append(m.linkWith, id)
}

// LinkedLibraries returns the modules m links against.
func (m *Module) LinkedLibraries() []ID { return append([]ID(nil), m.linkWith...) }

// AddPrivatePatch appends a patch that configures only m.
func (m *Module) AddPrivatePatch(fn patch.Func) {
	m.privatePatches = append(m.privatePatches, patch.New(m.id.String(), patch.Private, fn))
}

// AddPublicPatch appends a patch that configures every dependent of m.
func (m *Module) AddPublicPatch(fn patch.Func) {
	m.publicPatches = append(m.publicPatches, patch.New(m.id.String(), patch.Public, fn))
}

func (m *Module) PrivatePatches() []patch.Patch {
	return append([]patch.Patch(nil), m.privatePatches...)
}
func (m *Module) PublicPatches() []patch.Patch { return append([]patch.Patch(nil), m.publicPatches...) }

// AddInputs appends input files.
func (m *Module) AddInputs(paths ...string) { m.inputs = append(m.inputs, paths...) }

// Inputs returns the module's own input files.
func (m *Module) Inputs() []string { return append([]string(nil), m.inputs...) }

// Include adds a collation selection.
func (m *Module) Include(pattern, key string) {
	m.includes = append(m.includes, Inclusion{Pattern: pattern, Key: key})
}

// Inclusions returns the collation selections.
func (m *Module) Inclusions() []Inclusion { return append([]Inclusion(nil), m.includes...) }

// SetContent sets the generator of a procedural file.
func (m *Module) SetContent(fn ContentFunc) { m.content = fn }

// Content computes the generated text, if the module has a generator.
func (m *Module) Content() (string, bool, error) {
	if m.content == nil {
		return "", false, nil
	}
	s, err := m.content()
	return s, true, err
}

// SetSettings installs the resolved settings. It may be called once.
func (m *Module) SetSettings(b *settings.Bag) error {
	if m.settings != nil {
		return fmt.Errorf("module %s: settings already resolved", m.id)
	}
	m.settings = b
	return nil
}

// Settings returns the resolved settings, or nil for modules without a tool.
func (m *Module) Settings() *settings.Bag { return m.settings }

// AddStrategies appends strategies to run during Init. It has no effect once
// the module has been initialized.
func (m *Module) AddStrategies(s ...Strategy) {
	if m.initialized {
		return
	}
	m.strategies = append(m.strategies, s...)
}

// Initialized reports whether Init has run.
func (m *Module) Initialized() bool { return m.initialized }

// Init runs every strategy in order. It runs at most once; later calls
// return nil without doing anything. The module is frozen afterwards even
// if a strategy fails.
func (m *Module) Init(ctx Context) error {
	if m.initialized {
		return nil
	}
	m.initialized = true
	defer func() { m.frozen = true }()
	for i, s := range m.strategies {
		if err := s(ctx, m); err != nil {
			return fmt.Errorf("init of %s (step %d): %w", m.id, i+1, err)
		}
	}
	return nil
}
