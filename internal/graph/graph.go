package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-billy/v5"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/dag"
	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/platform"
	"github.com/vk/buildgrid/internal/tokenized"
)

// Options configures a graph build.
type Options struct {
	Env      platform.Environment
	Defaults map[string]string
	FS       billy.Filesystem
	Registry *Registry
}

// Graph is a constructed, validated and frozen module graph.
type Graph struct {
	env      platform.Environment
	fs       billy.Filesystem
	roots    []module.ID
	modules  map[module.ID]*module.Module
	ids      map[string]module.ID
	created  []module.ID
	edges    *dag.Graph
	order    []module.ID
	registry *Registry
}

// builder implements module.Context during construction.
type builder struct {
	ctx     context.Context
	opts    Options
	root    *tokenized.Table
	g       *Graph
	missing []*UnresolvedDependencyError
}

// Build creates every module reachable from roots, validates the graph and
// resolves settings.
func Build(ctx context.Context, opts Options, roots ...module.ID) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	if err := opts.Env.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: no module registry given", ErrConfiguration)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no root modules requested", ErrConfiguration)
	}

	root := tokenized.NewTable(nil)
	root.SetAll(opts.Env.Macros())
	root.SetAll(opts.Defaults)

	b := &builder{
		ctx:  ctx,
		opts: opts,
		root: root,
		g: &Graph{
			env:      opts.Env,
			fs:       opts.FS,
			roots:    roots,
			modules:  make(map[module.ID]*module.Module),
			ids:      make(map[string]module.ID),
			edges:    dag.New(),
			registry: opts.Registry,
		},
	}

	logger.Debug("Constructing module graph.", "roots", len(roots), "env", opts.Env.String())
	for _, id := range roots {
		if _, err := b.ensure(id, module.ID{}); err != nil {
			return nil, err
		}
	}
	logger.Debug("All reachable modules initialized.", "count", len(b.g.created))

	if err := b.checkComplete(); err != nil {
		return nil, err
	}
	if err := b.checkAcyclic(); err != nil {
		return nil, err
	}
	if err := b.resolveSettings(); err != nil {
		return nil, err
	}
	logger.Debug("Module graph constructed.", "modules", len(b.g.order))
	return b.g, nil
}

// ensure returns the module for id, creating and initializing it on first
// use. Unknown identities are recorded and reported after construction.
func (b *builder) ensure(id, from module.ID) (*module.Module, error) {
	if m, ok := b.g.modules[id]; ok {
		return m, nil
	}
	def, ok := b.opts.Registry.Lookup(id)
	if !ok {
		b.missing = append(b.missing, &UnresolvedDependencyError{From: from, Missing: id})
		return nil, nil
	}

	table := tokenized.NewTable(b.root)
	table.SetAll(def.Macros)
	m := module.New(id, def.Kind, table, def.Strategies...)
	b.register(m)

	ctxlog.FromContext(b.ctx).Debug("Initializing module.", "module", id.String(), "kind", string(def.Kind))
	if err := m.Init(b); err != nil {
		return nil, err
	}
	if err := b.ensureDependencies(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ensureDependencies creates every module m or one of its children refers
// to. Strategies may add edges to a child after the child was created, so
// children are walked again here.
func (b *builder) ensureDependencies(m *module.Module) error {
	for _, child := range m.Children() {
		if err := b.ensureDependencies(child); err != nil {
			return err
		}
	}
	for _, dep := range m.Dependencies() {
		if _, err := b.ensure(dep, m.ID()); err != nil {
			return err
		}
	}
	for _, src := range m.PublicPatchSources() {
		if _, err := b.ensure(src, m.ID()); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) register(m *module.Module) {
	b.g.modules[m.ID()] = m
	b.g.ids[m.ID().String()] = m.ID()
	b.g.created = append(b.g.created, m.ID())
}

func (b *builder) Env() platform.Environment { return b.opts.Env }

func (b *builder) FS() billy.Filesystem { return b.opts.FS }

func (b *builder) Match(pattern string) []module.ID { return b.opts.Registry.Match(pattern) }

func (b *builder) Reference(id module.ID) (*module.Module, error) {
	m, err := b.ensure(id, module.ID{})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &UnresolvedDependencyError{Missing: id}
	}
	return m, nil
}

func (b *builder) NewChild(parent *module.Module, id module.ID, kind module.Kind, strategies ...module.Strategy) (*module.Module, error) {
	if _, ok := b.g.modules[id]; ok {
		return nil, &DuplicateModuleError{ID: id}
	}
	if _, ok := b.opts.Registry.Lookup(id); ok {
		return nil, &DuplicateModuleError{ID: id}
	}
	child := module.New(id, kind, parent.Macros(), strategies...)
	parent.AddChild(child)
	b.register(child)

	ctxlog.FromContext(b.ctx).Debug("Initializing child module.", "module", id.String(), "parent", parent.ID().String())
	if err := child.Init(b); err != nil {
		return nil, err
	}
	if err := b.ensureDependencies(child); err != nil {
		return nil, err
	}
	return child, nil
}

func (b *builder) checkComplete() error {
	if len(b.missing) == 0 {
		return nil
	}
	errs := make([]error, len(b.missing))
	for i, e := range b.missing {
		errs[i] = e
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

func (b *builder) checkAcyclic() error {
	for _, id := range b.g.created {
		b.g.edges.AddNode(id.String())
	}
	for _, id := range b.g.created {
		for _, dep := range b.g.modules[id].Dependencies() {
			if err := b.g.edges.AddEdge(dep.String(), id.String()); err != nil {
				return fmt.Errorf("adding edge %s -> %s: %w", dep, id, err)
			}
		}
	}
	order, err := b.g.edges.TopologicalOrder()
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			return &CyclicDependencyError{Cycle: cycle.Path}
		}
		return err
	}
	b.g.order = make([]module.ID, len(order))
	for i, s := range order {
		b.g.order[i] = b.g.ids[s]
	}
	return nil
}

// Env returns the environment the graph was built for.
func (g *Graph) Env() platform.Environment { return g.env }

// FS returns the file system the graph was built against.
func (g *Graph) FS() billy.Filesystem { return g.fs }

// Roots returns the requested root identities.
func (g *Graph) Roots() []module.ID { return append([]module.ID(nil), g.roots...) }

// Len returns the number of modules.
func (g *Graph) Len() int { return len(g.order) }

// Module returns the module with the given identity.
func (g *Graph) Module(id module.ID) (*module.Module, bool) {
	m, ok := g.modules[id]
	return m, ok
}

// Modules returns every module in build order.
func (g *Graph) Modules() []*module.Module {
	out := make([]*module.Module, len(g.order))
	for i, id := range g.order {
		out[i] = g.modules[id]
	}
	return out
}

// Order returns every module identity in build order.
func (g *Graph) Order() []module.ID { return append([]module.ID(nil), g.order...) }

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id module.ID) []*module.Module {
	m, ok := g.modules[id]
	if !ok {
		return nil
	}
	deps := m.Dependencies()
	out := make([]*module.Module, 0, len(deps))
	for _, d := range deps {
		out = append(out, g.modules[d])
	}
	return out
}

// Dependents returns the modules that directly depend on id.
func (g *Graph) Dependents(id module.ID) []*module.Module {
	ids, err := g.edges.Dependents(id.String())
	if err != nil {
		return nil
	}
	out := make([]*module.Module, 0, len(ids))
	for _, s := range ids {
		out = append(out, g.modules[g.ids[s]])
	}
	return out
}

// TopLevel returns the modules that have no parent, in build order.
func (g *Graph) TopLevel() []*module.Module {
	var out []*module.Module
	for _, m := range g.Modules() {
		if m.Parent() == nil {
			out = append(out, m)
		}
	}
	return out
}
