package graph

import (
	"fmt"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/patch"
	"github.com/vk/buildgrid/internal/platform"
	"github.com/vk/buildgrid/internal/settings"
)

// resolveSettings composes every module's settings in build order.
func (b *builder) resolveSettings() error {
	logger := ctxlog.FromContext(b.ctx)
	for _, id := range b.g.order {
		m := b.g.modules[id]
		bag := newBag(b.opts.Env, m)
		if bag == nil {
			continue
		}
		patches := b.g.PatchesFor(m)
		if err := patch.Apply(patches, bag, m); err != nil {
			return fmt.Errorf("resolving settings of %s: %w", id, err)
		}
		if err := m.SetSettings(bag); err != nil {
			return err
		}
		logger.Debug("Resolved module settings.", "module", id.String(), "patches", len(patches))
	}
	return nil
}

// PatchesFor returns, in application order, the patches that configure m:
// public patches of every transitive provider (dependency-first, each once),
// then public patches of m and its enclosing modules, then m's private
// patches.
func (g *Graph) PatchesFor(m *module.Module) []patch.Patch {
	applied := map[module.ID]bool{m.ID(): true}
	var out []patch.Patch

	for _, provider := range g.providers(m) {
		applied[provider.ID()] = true
		out = append(out, provider.PublicPatches()...)
	}

	out = append(out, m.PublicPatches()...)
	for p := m.Parent(); p != nil; p = p.Parent() {
		if applied[p.ID()] {
			continue
		}
		applied[p.ID()] = true
		out = append(out, p.PublicPatches()...)
	}

	return append(out, m.PrivatePatches()...)
}

// providers returns every module reachable from m over dependency and
// use-public-patches edges, in post-order so that a provider's own providers
// come first.
func (g *Graph) providers(m *module.Module) []*module.Module {
	visited := map[module.ID]bool{m.ID(): true}
	var out []*module.Module
	var visit func(cur *module.Module)
	visit = func(cur *module.Module) {
		next := append(cur.Dependencies(), cur.PublicPatchSources()...)
		for _, id := range next {
			if visited[id] {
				continue
			}
			visited[id] = true
			dep, ok := g.modules[id]
			if !ok {
				continue
			}
			visit(dep)
			out = append(out, dep)
		}
	}
	visit(m)
	return out
}

// newBag returns a bag with default values for the tool that builds m, or
// nil when m runs no configurable tool.
func newBag(env platform.Environment, m *module.Module) *settings.Bag {
	switch m.Kind() {
	case module.KindSourceCollection:
		bag := settings.NewCompilerBag(env.Flavor, m.Language() == module.LangCxx)
		c, _ := bag.Compiler()
		c.Bits = env.Bits
		c.DebugSymbols = env.Configuration == platform.Debug || env.Configuration == platform.Profile
		if env.Configuration == platform.Debug {
			c.Optimization = "none"
		} else {
			c.Optimization = "speed"
		}
		return bag
	case module.KindDynamicLibrary, module.KindConsoleApplication:
		cxx := false
		for _, child := range m.Children() {
			if child.Kind() == module.KindSourceCollection && child.Language() == module.LangCxx {
				cxx = true
			}
		}
		bag := settings.NewLinkerBag(env.Platform, cxx)
		l, _ := bag.Linker()
		l.Bits = env.Bits
		l.DebugSymbols = env.Configuration == platform.Debug || env.Configuration == platform.Profile
		if ll, ok := bag.LinuxLinker(); ok && m.Kind() == module.KindDynamicLibrary {
			if out, ok := m.Output(module.OutputDynamic); ok {
				ll.SharedObjectName = baseName(out)
			}
		}
		return bag
	case module.KindPreprocessedFile:
		return settings.NewPreprocessorBag()
	}
	return nil
}
