package module

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/vk/buildgrid/internal/patch"
	"github.com/vk/buildgrid/internal/platform"
	"github.com/vk/buildgrid/internal/settings"
)

// Output path templates shared by the built-in strategies.
const (
	ObjectTemplate     = "$(packagebuilddir)/$(config)/obj/$(modulename)/%s$(objext)"
	DynamicTemplate    = "$(packagebuilddir)/$(config)/$(dynamicprefix)$(OutputName)$(dynamicext)"
	ImportLibTemplate  = "$(packagebuilddir)/$(config)/$(OutputName)$(libext)"
	ExecutableTemplate = "$(packagebuilddir)/$(config)/$(OutputName)$(exeext)"
	PublishTemplate    = "$(buildroot)/$(config)/$(modulename)"
)

// Sources creates a child source collection named "<module>.<name>" that
// compiles every file matched by patterns. The child runs CollectSources
// followed by extra. m depends on the child.
func Sources(name string, lang Language, patterns []string, extra ...Strategy) Strategy {
	return func(ctx Context, m *Module) error {
		id := ID{Type: string(KindSourceCollection), Name: m.id.Label() + "." + name}
		strategies := append([]Strategy{CollectSources(lang, patterns...)}, extra...)
		child, err := ctx.NewChild(m, id, KindSourceCollection, strategies...)
		if err != nil {
			return err
		}
		m.DependsOn(child)
		return nil
	}
}

// CollectSources expands patterns into the module's inputs and registers one
// object output per source file.
func CollectSources(lang Language, patterns ...string) Strategy {
	return func(ctx Context, m *Module) error {
		m.SetLanguage(lang)
		seen := make(map[string]struct{})
		stems := make(map[string]int)
		for _, p := range patterns {
			files, err := m.Template(p).Expand(ctx.FS(), false)
			if err != nil {
				return err
			}
			for _, f := range files {
				if _, ok := seen[f]; ok {
					continue
				}
				seen[f] = struct{}{}
				m.AddInputs(f)

				stem := strings.TrimSuffix(path.Base(filepath.ToSlash(f)), path.Ext(f))
				if n := stems[stem]; n > 0 {
					stems[stem] = n + 1
					stem = fmt.Sprintf("%s_%d", stem, n)
				} else {
					stems[stem] = 1
				}
				key := OutputObject + "/" + stem
				if err := m.RegisterOutput(key, m.Template(fmt.Sprintf(ObjectTemplate, stem))); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// Headers creates a child header collection that lists the matched files.
func Headers(patterns ...string) Strategy {
	return func(ctx Context, m *Module) error {
		id := ID{Type: string(KindHeaderCollection), Name: m.id.Label() + ".headers"}
		_, err := ctx.NewChild(m, id, KindHeaderCollection, CollectHeaders(patterns...))
		return err
	}
}

// CollectHeaders expands patterns into the module's inputs.
func CollectHeaders(patterns ...string) Strategy {
	return func(ctx Context, m *Module) error {
		for _, p := range patterns {
			files, err := m.Template(p).Expand(ctx.FS(), false)
			if err != nil {
				return err
			}
			m.AddInputs(files...)
		}
		return nil
	}
}

// DependsOn records ordering edges on ids.
func DependsOn(ids ...ID) Strategy {
	return func(_ Context, m *Module) error {
		for _, id := range ids {
			m.DependsOnID(id)
		}
		return nil
	}
}

// UsePublicPatches applies the public patches of ids to m.
func UsePublicPatches(ids ...ID) Strategy {
	return func(_ Context, m *Module) error {
		for _, id := range ids {
			m.UsePublicPatchesOf(id)
		}
		return nil
	}
}

// CompileAndLinkAgainst makes m's source collections compile with the public
// patches of ids and makes m link with their binaries. It must run after the
// Sources strategies of m.
func CompileAndLinkAgainst(ids ...ID) Strategy {
	return func(_ Context, m *Module) error {
		var compiled bool
		for _, child := range m.children {
			if child.kind != KindSourceCollection {
				continue
			}
			compiled = true
			for _, id := range ids {
				child.UsePublicPatchesOf(id)
				child.DependsOnID(id)
			}
		}
		if !compiled {
			return fmt.Errorf("%s has no source collection to compile against %v", m.id, ids)
		}
		for _, id := range ids {
			m.LinkAgainst(id)
		}
		return nil
	}
}

// PrivatePatch adds a patch configuring only m.
func PrivatePatch(fn patch.Func) Strategy {
	return func(_ Context, m *Module) error {
		m.AddPrivatePatch(fn)
		return nil
	}
}

// PublicPatch adds a patch configuring every dependent of m.
func PublicPatch(fn patch.Func) Strategy {
	return func(_ Context, m *Module) error {
		m.AddPublicPatch(fn)
		return nil
	}
}

// Group places m in a solution folder.
func Group(name string) Strategy {
	return func(_ Context, m *Module) error {
		m.SetGroup(name)
		return nil
	}
}

// Macros defines module-local macros.
func Macros(values map[string]string) Strategy {
	return func(_ Context, m *Module) error {
		m.macros.SetAll(values)
		return nil
	}
}

// DynamicLibraryOutputs registers the shared library and, on Windows, its
// import library.
func DynamicLibraryOutputs() Strategy {
	return func(ctx Context, m *Module) error {
		if err := m.RegisterOutput(OutputDynamic, m.Template(DynamicTemplate)); err != nil {
			return err
		}
		if ctx.Env().Platform == platform.Windows {
			return m.RegisterOutput(OutputImportLib, m.Template(ImportLibTemplate))
		}
		return nil
	}
}

// ExecutableOutput registers the executable produced by a console application.
func ExecutableOutput() Strategy {
	return func(_ Context, m *Module) error {
		return m.RegisterOutput(OutputExecutable, m.Template(ExecutableTemplate))
	}
}

// Generate makes m a procedural file: content is written to the resolved
// outputTemplate under key, and dependents get the file's directory on their
// include path.
func Generate(key, outputTemplate string, content ContentFunc) Strategy {
	return func(_ Context, m *Module) error {
		if err := m.RegisterOutput(key, m.Template(outputTemplate)); err != nil {
			return err
		}
		m.SetContent(content)
		out, _ := m.Output(key)
		dir := filepath.Dir(out)
		m.AddPublicPatch(func(bag *settings.Bag, _ patch.Target) error {
			if c, ok := bag.Compiler(); ok {
				c.IncludePaths.Add(dir)
			}
			if p, ok := bag.Preprocessor(); ok {
				p.IncludePaths.Add(dir)
			}
			return nil
		})
		return nil
	}
}

// Collate selects outputs of other modules for publishing. Each pattern
// matches module identities; every match becomes a dependency.
func Collate(inclusions ...Inclusion) Strategy {
	return func(ctx Context, m *Module) error {
		for _, inc := range inclusions {
			matches := ctx.Match(inc.Pattern)
			if len(matches) == 0 {
				return fmt.Errorf("collation %s: pattern %q matches no module", m.id, inc.Pattern)
			}
			m.Include(inc.Pattern, inc.Key)
			for _, id := range matches {
				m.DependsOnID(id)
			}
		}
		return m.RegisterOutput(OutputPublish, m.Template(PublishTemplate))
	}
}
