// Package declare turns a loaded build description into module definitions.
// Every declaration becomes one strategy, and a module's Init runs its
// strategies in a fixed order: outputs and grouping first, then children,
// then relationships, then patches.
package declare

import (
	"context"
	"fmt"
	"path"

	"github.com/vk/buildgrid/internal/artifact"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/platform"
)

// Options configures the translation.
type Options struct {
	Env       platform.Environment
	Converter config.Converter
	// BuildRoot is the directory every package builds into.
	BuildRoot string
}

type declarer struct {
	ctx  context.Context
	opts Options
}

// Registry translates every module of model and returns them registered.
func Registry(ctx context.Context, model *config.Model, opts Options) (*graph.Registry, error) {
	defs, err := Definitions(ctx, model, opts)
	if err != nil {
		return nil, err
	}
	reg := graph.NewRegistry()
	for _, def := range defs {
		if err := reg.Add(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Definitions translates every module of model.
func Definitions(ctx context.Context, model *config.Model, opts Options) ([]graph.Definition, error) {
	if opts.Converter == nil {
		return nil, fmt.Errorf("%w: no expression converter given", errkind.ErrConfiguration)
	}
	d := &declarer{ctx: ctx, opts: opts}
	logger := ctxlog.FromContext(ctx)

	defs := make([]graph.Definition, 0, len(model.Modules))
	for _, decl := range model.Modules {
		def, err := d.definition(model, decl)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", decl.Kind, decl.Name, err)
		}
		logger.Debug("Declared module.", "module", def.ID.String(), "strategies", len(def.Strategies))
		defs = append(defs, def)
	}
	return defs, nil
}

func (d *declarer) definition(model *config.Model, decl *config.ModuleDecl) (graph.Definition, error) {
	kind, err := module.ParseKind(decl.Kind)
	if err != nil {
		return graph.Definition{}, fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
	}
	if decl.Name == "" {
		return graph.Definition{}, fmt.Errorf("%w: module name cannot be empty", errkind.ErrConfiguration)
	}

	body := decl.Body
	if decl.Template != "" {
		tmpl, ok := model.Templates[decl.Template]
		if !ok {
			return graph.Definition{}, fmt.Errorf("%w: unknown template %q", errkind.ErrConfiguration, decl.Template)
		}
		body = tmpl.Body.Merge(decl.Body)
	}

	strategies, err := d.strategies(kind, body)
	if err != nil {
		return graph.Definition{}, err
	}
	return graph.Definition{
		ID:         module.ID{Type: string(kind), Name: decl.Name},
		Kind:       kind,
		Macros:     d.macros(decl.Package, body),
		Strategies: strategies,
	}, nil
}

// macros returns the package macros overlaid with the module's own.
func (d *declarer) macros(pkg *config.Package, body config.Body) map[string]string {
	out := map[string]string{}
	if pkg != nil {
		out["packagename"] = pkg.Name
		out["packagedir"] = pkg.Dir
		out["packagebuilddir"] = path.Join(d.opts.BuildRoot, pkg.Name)
		if pkg.Version != "" {
			out["packageversion"] = pkg.Version
		}
		for k, v := range pkg.Macros {
			out[k] = v
		}
	}
	for k, v := range body.Macros {
		out[k] = v
	}
	return out
}

func (d *declarer) strategies(kind module.Kind, body config.Body) ([]module.Strategy, error) {
	var out []module.Strategy

	switch kind {
	case module.KindDynamicLibrary:
		out = append(out, module.DynamicLibraryOutputs())
	case module.KindConsoleApplication:
		out = append(out, module.ExecutableOutput())
	}
	if body.Group != "" {
		out = append(out, module.Group(body.Group))
	}

	// Children and own inputs.
	switch kind {
	case module.KindSourceCollection:
		for _, src := range body.Sources {
			lang, err := sourceLanguage(src)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
			}
			out = append(out, module.CollectSources(lang, src.Files...))
			extra, err := d.sourceExtras(src)
			if err != nil {
				return nil, err
			}
			out = append(out, extra...)
		}
	case module.KindHeaderCollection:
		out = append(out, module.CollectHeaders(body.Headers...))
	case module.KindProceduralHeader:
		if body.Output == "" {
			return nil, fmt.Errorf("%w: procedural header needs an output", errkind.ErrConfiguration)
		}
		header := artifact.VersionHeader{Output: body.Output}
		if v := body.Version; v != nil {
			header.Prefix, header.Version, header.Body = v.Prefix, v.Version, v.Body
		}
		out = append(out, versionHeader(header))
	case module.KindPreprocessedFile:
		if body.Output == "" || len(body.Inputs) != 1 {
			return nil, fmt.Errorf("%w: preprocessed file needs one input and an output", errkind.ErrConfiguration)
		}
		out = append(out, preprocess(body.Inputs[0], body.Output))
	default:
		for _, src := range body.Sources {
			lang, err := sourceLanguage(src)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
			}
			extra, err := d.sourceExtras(src)
			if err != nil {
				return nil, err
			}
			out = append(out, module.Sources(src.Name, lang, src.Files, extra...))
		}
		if len(body.Headers) > 0 {
			out = append(out, module.Headers(body.Headers...))
		}
	}

	if body.Export != nil {
		table, err := exportTable(body.Export)
		if err != nil {
			return nil, err
		}
		out = append(out, artifact.ExportDefinitions(table))
	}

	// Relationships.
	deps, err := parseIDs(body.DependsOn)
	if err != nil {
		return nil, err
	}
	if len(deps) > 0 {
		out = append(out, module.DependsOn(deps...))
	}
	uses, err := parseIDs(body.UsePublicPatches)
	if err != nil {
		return nil, err
	}
	if len(uses) > 0 {
		out = append(out, module.UsePublicPatches(uses...))
	}
	links, err := parseIDs(body.LinkAgainst)
	if err != nil {
		return nil, err
	}
	if len(links) > 0 {
		out = append(out, module.CompileAndLinkAgainst(links...))
	}
	if kind == module.KindCollation {
		if len(body.Collate) == 0 {
			return nil, fmt.Errorf("%w: collation includes nothing", errkind.ErrConfiguration)
		}
		incs := make([]module.Inclusion, len(body.Collate))
		for i, inc := range body.Collate {
			incs[i] = module.Inclusion{Pattern: inc.Pattern, Key: inc.Key}
		}
		out = append(out, module.Collate(incs...))
	}

	for _, p := range body.Patches {
		s, err := d.patchStrategy(p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// sourceExtras returns the strategies a source collection runs after
// collecting its files.
func (d *declarer) sourceExtras(src *config.SourceDecl) ([]module.Strategy, error) {
	var out []module.Strategy
	deps, err := parseIDs(src.DependsOn)
	if err != nil {
		return nil, err
	}
	if len(deps) > 0 {
		out = append(out, module.DependsOn(deps...))
	}
	for _, p := range src.Patches {
		s, err := d.patchStrategy(p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// versionHeader resolves macros in the version before generating.
func versionHeader(h artifact.VersionHeader) module.Strategy {
	return func(ctx module.Context, m *module.Module) error {
		v, err := m.Template(h.Version).Resolve()
		if err != nil {
			return err
		}
		h.Version = v
		return h.Strategy()(ctx, m)
	}
}

func preprocess(input, output string) module.Strategy {
	return func(_ module.Context, m *module.Module) error {
		in, err := m.Template(input).Resolve()
		if err != nil {
			return err
		}
		m.AddInputs(in)
		return m.RegisterOutput(module.OutputExport, m.Template(output))
	}
}

func exportTable(decl *config.ExportDecl) (artifact.Table, error) {
	table := make(artifact.Table, 0, len(decl.Rules))
	for _, r := range decl.Rules {
		p, err := platform.ParsePlatform(r.Platform)
		if err != nil {
			return nil, fmt.Errorf("%w: export rule: %w", errkind.ErrConfiguration, err)
		}
		rule := artifact.Rule{Platform: p, Bits: r.Bits, Source: r.Source}
		if r.Configurations != "" {
			c, err := platform.ParseConfiguration(r.Configurations)
			if err != nil {
				return nil, fmt.Errorf("%w: export rule: %w", errkind.ErrConfiguration, err)
			}
			rule.Configurations = c
		}
		if r.Bits != 0 && r.Bits != 32 && r.Bits != 64 {
			return nil, fmt.Errorf("%w: export rule: bits must be 32 or 64, got %d", errkind.ErrConfiguration, r.Bits)
		}
		table = append(table, rule)
	}
	return table, nil
}

// sourceLanguage defaults to C++.
func sourceLanguage(src *config.SourceDecl) (module.Language, error) {
	if src.Language == "" {
		return module.LangCxx, nil
	}
	return module.ParseLanguage(src.Language)
}

func parseIDs(raw []string) ([]module.ID, error) {
	out := make([]module.ID, 0, len(raw))
	for _, s := range raw {
		id, err := module.ParseID(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
		}
		out = append(out, id)
	}
	return out, nil
}
