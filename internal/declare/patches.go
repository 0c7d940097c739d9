package declare

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/patch"
	"github.com/vk/buildgrid/internal/settings"
)

// Capability argument sets. Scalars are pointers so that an absent argument
// leaves the bag untouched; lists are appended to.

type compilerArgs struct {
	IncludePaths       []string `bgrid:"include_paths"`
	SystemIncludePaths []string `bgrid:"system_include_paths"`
	Defines            []string `bgrid:"defines"`
	DisableWarnings    []string `bgrid:"disable_warnings"`
	WarningsAsErrors   *bool    `bgrid:"warnings_as_errors"`
	DebugSymbols       *bool    `bgrid:"debug_symbols"`
	Optimization       *string  `bgrid:"optimization"`
}

type cxxCompilerArgs struct {
	LanguageStandard *string `bgrid:"language_standard"`
	StandardLibrary  *string `bgrid:"standard_library"`
	ExceptionHandler *string `bgrid:"exception_handler"`
}

type vendorArgs struct {
	AllWarnings   *bool   `bgrid:"all_warnings"`
	ExtraWarnings *bool   `bgrid:"extra_warnings"`
	Pedantic      *bool   `bgrid:"pedantic"`
	Visibility    *string `bgrid:"visibility"`
}

type visualCArgs struct {
	WarningLevel   *int    `bgrid:"warning_level"`
	RuntimeLibrary *string `bgrid:"runtime_library"`
}

type linkerArgs struct {
	Libraries    []string `bgrid:"libraries"`
	LibraryPaths []string `bgrid:"library_paths"`
	DebugSymbols *bool    `bgrid:"debug_symbols"`
}

type cxxLinkerArgs struct {
	StandardLibrary *string `bgrid:"standard_library"`
}

type linuxLinkerArgs struct {
	RPath            []string `bgrid:"rpath"`
	CanUseOrigin     *bool    `bgrid:"can_use_origin"`
	VersionScript    *string  `bgrid:"version_script"`
	SharedObjectName *string  `bgrid:"shared_object_name"`
}

type osxLinkerArgs struct {
	ExportedSymbolsList *string `bgrid:"exported_symbols_list"`
	InstallName         *string `bgrid:"install_name"`
}

type winLinkerArgs struct {
	ModuleDefinitionFile *string `bgrid:"module_definition_file"`
	SubSystem            *string `bgrid:"subsystem"`
}

type preprocessorArgs struct {
	IncludePaths []string `bgrid:"include_paths"`
	Defines      []string `bgrid:"defines"`
}

// patchStrategy registers p on the module being initialized. Values are
// resolved against the owner's macros.
func (d *declarer) patchStrategy(p *config.PatchDecl) (module.Strategy, error) {
	required := make([]settings.Capability, 0, len(p.Require))
	for _, r := range p.Require {
		c, err := settings.ParseCapability(r)
		if err != nil {
			return nil, fmt.Errorf("%w: patch %q: %w", errkind.ErrConfiguration, p.Name, err)
		}
		required = append(required, c)
	}
	for _, b := range p.Blocks {
		if _, err := settings.ParseCapability(b.Capability); err != nil {
			return nil, fmt.Errorf("%w: patch %q: %w", errkind.ErrConfiguration, p.Name, err)
		}
	}

	return func(_ module.Context, m *module.Module) error {
		fn := d.patchFunc(m, p, required)
		if p.Visibility == "public" {
			m.AddPublicPatch(fn)
		} else {
			m.AddPrivatePatch(fn)
		}
		return nil
	}, nil
}

func (d *declarer) patchFunc(owner *module.Module, p *config.PatchDecl, required []settings.Capability) patch.Func {
	return func(bag *settings.Bag, appliedTo patch.Target) error {
		env := d.opts.Env
		evalCtx := d.opts.Converter.EvalContext(map[string]cty.Value{
			"platform":      cty.StringVal(env.Platform.String()),
			"bits":          cty.NumberIntVal(int64(env.Bits)),
			"configuration": cty.StringVal(env.Configuration.String()),
			"toolchain":     cty.StringVal(string(env.Flavor)),
			"module":        cty.StringVal(appliedTo.String()),
		})
		ok, err := d.opts.Converter.EvalBool(d.ctx, p.Condition, evalCtx)
		if err != nil {
			return fmt.Errorf("%w: condition of patch %q: %w", errkind.ErrConfiguration, p.Name, err)
		}
		if !ok {
			return nil
		}
		if err := bag.Require(required...); err != nil {
			return err
		}
		a := applier{owner: owner, decode: func(target any, args map[string]hcl.Expression) error {
			return d.opts.Converter.DecodeBody(d.ctx, target, args, evalCtx)
		}}
		for _, b := range p.Blocks {
			if err := a.apply(bag, b); err != nil {
				return fmt.Errorf("%s settings: %w", b.Capability, err)
			}
		}
		return nil
	}
}

type applier struct {
	owner  *module.Module
	decode func(target any, args map[string]hcl.Expression) error
}

// apply decodes b and writes it into the matching view of bag. A block whose
// capability the bag lacks is ignored.
func (a applier) apply(bag *settings.Bag, b *config.CapabilityBlock) error {
	switch settings.Capability(b.Capability) {
	case settings.CapCompiler:
		s, ok := bag.Compiler()
		if !ok {
			return nil
		}
		var args compilerArgs
		if err := a.decode(&args, b.Arguments); err != nil {
			return err
		}
		if err := a.addPaths(&s.IncludePaths, args.IncludePaths); err != nil {
			return err
		}
		if err := a.addPaths(&s.SystemIncludePaths, args.SystemIncludePaths); err != nil {
			return err
		}
		if err := a.addDefines(&s.Defines, args.Defines); err != nil {
			return err
		}
		s.DisableWarnings.Add(args.DisableWarnings...)
		setBool(&s.WarningsAsErrors, args.WarningsAsErrors)
		setBool(&s.DebugSymbols, args.DebugSymbols)
		setString(&s.Optimization, args.Optimization)

	case settings.CapCxxCompiler:
		s, ok := bag.CxxCompiler()
		if !ok {
			return nil
		}
		var args cxxCompilerArgs
		if err := a.decode(&args, b.Arguments); err != nil {
			return err
		}
		setString(&s.LanguageStandard, args.LanguageStandard)
		setString(&s.StandardLibrary, args.StandardLibrary)
		setString(&s.ExceptionHandler, args.ExceptionHandler)

	case settings.CapClang, settings.CapGcc:
		view := bag.Gcc
		if b.Capability == string(settings.CapClang) {
			view = bag.Clang
		}
		s, ok := view()
		if !ok {
			return nil
		}
		var args vendorArgs
		if err := a.decode(&args, b.Arguments); err != nil {
			return err
		}
		setBool(&s.AllWarnings, args.AllWarnings)
		setBool(&s.ExtraWarnings, args.ExtraWarnings)
		setBool(&s.Pedantic, args.Pedantic)
		setString(&s.Visibility, args.Visibility)

	case settings.CapVisualC:
		s, ok := bag.VisualC()
		if !ok {
			return nil
		}
		var args visualCArgs
		if err := a.decode(&args, b.Arguments); err != nil {
			return err
		}
		if args.WarningLevel != nil {
			s.WarningLevel = *args.WarningLevel
		}
		setString(&s.RuntimeLibrary, args.RuntimeLibrary)

	case settings.CapLinker:
		s, ok := bag.Linker()
		if !ok {
			return nil
		}
		var args linkerArgs
		if err := a.decode(&args, b.Arguments); err != nil {
			return err
		}
		s.Libraries.Add(args.Libraries...)
		if err := a.addPaths(&s.LibraryPaths, args.LibraryPaths); err != nil {
			return err
		}
		setBool(&s.DebugSymbols, args.DebugSymbols)

	case settings.CapCxxLinker:
		s, ok := bag.CxxLinker()
		if !ok {
			return nil
		}
		var args cxxLinkerArgs
		if err := a.decode(&args, b.Arguments); err != nil {
			return err
		}
		setString(&s.StandardLibrary, args.StandardLibrary)

	case settings.CapLinuxLinker:
		s, ok := bag.LinuxLinker()
		if !ok {
			return nil
		}
		var args linuxLinkerArgs
		if err := a.decode(&args, b.Arguments); err != nil {
			return err
		}
		if err := a.addPaths(&s.RPath, args.RPath); err != nil {
			return err
		}
		setBool(&s.CanUseOrigin, args.CanUseOrigin)
		if err := a.setPath(&s.VersionScript, args.VersionScript); err != nil {
			return err
		}
		setString(&s.SharedObjectName, args.SharedObjectName)

	case settings.CapOSXLinker:
		s, ok := bag.OSXLinker()
		if !ok {
			return nil
		}
		var args osxLinkerArgs
		if err := a.decode(&args, b.Arguments); err != nil {
			return err
		}
		if err := a.setPath(&s.ExportedSymbolsList, args.ExportedSymbolsList); err != nil {
			return err
		}
		setString(&s.InstallName, args.InstallName)

	case settings.CapWinLinker:
		s, ok := bag.WinLinker()
		if !ok {
			return nil
		}
		var args winLinkerArgs
		if err := a.decode(&args, b.Arguments); err != nil {
			return err
		}
		if err := a.setPath(&s.ModuleDefinitionFile, args.ModuleDefinitionFile); err != nil {
			return err
		}
		setString(&s.SubSystem, args.SubSystem)

	case settings.CapPreprocessor:
		s, ok := bag.Preprocessor()
		if !ok {
			return nil
		}
		var args preprocessorArgs
		if err := a.decode(&args, b.Arguments); err != nil {
			return err
		}
		if err := a.addPaths(&s.IncludePaths, args.IncludePaths); err != nil {
			return err
		}
		if err := a.addDefines(&s.Defines, args.Defines); err != nil {
			return err
		}
	}
	return nil
}

func (a applier) resolve(raw string) (string, error) {
	return a.owner.Template(raw).Resolve()
}

func (a applier) addPaths(l *settings.PathList, raw []string) error {
	for _, r := range raw {
		v, err := a.resolve(r)
		if err != nil {
			return err
		}
		l.Add(v)
	}
	return nil
}

func (a applier) addDefines(d *settings.Defines, raw []string) error {
	for _, r := range raw {
		v, err := a.resolve(r)
		if err != nil {
			return err
		}
		if err := d.AddString(v); err != nil {
			return err
		}
	}
	return nil
}

func (a applier) setPath(dst *string, raw *string) error {
	if raw == nil {
		return nil
	}
	v, err := a.resolve(*raw)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
