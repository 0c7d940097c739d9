// Package artifact implements derived files whose content or location
// depends on the target environment: linker export definitions selected per
// (platform, bits, configuration), and procedural version headers.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/patch"
	"github.com/vk/buildgrid/internal/platform"
	"github.com/vk/buildgrid/internal/settings"
)

// Format is the kind of export file a platform's linker consumes.
type Format string

const (
	FormatModuleDefinition Format = "module_definition"
	FormatVersionScript    Format = "version_script"
	FormatExportedSymbols  Format = "exported_symbols"
)

// FormatFor returns the export format used on a single platform.
func FormatFor(p platform.Platform) Format {
	switch p {
	case platform.Windows:
		return FormatModuleDefinition
	case platform.OSX:
		return FormatExportedSymbols
	default:
		return FormatVersionScript
	}
}

// OutputTemplate returns the output path template of an export file.
func (f Format) OutputTemplate() string {
	switch f {
	case FormatModuleDefinition:
		return "$(packagebuilddir)/$(config)/$(OutputName).def"
	case FormatExportedSymbols:
		return "$(packagebuilddir)/$(config)/$(OutputName).exp"
	default:
		return "$(packagebuilddir)/$(config)/$(OutputName).ver"
	}
}

// Rule maps an environment to the source an export file is preprocessed
// from. Zero Bits or Configurations match any value.
type Rule struct {
	Platform       platform.Platform
	Bits           int
	Configurations platform.Configuration
	Source         string
}

func (r Rule) matches(env platform.Environment) bool {
	if !r.Platform.Includes(env.Platform) {
		return false
	}
	if r.Bits != 0 && r.Bits != env.Bits {
		return false
	}
	if r.Configurations != 0 && !r.Configurations.Includes(env.Configuration) {
		return false
	}
	return true
}

func (r Rule) String() string {
	bits := "any"
	if r.Bits != 0 {
		bits = fmt.Sprint(r.Bits)
	}
	cfg := "any"
	if r.Configurations != 0 {
		cfg = r.Configurations.String()
	}
	return fmt.Sprintf("%s/%s/%s -> %s", r.Platform, bits, cfg, r.Source)
}

// Table is an ordered list of export rules.
type Table []Rule

// UnmatchedPlatformError is returned when no rule matches the environment.
type UnmatchedPlatformError struct {
	Env platform.Environment
}

func (e *UnmatchedPlatformError) Error() string {
	return fmt.Sprintf("no export definition rule matches %s", e.Env)
}

func (e *UnmatchedPlatformError) Is(target error) bool { return target == errkind.ErrConfiguration }

// AmbiguousRuleError is returned when more than one rule matches.
type AmbiguousRuleError struct {
	Env     platform.Environment
	Matches []Rule
}

func (e *AmbiguousRuleError) Error() string {
	rules := make([]string, len(e.Matches))
	for i, r := range e.Matches {
		rules[i] = r.String()
	}
	return fmt.Sprintf("export definition rules are ambiguous for %s: %s", e.Env, strings.Join(rules, "; "))
}

func (e *AmbiguousRuleError) Is(target error) bool { return target == errkind.ErrConfiguration }

// Select returns the single rule matching env.
func (t Table) Select(env platform.Environment) (Rule, error) {
	var matches []Rule
	for _, r := range t {
		if r.matches(env) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return Rule{}, &UnmatchedPlatformError{Env: env}
	case 1:
		return matches[0], nil
	}
	return Rule{}, &AmbiguousRuleError{Env: env, Matches: matches}
}

// ExportDefinitions selects the rule for the build environment and creates a
// preprocessed-file module "<owner>.export" that produces the export file
// under the "export" output key. The owner's source collections depend on the
// artifact, and the owner's link settings read the artifact's output. It must
// run after the owner's Sources strategies.
func ExportDefinitions(table Table) module.Strategy {
	return func(ctx module.Context, owner *module.Module) error {
		rule, err := table.Select(ctx.Env())
		if err != nil {
			return fmt.Errorf("export definitions of %s: %w", owner.ID(), err)
		}
		format := FormatFor(ctx.Env().Platform)
		outputName, _ := owner.Macro("OutputName")

		id := module.ID{Type: string(module.KindPreprocessedFile), Name: owner.ID().Label() + ".export"}
		art, err := ctx.NewChild(owner, id, module.KindPreprocessedFile, func(_ module.Context, a *module.Module) error {
			a.SetMacro("OutputName", outputName)
			src, err := a.Template(rule.Source).Resolve()
			if err != nil {
				return err
			}
			a.AddInputs(src)
			srcDir := filepath.Dir(src)
			a.AddPrivatePatch(func(bag *settings.Bag, _ patch.Target) error {
				if p, ok := bag.Preprocessor(); ok {
					p.IncludePaths.Add(srcDir)
				}
				return nil
			})
			return a.RegisterOutput(module.OutputExport, a.Template(format.OutputTemplate()))
		})
		if err != nil {
			return err
		}

		var wired bool
		for _, child := range owner.Children() {
			if child.Kind() == module.KindSourceCollection {
				child.DependsOn(art)
				wired = true
			}
		}
		if !wired {
			owner.DependsOn(art)
		}

		owner.AddPrivatePatch(func(bag *settings.Bag, _ patch.Target) error {
			out, ok := art.Output(module.OutputExport)
			if !ok {
				return fmt.Errorf("%s registered no %q output", art.ID(), module.OutputExport)
			}
			return ApplyExportFile(bag, format, out)
		})
		return nil
	}
}

// ApplyExportFile points the platform linker setting matching format at path.
func ApplyExportFile(bag *settings.Bag, format Format, path string) error {
	switch format {
	case FormatModuleDefinition:
		if w, ok := bag.WinLinker(); ok {
			w.ModuleDefinitionFile = path
			return nil
		}
	case FormatVersionScript:
		if l, ok := bag.LinuxLinker(); ok {
			l.VersionScript = path
			return nil
		}
	case FormatExportedSymbols:
		if o, ok := bag.OSXLinker(); ok {
			o.ExportedSymbolsList = path
			return nil
		}
	}
	return bag.Require(requiredCapability(format))
}

func requiredCapability(f Format) settings.Capability {
	switch f {
	case FormatModuleDefinition:
		return settings.CapWinLinker
	case FormatExportedSymbols:
		return settings.CapOSXLinker
	}
	return settings.CapLinuxLinker
}
