// This file contains the logic for translating HCL schema structs (from
// schema.go) into the format-agnostic build description model defined in
// the config package.

package hcl

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
)

// translatePackage derives the package of file. Without a package block the
// file name names the package.
func translatePackage(file string, block *PackageBlock) (*config.Package, error) {
	pkg := &config.Package{
		Name: strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)),
		Dir:  filepath.ToSlash(filepath.Dir(file)),
		File: file,
	}
	if block == nil {
		return pkg, nil
	}
	if block.Name == "" {
		return nil, fmt.Errorf("%s: package name cannot be empty", file)
	}
	pkg.Name = block.Name
	pkg.Version = block.Version
	pkg.Macros = block.Macros
	return pkg, nil
}

// translateBody converts a module or template block into the agnostic body.
func (l *Loader) translateBody(ctx context.Context, b *ModuleBlock) (config.Body, error) {
	body := config.Body{
		Group:            b.Group,
		Macros:           b.Macros,
		Headers:          b.Headers,
		DependsOn:        b.DependsOn,
		UsePublicPatches: b.UsePublicPatches,
		LinkAgainst:      b.LinkAgainst,
		Output:           b.Output,
		Inputs:           b.Inputs,
	}

	for _, s := range b.Sources {
		src := &config.SourceDecl{
			Name:      s.Name,
			Language:  s.Language,
			Files:     s.Files,
			DependsOn: s.DependsOn,
		}
		for _, p := range s.Patches {
			patch, err := l.translatePatch(ctx, p)
			if err != nil {
				return config.Body{}, fmt.Errorf("sources %q: %w", s.Name, err)
			}
			src.Patches = append(src.Patches, patch)
		}
		body.Sources = append(body.Sources, src)
	}

	for _, p := range b.Patches {
		patch, err := l.translatePatch(ctx, p)
		if err != nil {
			return config.Body{}, err
		}
		body.Patches = append(body.Patches, patch)
	}

	if b.Export != nil {
		if len(b.Export.Rules) == 0 {
			return config.Body{}, fmt.Errorf("export block has no rule")
		}
		exp := &config.ExportDecl{}
		for _, r := range b.Export.Rules {
			exp.Rules = append(exp.Rules, &config.ExportRuleDecl{
				Platform:       r.Platform,
				Bits:           r.Bits,
				Configurations: r.Configurations,
				Source:         r.Source,
			})
		}
		body.Export = exp
	}

	if b.Version != nil {
		body.Version = &config.VersionDecl{Prefix: b.Version.Prefix, Version: b.Version.Version, Body: b.Version.Body}
	}

	for _, inc := range b.Includes {
		body.Collate = append(body.Collate, &config.IncludeDecl{Pattern: inc.Pattern, Key: inc.Key})
	}
	return body, nil
}

// translatePatch keeps the condition and every capability block as raw
// expressions for evaluation at patch time.
func (l *Loader) translatePatch(ctx context.Context, p *PatchBlock) (*config.PatchDecl, error) {
	visibility := p.Visibility
	if visibility == "" {
		visibility = "private"
	}
	if visibility != "private" && visibility != "public" {
		return nil, fmt.Errorf("patch %q: visibility must be \"private\" or \"public\", got %q", p.Name, visibility)
	}

	decl := &config.PatchDecl{
		Name:       p.Name,
		Visibility: visibility,
		Require:    p.Require,
	}
	if present(p.Condition) {
		decl.Condition = p.Condition
		ctxlog.FromContext(ctx).Debug("Patch is conditional.", "patch", p.Name, "range", p.Condition.Range().String())
	}

	blocks := []struct {
		name string
		args *ArgsBlock
	}{
		{"compiler", p.Compiler},
		{"cxx_compiler", p.CxxCompiler},
		{"clang", p.Clang},
		{"gcc", p.Gcc},
		{"visualc", p.VisualC},
		{"linker", p.Linker},
		{"cxx_linker", p.CxxLinker},
		{"linux_linker", p.LinuxLinker},
		{"osx_linker", p.OSXLinker},
		{"win_linker", p.WinLinker},
		{"preprocessor", p.Preprocessor},
	}
	for _, b := range blocks {
		if b.args == nil {
			continue
		}
		args, err := extractBodyAttributes(b.args)
		if err != nil {
			return nil, fmt.Errorf("patch %q, %s block: %w", p.Name, b.name, err)
		}
		decl.Blocks = append(decl.Blocks, &config.CapabilityBlock{Capability: b.name, Arguments: args})
	}
	return decl, nil
}

// extractBodyAttributes converts a capability block body into a map of expressions.
func extractBodyAttributes(block *ArgsBlock) (map[string]hcl.Expression, error) {
	if block == nil || block.Body == nil {
		return nil, nil
	}
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	exprMap := make(map[string]hcl.Expression, len(attrs))
	for name, attr := range attrs {
		exprMap[name] = attr.Expr
	}
	return exprMap, nil
}

// present reports whether expr was written in the source. gohcl fills an
// omitted optional attribute with a zero-width placeholder expression.
func present(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	return r.End.Byte > r.Start.Byte
}
