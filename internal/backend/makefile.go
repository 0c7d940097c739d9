package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/util"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/toolchain"
)

// MakefileName is the file the makefile backend writes into OutputDir.
const MakefileName = "Makefile"

// Makefile emits a GNU makefile with one rule per produced file.
type Makefile struct {
	opts Options
}

func (b *Makefile) Name() string { return ModeMakefile }

// Execute renders the makefile for g and writes it to OutputDir.
func (b *Makefile) Execute(ctx context.Context, g *graph.Graph) error {
	logger := ctxlog.FromContext(ctx)
	text, err := b.Render(g)
	if err != nil {
		return err
	}
	path := filepath.Join(b.opts.OutputDir, MakefileName)
	if err := b.opts.FS.MkdirAll(b.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", b.opts.OutputDir, err)
	}
	if err := util.WriteFile(b.opts.FS, path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	logger.Info("Makefile written.", "path", path, "modules", g.Len())
	return nil
}

type makeRule struct {
	targets []string
	prereqs []string
	recipe  []string
	comment string
}

// Render returns the makefile text for g.
func (b *Makefile) Render(g *graph.Graph) (string, error) {
	steps := make(map[module.ID]graph.Step, g.Len())
	for _, s := range g.Steps() {
		steps[s.Module.ID()] = s
	}

	var rules []makeRule
	var all, clean []string
	for _, step := range g.Steps() {
		prereqs := b.dependencyOutputs(g, steps, step.Module)
		produced, err := b.rulesFor(step, prereqs)
		if err != nil {
			return "", err
		}
		for _, r := range produced {
			all = append(all, r.targets...)
			clean = append(clean, r.targets...)
		}
		rules = append(rules, produced...)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Generated by buildgrid for %s. Do not edit.\n\n", g.Env())
	sb.WriteString(".PHONY: all clean\n\n")
	fmt.Fprintf(&sb, "all: %s\n\n", strings.Join(makePaths(all), " "))
	for _, r := range rules {
		if r.comment != "" {
			fmt.Fprintf(&sb, "# %s\n", r.comment)
		}
		fmt.Fprintf(&sb, "%s: %s\n", strings.Join(makePaths(r.targets), " "), strings.Join(makePaths(r.prereqs), " "))
		for _, line := range r.recipe {
			fmt.Fprintf(&sb, "\t%s\n", line)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("clean:\n")
	for _, t := range clean {
		fmt.Fprintf(&sb, "\trm -f %s\n", shellQuote(makeEscape(t)))
	}
	return sb.String(), nil
}

func (b *Makefile) rulesFor(step graph.Step, prereqs []string) ([]makeRule, error) {
	m := step.Module
	label := m.ID().String()
	switch step.Action {
	case graph.ActionCompile:
		kind := toolchain.CCompiler
		if m.Language() == module.LangCxx {
			kind = toolchain.CxxCompiler
		}
		var rules []makeRule
		for _, u := range step.Units {
			args, err := b.opts.Toolchain.CommandLine(toolchain.Invocation{
				Kind: kind, Module: label, Settings: m.Settings(),
				Inputs: []string{u.Input}, Outputs: []string{u.Output},
			})
			if err != nil {
				return nil, err
			}
			rules = append(rules, makeRule{
				targets: []string{u.Output},
				prereqs: append([]string{u.Input}, prereqs...),
				recipe:  []string{"@mkdir -p $(@D)", shellCommand(args)},
				comment: label,
			})
		}
		return rules, nil

	case graph.ActionLink, graph.ActionPreprocess:
		kind := toolchain.Linker
		if step.Action == graph.ActionPreprocess {
			kind = toolchain.Preprocessor
		}
		if len(step.Outputs) == 0 {
			return nil, nil
		}
		args, err := b.opts.Toolchain.CommandLine(toolchain.Invocation{
			Kind: kind, Module: label, Settings: m.Settings(),
			Inputs: step.Inputs, Outputs: step.Outputs, Shared: m.Kind() == module.KindDynamicLibrary,
		})
		if err != nil {
			return nil, err
		}
		rules := []makeRule{{
			targets: step.Outputs[:1],
			prereqs: uniqueStrings(append(append([]string(nil), step.Inputs...), prereqs...)),
			recipe:  []string{"@mkdir -p $(@D)", shellCommand(args)},
			comment: label,
		}}
		for _, extra := range step.Outputs[1:] {
			rules = append(rules, makeRule{targets: []string{extra}, prereqs: step.Outputs[:1]})
		}
		return rules, nil

	case graph.ActionGenerate:
		content, ok, err := m.Content()
		if err != nil || !ok || len(step.Outputs) == 0 {
			if err == nil {
				err = fmt.Errorf("module has no content generator")
			}
			return nil, &GenerationError{Module: label, Output: module.OutputHeader, Err: err}
		}
		recipe := []string{"@mkdir -p $(@D)"}
		lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
		for i, line := range lines {
			redirect := ">>"
			if i == 0 {
				redirect = ">"
			}
			recipe = append(recipe, fmt.Sprintf("@printf '%%s\\n' %s %s $@", shellQuote(makeEscape(line)), redirect))
		}
		return []makeRule{{targets: step.Outputs, prereqs: prereqs, recipe: recipe, comment: label}}, nil

	case graph.ActionCollate:
		var rules []makeRule
		for _, u := range step.Units {
			rules = append(rules, makeRule{
				targets: []string{u.Output},
				prereqs: []string{u.Input},
				recipe:  []string{"@mkdir -p $(@D)", "cp $< $@"},
				comment: label,
			})
		}
		return rules, nil
	}
	return nil, nil
}

// dependencyOutputs lists the files produced by m's dependencies. Modules
// that produce nothing are looked through.
func (b *Makefile) dependencyOutputs(g *graph.Graph, steps map[module.ID]graph.Step, m *module.Module) []string {
	seen := map[module.ID]bool{}
	var out []string
	var visit func(cur *module.Module)
	visit = func(cur *module.Module) {
		for _, dep := range g.Dependencies(cur.ID()) {
			if seen[dep.ID()] {
				continue
			}
			seen[dep.ID()] = true
			s := steps[dep.ID()]
			switch s.Action {
			case graph.ActionNone:
				visit(dep)
			case graph.ActionCollate:
				for _, u := range s.Units {
					out = append(out, u.Output)
				}
			default:
				out = append(out, s.Outputs...)
			}
		}
	}
	visit(m)
	return out
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func makePaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = strings.ReplaceAll(makeEscape(p), " ", `\ `)
	}
	return out
}

func makeEscape(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

func shellCommand(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(makeEscape(a))
	}
	return strings.Join(quoted, " ")
}

// shellQuote single-quotes s when it holds anything the shell would
// interpret.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:+,@%", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
