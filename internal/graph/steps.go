package graph

import (
	"path/filepath"

	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/platform"
)

// Action is what a backend has to do to build one module.
type Action int

const (
	ActionNone Action = iota
	ActionCompile
	ActionLink
	ActionPreprocess
	ActionGenerate
	ActionCollate
)

func (a Action) String() string {
	switch a {
	case ActionCompile:
		return "compile"
	case ActionLink:
		return "link"
	case ActionPreprocess:
		return "preprocess"
	case ActionGenerate:
		return "generate"
	case ActionCollate:
		return "collate"
	}
	return "none"
}

// Unit pairs one input with the output it produces.
type Unit struct {
	Input  string
	Output string
}

// Step is the backend view of one module.
type Step struct {
	Module  *module.Module
	Action  Action
	Inputs  []string
	Outputs []string
	// Units lists per-source compilations for compile steps and per-file
	// copies for collations.
	Units []Unit
}

// Steps returns one step per module, in build order.
func (g *Graph) Steps() []Step {
	steps := make([]Step, 0, len(g.order))
	for _, m := range g.Modules() {
		steps = append(steps, g.StepFor(m))
	}
	return steps
}

// StepFor derives the step that builds m.
func (g *Graph) StepFor(m *module.Module) Step {
	s := Step{Module: m}
	switch m.Kind() {
	case module.KindSourceCollection:
		s.Action = ActionCompile
		s.Inputs = m.Inputs()
		s.Outputs = m.OutputsWithPrefix(module.OutputObject)
		for i, in := range s.Inputs {
			if i < len(s.Outputs) {
				s.Units = append(s.Units, Unit{Input: in, Output: s.Outputs[i]})
			}
		}
	case module.KindDynamicLibrary, module.KindConsoleApplication:
		s.Action = ActionLink
		s.Inputs = g.linkInputs(m)
		for _, key := range m.OutputKeys() {
			out, _ := m.Output(key)
			s.Outputs = append(s.Outputs, out)
		}
	case module.KindPreprocessedFile:
		s.Action = ActionPreprocess
		s.Inputs = m.Inputs()
		if out, ok := m.Output(module.OutputExport); ok {
			s.Outputs = []string{out}
		}
	case module.KindProceduralHeader:
		s.Action = ActionGenerate
		if out, ok := m.Output(module.OutputHeader); ok {
			s.Outputs = []string{out}
		}
	case module.KindCollation:
		s.Action = ActionCollate
		dir, _ := m.Output(module.OutputPublish)
		s.Outputs = []string{dir}
		for _, inc := range m.Inclusions() {
			for _, id := range g.registry.Match(inc.Pattern) {
				src, ok := g.modules[id]
				if !ok || src.ID() == m.ID() {
					continue
				}
				in, ok := src.Output(inc.Key)
				if !ok {
					continue
				}
				s.Inputs = append(s.Inputs, in)
				s.Units = append(s.Units, Unit{Input: in, Output: filepath.Join(dir, baseName(in))})
			}
		}
	}
	return s
}

// linkInputs lists the objects of m's source collections followed by the
// binaries of the libraries m links against.
func (g *Graph) linkInputs(m *module.Module) []string {
	var inputs []string
	for _, child := range m.Children() {
		if child.Kind() == module.KindSourceCollection {
			inputs = append(inputs, child.OutputsWithPrefix(module.OutputObject)...)
		}
	}
	for _, id := range m.LinkedLibraries() {
		lib, ok := g.modules[id]
		if !ok {
			continue
		}
		if g.env.Platform == platform.Windows {
			if p, ok := lib.Output(module.OutputImportLib); ok {
				inputs = append(inputs, p)
				continue
			}
		}
		if p, ok := lib.Output(module.OutputDynamic); ok {
			inputs = append(inputs, p)
		}
	}
	return inputs
}

func baseName(p string) string {
	return filepath.Base(filepath.FromSlash(p))
}
