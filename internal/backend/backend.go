// Package backend realizes a constructed module graph. The set of backends is
// closed: native runs the tools directly, makefile emits a GNU makefile, and
// vsproject emits MSBuild project files. Every backend consumes the same graph
// and reads module outputs by key.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/metrics"
	"github.com/vk/buildgrid/internal/toolchain"
)

// Backend modes.
const (
	ModeNative    = "native"
	ModeMakefile  = "makefile"
	ModeVSProject = "vsproject"
)

// Modes lists every supported mode.
func Modes() []string {
	return []string{ModeNative, ModeMakefile, ModeVSProject}
}

// Backend realizes a graph.
type Backend interface {
	Name() string
	Execute(ctx context.Context, g *graph.Graph) error
}

// Options are shared by every backend.
type Options struct {
	Toolchain toolchain.Toolchain
	FS        billy.Filesystem
	// Workers bounds concurrent module builds and file emission.
	Workers int
	Metrics *metrics.Metrics
	// OutputDir receives emitted build files.
	OutputDir string
}

// UnknownModeError is returned for a mode outside the closed set.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown build mode %q, expected one of %s", e.Mode, strings.Join(Modes(), ", "))
}

func (e *UnknownModeError) Is(target error) bool { return target == errkind.ErrConfiguration }

// ValidateMode fails fast on an unknown mode.
func ValidateMode(mode string) error {
	for _, m := range Modes() {
		if m == mode {
			return nil
		}
	}
	return &UnknownModeError{Mode: mode}
}

// New returns the backend for mode.
func New(mode string, opts Options) (Backend, error) {
	if err := ValidateMode(mode); err != nil {
		return nil, err
	}
	if opts.FS == nil {
		return nil, fmt.Errorf("%s backend needs a file system", mode)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	switch mode {
	case ModeNative:
		if opts.Toolchain == nil {
			return nil, fmt.Errorf("%s backend needs a toolchain", mode)
		}
		return &Native{opts: opts}, nil
	case ModeMakefile:
		if opts.Toolchain == nil {
			return nil, fmt.Errorf("%s backend needs a toolchain", mode)
		}
		return &Makefile{opts: opts}, nil
	default:
		return &VSProject{opts: opts}, nil
	}
}

// GenerationError is returned when a generation step did not produce its
// declared output.
type GenerationError struct {
	Module string
	Output string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generating %s for %s: %v", e.Output, e.Module, e.Err)
	}
	return fmt.Sprintf("generation for %s produced no %s", e.Module, e.Output)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == errkind.ErrGeneration }
