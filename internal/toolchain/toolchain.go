// Package toolchain is the narrow contract between the build engine and the
// external tools that compile, link and preprocess. The engine never parses
// sources itself; it hands a settings bag and file lists to a Toolchain.
package toolchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/settings"
)

// Kind selects the tool an invocation runs.
type Kind int

const (
	Preprocessor Kind = iota
	CCompiler
	CxxCompiler
	Assembler
	Linker
)

func (k Kind) String() string {
	switch k {
	case Preprocessor:
		return "preprocessor"
	case CCompiler:
		return "c-compiler"
	case CxxCompiler:
		return "cxx-compiler"
	case Assembler:
		return "assembler"
	case Linker:
		return "linker"
	}
	return fmt.Sprintf("tool(%d)", int(k))
}

// Invocation is one tool run.
type Invocation struct {
	Kind     Kind
	Module   string
	Settings *settings.Bag
	Inputs   []string
	Outputs  []string
	// Shared links a shared library instead of an executable.
	Shared bool
}

// Toolchain runs tools.
type Toolchain interface {
	// Invoke runs the tool and returns a *ToolError on failure.
	Invoke(ctx context.Context, inv Invocation) error
	// CommandLine renders the invocation without running it.
	CommandLine(inv Invocation) ([]string, error)
}

// ToolError reports a failed tool run.
type ToolError struct {
	Module string
	Tool   Kind
	Args   []string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed for %s: %v", e.Tool, e.Module, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

func (e *ToolError) Is(target error) bool { return target == errkind.ErrToolInvocation }
