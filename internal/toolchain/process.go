package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/platform"
)

// Config selects the executables a Process toolchain runs.
type Config struct {
	Flavor platform.Flavor
	// CC, CXX and LD override the default executables of the flavor.
	CC  string
	CXX string
	LD  string
	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration
}

type execFunc func(ctx context.Context, name string, args []string) ([]byte, error)

// Process runs tools as child processes.
type Process struct {
	cfg  Config
	exec execFunc
}

// NewProcess returns a toolchain for cfg, filling in flavor defaults.
func NewProcess(cfg Config) (*Process, error) {
	if _, err := platform.ParseFlavor(string(cfg.Flavor)); err != nil {
		return nil, err
	}
	switch cfg.Flavor {
	case platform.Gcc:
		cfg.CC = orDefault(cfg.CC, "gcc")
		cfg.CXX = orDefault(cfg.CXX, "g++")
		cfg.LD = orDefault(cfg.LD, cfg.CXX)
	case platform.Clang:
		cfg.CC = orDefault(cfg.CC, "clang")
		cfg.CXX = orDefault(cfg.CXX, "clang++")
		cfg.LD = orDefault(cfg.LD, cfg.CXX)
	case platform.VisualC:
		cfg.CC = orDefault(cfg.CC, "cl.exe")
		cfg.CXX = orDefault(cfg.CXX, cfg.CC)
		cfg.LD = orDefault(cfg.LD, "link.exe")
	}
	return &Process{cfg: cfg, exec: runCommand}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func runCommand(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// CommandLine renders inv as an argument vector, executable first.
func (p *Process) CommandLine(inv Invocation) ([]string, error) {
	if inv.Settings == nil {
		return nil, fmt.Errorf("%s invocation for %s has no settings", inv.Kind, inv.Module)
	}
	msvc := p.cfg.Flavor == platform.VisualC
	switch inv.Kind {
	case CCompiler, CxxCompiler, Assembler:
		if len(inv.Inputs) != 1 || len(inv.Outputs) != 1 {
			return nil, fmt.Errorf("%s invocation for %s needs exactly one input and one output", inv.Kind, inv.Module)
		}
		exe := p.cfg.CC
		if inv.Kind == CxxCompiler {
			exe = p.cfg.CXX
		}
		if msvc {
			args := append([]string{exe, "/nologo", "/c"}, msvcCompileFlags(inv.Settings)...)
			return append(args, "/Fo"+inv.Outputs[0], inv.Inputs[0]), nil
		}
		args := append([]string{exe, "-c"}, gnuCompileFlags(p.cfg.Flavor, inv.Settings)...)
		return append(args, "-o", inv.Outputs[0], inv.Inputs[0]), nil

	case Linker:
		if len(inv.Outputs) == 0 {
			return nil, fmt.Errorf("link invocation for %s has no output", inv.Module)
		}
		if msvc {
			args := []string{p.cfg.LD, "/nologo"}
			if inv.Shared {
				args = append(args, "/DLL")
				if len(inv.Outputs) > 1 {
					args = append(args, "/IMPLIB:"+inv.Outputs[1])
				}
			}
			args = append(args, msvcLinkFlags(inv.Settings)...)
			args = append(args, "/OUT:"+inv.Outputs[0])
			return append(args, inv.Inputs...), nil
		}
		args := []string{p.cfg.LD}
		if inv.Shared {
			args = append(args, "-shared")
			if p.cfg.Flavor != platform.Clang {
				args = append(args, "-fPIC")
			}
		}
		args = append(args, "-o", inv.Outputs[0])
		args = append(args, inv.Inputs...)
		return append(args, gnuLinkFlags(p.cfg.Flavor, inv.Settings)...), nil

	case Preprocessor:
		if len(inv.Inputs) != 1 || len(inv.Outputs) != 1 {
			return nil, fmt.Errorf("preprocess invocation for %s needs exactly one input and one output", inv.Module)
		}
		if msvc {
			args := append([]string{p.cfg.CC, "/nologo", "/EP", "/P"}, preprocessorFlags(true, inv.Settings)...)
			return append(args, "/Fi"+inv.Outputs[0], inv.Inputs[0]), nil
		}
		args := append([]string{p.cfg.CC, "-E", "-P", "-x", "c"}, preprocessorFlags(false, inv.Settings)...)
		return append(args, "-o", inv.Outputs[0], inv.Inputs[0]), nil
	}
	return nil, fmt.Errorf("unsupported tool %s", inv.Kind)
}

// Invoke runs inv, creating output directories first.
func (p *Process) Invoke(ctx context.Context, inv Invocation) error {
	args, err := p.CommandLine(inv)
	if err != nil {
		return &ToolError{Module: inv.Module, Tool: inv.Kind, Err: err}
	}
	for _, out := range inv.Outputs {
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return &ToolError{Module: inv.Module, Tool: inv.Kind, Args: args, Err: err}
		}
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	ctxlog.FromContext(ctx).Debug("Running tool.", "module", inv.Module, "tool", inv.Kind.String(), "args", args)
	out, err := p.exec(ctx, args[0], args[1:])
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", p.cfg.Timeout, err)
		}
		return &ToolError{Module: inv.Module, Tool: inv.Kind, Args: args, Output: string(out), Err: err}
	}
	return nil
}
