package cli

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/errkind"
)

// Exit codes.
const (
	ExitBuildFailure = 1
	ExitUsage        = 2
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// Run parses args, executes the selected command and returns nil or an
// *ExitError. Output and logs go to outW.
func Run(ctx context.Context, args []string, outW io.Writer, loader config.Loader) error {
	root := newRootCommand(outW, loader)
	root.SetArgs(args)
	root.SetOut(outW)
	root.SetErr(outW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Message: err.Error(), Err: err}
	})

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return &ExitError{Code: exitCode(err), Message: err.Error(), Err: err}
}

// exitCode maps configuration problems to the usage code and everything
// else to a build failure.
func exitCode(err error) int {
	if errors.Is(err, errkind.ErrConfiguration) || errors.Is(err, errkind.ErrCyclicDependency) {
		return ExitUsage
	}
	return ExitBuildFailure
}
