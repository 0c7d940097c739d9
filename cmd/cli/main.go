// Command buildgrid constructs a module graph from HCL build descriptions
// and hands it to a build backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/buildgrid/internal/cli"
	"github.com/vk/buildgrid/internal/hcl"
)

func main() {
	// Replaced once the settings are known.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	os.Exit(report(os.Stderr, run(os.Stdout, os.Args[1:])))
}

// run executes one command line, turning a panic into an error.
func run(outW io.Writer, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("buildgrid panicked: %v", r)
		}
	}()
	return cli.Run(context.Background(), args, outW, hcl.NewLoader())
}

// report prints err to errW and returns the process exit code for it.
func report(errW io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(errW, exitErr.Message)
		return exitErr.Code
	}
	fmt.Fprintln(errW, err)
	return cli.ExitBuildFailure
}
