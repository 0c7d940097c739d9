package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/vk/buildgrid/internal/app"
	"github.com/vk/buildgrid/internal/backend"
	"github.com/vk/buildgrid/internal/config"
)

func newBuildCommand(outW io.Writer, loader config.Loader) *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "build [flags] PATH...",
		Short: "Construct the module graph and realize it with the selected backend",
		Long: `Build loads every .hcl build description under PATH, constructs the module
graph for the selected environment and hands it to the backend.

A failing module skips its dependents; independent modules still build.`,
		Args: requirePaths,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(cmd, args)
			if err != nil {
				return err
			}
			slog.Debug("Configuration assembled.", "mode", cfg.Build.Mode, "paths", cfg.Paths)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return app.NewApp(outW, cfg, loader).Run(ctx)
		},
	}
	flags.register(cmd)
	return cmd
}

func requirePaths(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return &ExitError{Code: ExitUsage, Message: "at least one build description path is required"}
	}
	return nil
}

func newGraphCommand(outW io.Writer, loader config.Loader) *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "graph [flags] PATH...",
		Short: "Print the resolved modules with their dependencies and outputs",
		Args:  requirePaths,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(cmd, args)
			if err != nil {
				return err
			}
			return app.NewApp(cmd.ErrOrStderr(), cfg, loader).Describe(cmd.Context(), outW)
		},
	}
	flags.register(cmd)
	return cmd
}

func newModesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List the available backends",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, m := range backend.Modes() {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the buildgrid version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "buildgrid %s\n", Version)
		},
	}
}
