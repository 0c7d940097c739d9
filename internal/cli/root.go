package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vk/buildgrid/internal/app"
	"github.com/vk/buildgrid/internal/config"
)

// Version is stamped at link time.
var Version = "dev"

func newRootCommand(outW io.Writer, loader config.Loader) *cobra.Command {
	root := &cobra.Command{
		Use:   "buildgrid",
		Short: "buildgrid is a declarative build-description engine for C and C++ projects",
		Long: `buildgrid reads HCL build descriptions, constructs a validated module graph
for one (platform, bits, configuration, toolchain) environment and realizes it
natively, as a GNU makefile or as Visual Studio projects.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newBuildCommand(outW, loader),
		newGraphCommand(outW, loader),
		newModesCommand(),
		newVersionCommand(),
	)
	return root
}

// buildFlags holds the flags shared by commands that construct a graph.
type buildFlags struct {
	settings      string
	mode          string
	configuration string
	platform      string
	bits          int
	workers       int
	buildRoot     string
	targets       []string
	flavor        string
	cc            string
	cxx           string
	ld            string
	toolTimeout   time.Duration
	macros        map[string]string
	logLevel      string
	logFormat     string
	textfile      string
	listen        string
}

func (f *buildFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.settings, "settings", "", "Settings file (default ./"+app.DefaultSettingsFile+" if present).")
	fl.StringVarP(&f.mode, "mode", "m", "", "Backend: native, makefile or vsproject.")
	fl.StringVarP(&f.configuration, "configuration", "c", "", "Configuration: debug, profile, optimized or final.")
	fl.StringVar(&f.platform, "platform", "", "Target platform: windows, linux or osx.")
	fl.IntVar(&f.bits, "bits", 0, "Target bit width: 32 or 64.")
	fl.IntVarP(&f.workers, "workers", "j", 0, "Number of concurrent module builds.")
	fl.StringVar(&f.buildRoot, "build-root", "", "Directory every package builds into.")
	fl.StringSliceVarP(&f.targets, "target", "t", nil, "Module pattern to build, e.g. 'console_application.*'. Repeatable.")
	fl.StringVar(&f.flavor, "toolchain", "", "Toolchain flavor: gcc, clang or visualc.")
	fl.StringVar(&f.cc, "cc", "", "C compiler executable.")
	fl.StringVar(&f.cxx, "cxx", "", "C++ compiler executable.")
	fl.StringVar(&f.ld, "ld", "", "Linker executable.")
	fl.DurationVar(&f.toolTimeout, "tool-timeout", 0, "Timeout of a single tool invocation. 0 is unlimited.")
	fl.StringToStringVarP(&f.macros, "define", "D", nil, "Extra macro default as name=value. Repeatable.")
	fl.StringVar(&f.logLevel, "log-level", "", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fl.StringVar(&f.logFormat, "log-format", "", "Log output format. Options: 'text' or 'json'.")
	fl.StringVar(&f.textfile, "metrics-textfile", "", "Write build metrics to this file on exit.")
	fl.StringVar(&f.listen, "metrics-listen", "", "Serve /metrics and /health on this address during the build.")
}

// config layers the settings file and the changed flags over the defaults.
func (f *buildFlags) config(cmd *cobra.Command, paths []string) (*app.Config, error) {
	cfg := app.DefaultConfig()
	if f.settings != "" {
		if err := cfg.LoadFile(f.settings, true); err != nil {
			return nil, err
		}
	} else if err := cfg.LoadFile(app.DefaultSettingsFile, false); err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("mode") {
		cfg.Build.Mode = f.mode
	}
	if changed("configuration") {
		cfg.Build.Configuration = f.configuration
	}
	if changed("platform") {
		cfg.Build.Platform = f.platform
	}
	if changed("bits") {
		cfg.Build.Bits = f.bits
	}
	if changed("workers") {
		cfg.Build.Workers = f.workers
	}
	if changed("build-root") {
		cfg.Build.BuildRoot = f.buildRoot
	}
	if changed("target") {
		cfg.Build.Targets = f.targets
	}
	if changed("toolchain") {
		cfg.Toolchain.Flavor = f.flavor
	}
	if changed("cc") {
		cfg.Toolchain.CC = f.cc
	}
	if changed("cxx") {
		cfg.Toolchain.CXX = f.cxx
	}
	if changed("ld") {
		cfg.Toolchain.LD = f.ld
	}
	if changed("tool-timeout") {
		cfg.Toolchain.Timeout = app.Duration(f.toolTimeout)
	}
	for k, v := range f.macros {
		cfg.Macros[k] = v
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if changed("metrics-textfile") {
		cfg.Metrics.Textfile = f.textfile
	}
	if changed("metrics-listen") {
		cfg.Metrics.Listen = f.listen
	}
	cfg.Paths = paths
	return cfg, cfg.Validate()
}
