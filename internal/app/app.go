package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/vk/buildgrid/internal/backend"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/declare"
	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/metrics"
	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/platform"
	"github.com/vk/buildgrid/internal/toolchain"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	cfg       *Config
	loader    config.Loader
	fs        billy.Filesystem
	toolchain toolchain.Toolchain
}

// Option customizes an App.
type Option func(*App)

// WithFS replaces the file system sources are globbed on and outputs are
// written to.
func WithFS(fs billy.Filesystem) Option {
	return func(a *App) { a.fs = fs }
}

// WithToolchain replaces the process toolchain.
func WithToolchain(tc toolchain.Toolchain) Option {
	return func(a *App) { a.toolchain = tc }
}

// NewApp is the constructor for the main application. It returns an App with
// its own isolated logger. Nothing is loaded until a build is prepared.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, opts ...Option) *App {
	a := &App{
		outW:   outW,
		logger: newLogger(cfg.Log, outW),
		cfg:    cfg,
		loader: loader,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.fs == nil {
		a.fs = osfs.New("/")
	}
	a.logger.Debug("Logger configured successfully.")
	return a
}

// Logger returns the application's logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// BuildContext is the state of one invocation: the environment, the macro
// defaults, the constructed graph and the selected backend. It is created
// by Prepare and released by Close.
type BuildContext struct {
	Env      platform.Environment
	Defaults map[string]string
	Registry *graph.Registry
	Graph    *graph.Graph
	Backend  backend.Backend
	Metrics  *metrics.Metrics

	status *statusServer
}

// Prepare loads the build descriptions, constructs and validates the graph
// for the configured targets and selects the backend.
func (a *App) Prepare(ctx context.Context) (*BuildContext, error) {
	return a.prepare(ctx, metrics.New())
}

// prepare records graph construction on m, which the returned context keeps.
func (a *App) prepare(ctx context.Context, m *metrics.Metrics) (*BuildContext, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	env, err := a.cfg.Environment()
	if err != nil {
		return nil, err
	}
	defaults, err := a.cfg.MacroDefaults()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Build environment selected.", "env", env.String(), "buildroot", defaults["buildroot"])

	model, converter, err := a.loader.Load(ctx, a.cfg.Paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load build descriptions: %w", err)
	}
	a.logger.Debug("Build descriptions loaded.", "packages", len(model.Packages), "modules", len(model.Modules))

	reg, err := declare.Registry(ctx, model, declare.Options{Env: env, Converter: converter, BuildRoot: defaults["buildroot"]})
	if err != nil {
		return nil, err
	}

	roots, err := a.roots(reg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	g, err := graph.Build(ctx, graph.Options{Env: env, Defaults: defaults, FS: a.fs, Registry: reg}, roots...)
	if err != nil {
		return nil, fmt.Errorf("failed to build module graph: %w", err)
	}
	m.ObserveGraph(g.Len(), time.Since(start))
	a.logger.Info("Module graph constructed.", "roots", len(roots), "modules", g.Len())

	tc := a.toolchain
	if tc == nil {
		tc, err = toolchain.NewProcess(toolchain.Config{
			Flavor:  env.Flavor,
			CC:      a.cfg.Toolchain.CC,
			CXX:     a.cfg.Toolchain.CXX,
			LD:      a.cfg.Toolchain.LD,
			Timeout: a.cfg.Toolchain.Timeout.Duration(),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
		}
	}
	be, err := backend.New(a.cfg.Build.Mode, backend.Options{
		Toolchain: tc,
		FS:        a.fs,
		Workers:   a.cfg.Build.Workers,
		Metrics:   m,
		OutputDir: defaults["buildroot"],
	})
	if err != nil {
		return nil, err
	}

	return &BuildContext{
		Env:      env,
		Defaults: defaults,
		Registry: reg,
		Graph:    g,
		Backend:  be,
		Metrics:  m,
	}, nil
}

// roots expands the configured target patterns. Without targets every
// declared module is a root.
func (a *App) roots(reg *graph.Registry) ([]module.ID, error) {
	if len(a.cfg.Build.Targets) == 0 {
		return reg.IDs(), nil
	}
	seen := make(map[module.ID]bool)
	var out []module.ID
	for _, pattern := range a.cfg.Build.Targets {
		matched := reg.Match(pattern)
		if len(matched) == 0 {
			return nil, fmt.Errorf("%w: target %q matches no declared module", errkind.ErrConfiguration, pattern)
		}
		for _, id := range matched {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// Close stops the status server.
func (bc *BuildContext) Close(ctx context.Context) error {
	return bc.status.close(ctx)
}

// Run prepares the build and realizes it with the configured backend. The
// metrics textfile is written however the run ends.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	m := metrics.New()
	prepared := false
	defer func() {
		switch {
		case err == nil:
			m.ObserveRun(metrics.ResultSucceeded)
		case prepared:
			m.ObserveRun(metrics.ResultFailed)
		default:
			m.ObserveRun(metrics.ResultRejected)
		}
		if werr := m.WriteTextfile(a.cfg.Metrics.Textfile); werr != nil {
			err = errors.Join(err, fmt.Errorf("writing metrics textfile: %w", werr))
		}
	}()

	bc, err := a.prepare(ctx, m)
	if err != nil {
		return err
	}
	prepared = true
	defer func() {
		if cerr := bc.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if addr := a.cfg.Metrics.Listen; addr != "" {
		if bc.status, err = a.startStatusServer(ctx, addr, bc.Metrics); err != nil {
			return err
		}
	}

	a.logger.Info("Starting build.", "mode", bc.Backend.Name(), "env", bc.Env.String(), "workers", a.cfg.Build.Workers)
	start := time.Now()
	if err := bc.Backend.Execute(ctx, bc.Graph); err != nil {
		return err
	}
	a.logger.Info("Build finished.", "mode", bc.Backend.Name(), "duration", time.Since(start).String())
	return nil
}

// Describe prepares the build and writes every module of the graph with its
// dependencies and outputs, in build order.
func (a *App) Describe(ctx context.Context, w io.Writer) error {
	bc, err := a.Prepare(ctx)
	if err != nil {
		return err
	}
	g := bc.Graph
	fmt.Fprintf(w, "# %s, %d modules\n", bc.Env, g.Len())
	for _, id := range g.Order() {
		m, _ := g.Module(id)
		line := id.String()
		if m.Group() != "" {
			line += " [" + m.Group() + "]"
		}
		fmt.Fprintln(w, line)

		var deps []string
		for _, d := range g.Dependencies(id) {
			deps = append(deps, d.ID().String())
		}
		sort.Strings(deps)
		if len(deps) > 0 {
			fmt.Fprintf(w, "  depends on: %s\n", strings.Join(deps, ", "))
		}
		for _, key := range m.OutputKeys() {
			out, _ := m.Output(key)
			fmt.Fprintf(w, "  %s: %s\n", key, out)
		}
	}
	return nil
}
