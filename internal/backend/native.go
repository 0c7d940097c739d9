package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/metrics"
	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/toolchain"
)

// State is the lifecycle state of one module build.
type State int32

const (
	Pending State = iota
	Running
	Done
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return "pending"
}

// task is the executor's view of one module.
type task struct {
	step       graph.Step
	dependents []*task
	depCount   atomic.Int32
	state      atomic.Int32
	err        error
	skipOnce   sync.Once
}

func (t *task) id() string { return t.step.Module.ID().String() }

// Native builds modules by running the toolchain directly.
type Native struct {
	opts Options

	wg    sync.WaitGroup
	tasks []*task
}

func (n *Native) Name() string { return ModeNative }

// Failure attributes an error to the module that caused it.
type Failure struct {
	Module string
	Err    error
}

// RunError aggregates every module that failed on its own account. Modules
// skipped because of an upstream failure are listed separately.
type RunError struct {
	Failures []Failure
	Skipped  []string
}

func (e *RunError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Module
	}
	msg := fmt.Sprintf("build failed for %s: %v", strings.Join(names, ", "), e.Failures[0].Err)
	if len(e.Skipped) > 0 {
		msg += fmt.Sprintf(" (%d dependent modules skipped)", len(e.Skipped))
	}
	return msg
}

// Unwrap exposes every root cause to errors.Is and errors.As.
func (e *RunError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// States returns the final state of every module of the last Execute call.
func (n *Native) States() map[string]State {
	out := make(map[string]State, len(n.tasks))
	for _, t := range n.tasks {
		out[t.id()] = State(t.state.Load())
	}
	return out
}

// Execute builds every module of g. Independent modules build concurrently.
// A failed module skips all of its dependents while unrelated modules keep
// building.
func (n *Native) Execute(ctx context.Context, g *graph.Graph) error {
	logger := ctxlog.FromContext(ctx)

	byID := make(map[module.ID]*task, g.Len())
	n.tasks = n.tasks[:0]
	for _, step := range g.Steps() {
		t := &task{step: step}
		byID[step.Module.ID()] = t
		n.tasks = append(n.tasks, t)
	}
	for _, t := range n.tasks {
		for _, dep := range t.step.Module.Dependencies() {
			d := byID[dep]
			d.dependents = append(d.dependents, t)
			t.depCount.Add(1)
		}
	}

	readyChan := make(chan *task, len(n.tasks))

	logger.Debug("Initializing executor, finding root modules...")
	rootCount := 0
	for _, t := range n.tasks {
		if t.depCount.Load() == 0 {
			readyChan <- t
			rootCount++
		}
	}
	logger.Debug("Found all root modules.", "count", rootCount)

	n.wg.Add(len(n.tasks))

	logger.Debug("Starting worker pool.", "workers", n.opts.Workers)
	for i := 0; i < n.opts.Workers; i++ {
		go n.worker(ctx, readyChan, i)
	}

	logger.Info("Waiting for all modules to complete...", "modules", len(n.tasks))
	n.wg.Wait()
	close(readyChan)

	runErr := &RunError{}
	for _, t := range n.tasks {
		switch State(t.state.Load()) {
		case Failed:
			logger.Error("Module failed.", "module", t.id(), "error", t.err)
			runErr.Failures = append(runErr.Failures, Failure{Module: t.id(), Err: t.err})
		case Skipped:
			runErr.Skipped = append(runErr.Skipped, t.id())
		}
	}
	sort.Strings(runErr.Skipped)

	if len(runErr.Failures) > 0 {
		return runErr
	}
	if len(runErr.Skipped) > 0 {
		return fmt.Errorf("build interrupted, %d modules not built: %w", len(runErr.Skipped), ctx.Err())
	}
	logger.Info("All modules completed.")
	return nil
}

// skipDependents recursively marks all downstream modules as skipped.
func (n *Native) skipDependents(ctx context.Context, t *task) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range t.dependents {
		dependent.skipOnce.Do(func() {
			logger.Warn("Skipping dependent module due to upstream failure.", "module", dependent.id(), "dependency", t.id())
			dependent.state.Store(int32(Skipped))
			dependent.err = fmt.Errorf("skipped due to upstream failure of '%s'", t.id())
			n.opts.Metrics.ObserveModule(string(dependent.step.Module.Kind()), metrics.ResultSkipped, 0)
			n.wg.Done()
			n.skipDependents(ctx, dependent)
		})
	}
}

// worker is the core processing loop for a single concurrent worker.
func (n *Native) worker(ctx context.Context, readyChan chan *task, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for t := range readyChan {
		taskCtx, workerLogger := ctxlog.With(ctx, "workerID", workerID, "module", t.id())

		if ctx.Err() != nil {
			t.skipOnce.Do(func() {
				workerLogger.Warn("Context canceled, skipping module.")
				t.state.Store(int32(Skipped))
				t.err = ctx.Err()
				n.wg.Done()
				n.skipDependents(ctx, t)
			})
			continue
		}

		claimed := false
		t.skipOnce.Do(func() { claimed = true })
		if !claimed {
			continue
		}

		workerLogger.Debug("Worker picked up module.", "action", t.step.Action.String())
		t.state.Store(int32(Running))
		start := time.Now()
		err := n.build(taskCtx, t.step)
		kind := string(t.step.Module.Kind())

		if err != nil {
			workerLogger.Error("Module build failed.", "error", err)
			t.err = err
			t.state.Store(int32(Failed))
			n.opts.Metrics.ObserveModule(kind, metrics.ResultFailed, time.Since(start))
			n.skipDependents(ctx, t)
			n.wg.Done()
			continue
		}

		workerLogger.Debug("Module build succeeded.")
		t.state.Store(int32(Done))
		n.opts.Metrics.ObserveModule(kind, metrics.ResultSucceeded, time.Since(start))

		for _, dependent := range t.dependents {
			if dependent.depCount.Add(-1) == 0 {
				readyChan <- dependent
			}
		}
		n.wg.Done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// build runs the step of one module and checks its declared outputs.
func (n *Native) build(ctx context.Context, step graph.Step) error {
	m := step.Module
	switch step.Action {
	case graph.ActionNone:
		return nil

	case graph.ActionGenerate:
		return n.generate(m, step)

	case graph.ActionCompile:
		kind := toolchain.CCompiler
		if m.Language() == module.LangCxx {
			kind = toolchain.CxxCompiler
		}
		for _, u := range step.Units {
			inv := toolchain.Invocation{
				Kind: kind, Module: m.ID().String(), Settings: m.Settings(),
				Inputs: []string{u.Input}, Outputs: []string{u.Output},
			}
			if err := n.opts.Toolchain.Invoke(ctx, inv); err != nil {
				return err
			}
		}

	case graph.ActionLink:
		inv := toolchain.Invocation{
			Kind: toolchain.Linker, Module: m.ID().String(), Settings: m.Settings(),
			Inputs: step.Inputs, Outputs: step.Outputs, Shared: m.Kind() == module.KindDynamicLibrary,
		}
		if err := n.opts.Toolchain.Invoke(ctx, inv); err != nil {
			return err
		}

	case graph.ActionPreprocess:
		inv := toolchain.Invocation{
			Kind: toolchain.Preprocessor, Module: m.ID().String(), Settings: m.Settings(),
			Inputs: step.Inputs, Outputs: step.Outputs,
		}
		if err := n.opts.Toolchain.Invoke(ctx, inv); err != nil {
			return err
		}
		for _, out := range step.Outputs {
			if !n.exists(out) {
				return &GenerationError{Module: m.ID().String(), Output: out}
			}
		}
		return nil

	case graph.ActionCollate:
		return n.collate(m, step)
	}

	for _, out := range step.Outputs {
		if !n.exists(out) {
			return &toolchain.ToolError{
				Module: m.ID().String(),
				Tool:   toolKind(step),
				Err:    fmt.Errorf("declared output %s was not produced", out),
			}
		}
	}
	return nil
}

func toolKind(step graph.Step) toolchain.Kind {
	switch step.Action {
	case graph.ActionLink:
		return toolchain.Linker
	case graph.ActionPreprocess:
		return toolchain.Preprocessor
	}
	if step.Module.Language() == module.LangCxx {
		return toolchain.CxxCompiler
	}
	return toolchain.CCompiler
}

func (n *Native) exists(p string) bool {
	_, err := n.opts.FS.Stat(p)
	return err == nil
}

func (n *Native) generate(m *module.Module, step graph.Step) error {
	content, ok, err := m.Content()
	if len(step.Outputs) == 0 {
		return &GenerationError{Module: m.ID().String(), Output: module.OutputHeader}
	}
	out := step.Outputs[0]
	if err != nil {
		return &GenerationError{Module: m.ID().String(), Output: out, Err: err}
	}
	if !ok {
		return &GenerationError{Module: m.ID().String(), Output: out, Err: errors.New("module has no content generator")}
	}
	if err := writeIfChanged(n.opts.FS, out, []byte(content)); err != nil {
		return &GenerationError{Module: m.ID().String(), Output: out, Err: err}
	}
	return nil
}

func (n *Native) collate(m *module.Module, step graph.Step) error {
	if len(step.Outputs) == 1 {
		if err := n.opts.FS.MkdirAll(step.Outputs[0], 0o755); err != nil {
			return fmt.Errorf("collation %s: %w", m.ID(), err)
		}
	}
	for _, u := range step.Units {
		if err := copyFile(n.opts.FS, u.Input, u.Output); err != nil {
			return fmt.Errorf("collation %s: %w", m.ID(), err)
		}
	}
	return nil
}

// writeIfChanged writes data to p unless p already holds exactly data, so that
// regenerated headers do not invalidate up-to-date objects.
func writeIfChanged(fs billy.Filesystem, p string, data []byte) error {
	if f, err := fs.Open(p); err == nil {
		existing, readErr := io.ReadAll(f)
		f.Close()
		if readErr == nil && string(existing) == string(data) {
			return nil
		}
	}
	if err := fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return util.WriteFile(fs, p, data, 0o644)
}

func copyFile(fs billy.Filesystem, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
