package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/buildgrid/internal/artifact"
	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/metrics"
	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/platform"
	"github.com/vk/buildgrid/internal/toolchain"
)

var linux64 = platform.Environment{Platform: platform.Linux, Bits: 64, Configuration: platform.Debug, Flavor: platform.Gcc}

func id(s string) module.ID {
	parsed, err := module.ParseID(s)
	if err != nil {
		panic(err)
	}
	return parsed
}

// fakeToolchain writes every declared output unless the module is marked
// as failing.
type fakeToolchain struct {
	fs   billy.Filesystem
	fail map[string]bool
	skip map[string]bool

	mu    sync.Mutex
	calls []toolchain.Invocation
}

func newFakeToolchain(fs billy.Filesystem) *fakeToolchain {
	return &fakeToolchain{fs: fs, fail: map[string]bool{}, skip: map[string]bool{}}
}

func (f *fakeToolchain) Invoke(_ context.Context, inv toolchain.Invocation) error {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()

	if f.fail[inv.Module] {
		return &toolchain.ToolError{Module: inv.Module, Tool: inv.Kind, Output: "error: boom", Err: errors.New("exit status 1")}
	}
	if f.skip[inv.Module] {
		return nil
	}
	for _, out := range inv.Outputs {
		if err := f.fs.MkdirAll(path.Dir(out), 0o755); err != nil {
			return err
		}
		if err := util.WriteFile(f.fs, out, []byte(inv.Kind.String()), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeToolchain) CommandLine(inv toolchain.Invocation) ([]string, error) {
	args := []string{inv.Kind.String()}
	if len(inv.Outputs) > 0 {
		args = append(args, "-o", inv.Outputs[0])
	}
	return append(args, inv.Inputs...), nil
}

func (f *fakeToolchain) invokedModules() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Module)
	}
	sort.Strings(out)
	return out
}

func library(name string) graph.Definition {
	return graph.Definition{ID: id("dynamic_library." + name), Kind: module.KindDynamicLibrary, Strategies: []module.Strategy{
		module.Sources("source", module.LangCxx, []string{"$(packagedir)/" + name + ".cpp"}),
		module.DynamicLibraryOutputs(),
	}}
}

func application(name string, libs ...module.ID) graph.Definition {
	return applicationWith(name, nil, libs...)
}

// applicationWith passes sourceExtra to the application's source collection.
func applicationWith(name string, sourceExtra []module.Strategy, libs ...module.ID) graph.Definition {
	strategies := []module.Strategy{
		module.Sources("source", module.LangCxx, []string{"$(packagedir)/" + name + ".cpp"}, sourceExtra...),
	}
	if len(libs) > 0 {
		strategies = append(strategies, module.CompileAndLinkAgainst(libs...))
	}
	strategies = append(strategies, module.ExecutableOutput())
	return graph.Definition{ID: id("console_application." + name), Kind: module.KindConsoleApplication, Strategies: strategies}
}

func buildGraph(t *testing.T, fs billy.Filesystem, env platform.Environment, roots []module.ID, defs ...graph.Definition) *graph.Graph {
	t.Helper()
	reg := graph.NewRegistry()
	for _, d := range defs {
		require.NoError(t, reg.Add(d))
	}
	g, err := graph.Build(context.Background(), graph.Options{
		Env:      env,
		Defaults: map[string]string{"buildroot": "/out", "packagebuilddir": "/out/pkg", "packagedir": "/src"},
		FS:       fs,
		Registry: reg,
	}, roots...)
	require.NoError(t, err)
	return g
}

func readFile(t *testing.T, fs billy.Filesystem, p string) string {
	t.Helper()
	f, err := fs.Open(p)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

func TestNew(t *testing.T) {
	fs := memfs.New()
	tc := newFakeToolchain(fs)

	t.Run("unknown mode", func(t *testing.T) {
		_, err := New("ninja", Options{FS: fs, Toolchain: tc})
		require.Error(t, err)
		assert.ErrorIs(t, err, errkind.ErrConfiguration)
		var modeErr *UnknownModeError
		require.ErrorAs(t, err, &modeErr)
		assert.Equal(t, "ninja", modeErr.Mode)
	})

	t.Run("native needs a toolchain", func(t *testing.T) {
		_, err := New(ModeNative, Options{FS: fs})
		assert.ErrorContains(t, err, "needs a toolchain")
	})

	t.Run("vsproject runs without a toolchain", func(t *testing.T) {
		b, err := New(ModeVSProject, Options{FS: fs})
		require.NoError(t, err)
		assert.Equal(t, ModeVSProject, b.Name())
	})

	t.Run("every mode", func(t *testing.T) {
		for _, mode := range Modes() {
			b, err := New(mode, Options{FS: fs, Toolchain: tc})
			require.NoError(t, err)
			assert.Equal(t, mode, b.Name())
		}
	})
}

func TestNativeFailureSkipsDependentsOnly(t *testing.T) {
	// --- Arrange ---
	fs := memfs.New()
	tc := newFakeToolchain(fs)
	tc.fail["source_collection.E.source"] = true
	g := buildGraph(t, fs, linux64,
		[]module.ID{id("console_application.M"), id("console_application.S")},
		library("V"), library("E"),
		application("M", id("dynamic_library.V"), id("dynamic_library.E")),
		application("S"),
	)
	m := metrics.New()
	b, err := New(ModeNative, Options{FS: fs, Toolchain: tc, Workers: 1, Metrics: m})
	require.NoError(t, err)
	native := b.(*Native)

	// --- Act ---
	err = native.Execute(context.Background(), g)

	// --- Assert ---
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrToolInvocation)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Len(t, runErr.Failures, 1)
	assert.Equal(t, "source_collection.E.source", runErr.Failures[0].Module)
	assert.ElementsMatch(t, []string{
		"dynamic_library.E", "console_application.M", "source_collection.M.source",
	}, runErr.Skipped)

	states := native.States()
	assert.Equal(t, Failed, states["source_collection.E.source"])
	assert.Equal(t, Skipped, states["console_application.M"])
	assert.Equal(t, Done, states["dynamic_library.V"])
	assert.Equal(t, Done, states["console_application.S"])

	assert.NotContains(t, tc.invokedModules(), "console_application.M")
	assert.Contains(t, tc.invokedModules(), "console_application.S")
	assert.Equal(t, "linker", readFile(t, fs, "/out/pkg/debug/S"))
	series, err := testutil.GatherAndCount(m.Registry, "buildgrid_module_builds_total")
	require.NoError(t, err)
	assert.Equal(t, 7, series)
}

// exportingLibrary is a dynamic library whose sources wait for the version
// header and whose link reads a per-platform export file.
func exportingLibrary(name string, header module.ID) graph.Definition {
	table := artifact.Table{
		{Platform: platform.Linux, Bits: 64, Source: "$(packagedir)/lin64-" + name + "-export.def"},
		{Platform: platform.Windows, Source: "$(packagedir)/win-" + name + "-export.def"},
	}
	return graph.Definition{ID: id("dynamic_library." + name), Kind: module.KindDynamicLibrary, Strategies: []module.Strategy{
		module.Sources("source", module.LangCxx, []string{"$(packagedir)/" + name + ".cpp"}, module.DependsOn(header)),
		artifact.ExportDefinitions(table),
		module.DynamicLibraryOutputs(),
	}}
}

func versionHeader(name string) graph.Definition {
	return graph.Definition{ID: id("procedural_header." + name), Kind: module.KindProceduralHeader, Strategies: []module.Strategy{
		artifact.VersionHeader{Output: "$(packagebuilddir)/gen/" + name + ".h", Prefix: name, Version: "4.4.3"}.Strategy(),
	}}
}

func TestNativeExportFailureSkipsLibraryOnly(t *testing.T) {
	testCases := []struct {
		name    string
		arrange func(tc *fakeToolchain)
		wantIs  error
	}{
		{
			name:    "preprocessor fails",
			arrange: func(tc *fakeToolchain) { tc.fail["preprocessed_file.M.export"] = true },
			wantIs:  errkind.ErrToolInvocation,
		},
		{
			name:    "preprocessor writes nothing",
			arrange: func(tc *fakeToolchain) { tc.skip["preprocessed_file.M.export"] = true },
			wantIs:  errkind.ErrGeneration,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			fs := memfs.New()
			tools := newFakeToolchain(fs)
			tc.arrange(tools)
			g := buildGraph(t, fs, linux64,
				[]module.ID{id("dynamic_library.M"), id("console_application.S")},
				versionHeader("V"), exportingLibrary("M", id("procedural_header.V")), application("S"),
			)
			b, err := New(ModeNative, Options{FS: fs, Toolchain: tools, Workers: 2})
			require.NoError(t, err)
			native := b.(*Native)

			// --- Act ---
			err = native.Execute(context.Background(), g)

			// --- Assert ---
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantIs)
			var runErr *RunError
			require.ErrorAs(t, err, &runErr)
			require.Len(t, runErr.Failures, 1)
			assert.Equal(t, "preprocessed_file.M.export", runErr.Failures[0].Module)
			assert.ElementsMatch(t, []string{"source_collection.M.source", "dynamic_library.M"}, runErr.Skipped)

			states := native.States()
			assert.Equal(t, Failed, states["preprocessed_file.M.export"])
			assert.Equal(t, Skipped, states["source_collection.M.source"])
			assert.Equal(t, Skipped, states["dynamic_library.M"])
			assert.Equal(t, Done, states["procedural_header.V"])
			assert.Equal(t, Done, states["console_application.S"])

			assert.Contains(t, readFile(t, fs, "/out/pkg/gen/V.h"), `#define V_VERSION_STRING "4.4.3"`)
			assert.Equal(t, "linker", readFile(t, fs, "/out/pkg/debug/S"))
			assert.NotContains(t, tools.invokedModules(), "dynamic_library.M")
		})
	}
}

func TestNativeBuildsHeaderAndExportBeforeLibrary(t *testing.T) {
	// --- Arrange ---
	fs := memfs.New()
	tools := newFakeToolchain(fs)
	g := buildGraph(t, fs, linux64, []module.ID{id("dynamic_library.M")},
		versionHeader("V"), exportingLibrary("M", id("procedural_header.V")))
	b, err := New(ModeNative, Options{FS: fs, Toolchain: tools, Workers: 1})
	require.NoError(t, err)

	// --- Act ---
	err = b.Execute(context.Background(), g)

	// --- Assert ---
	require.NoError(t, err)
	tools.mu.Lock()
	defer tools.mu.Unlock()
	var order []string
	for _, c := range tools.calls {
		order = append(order, c.Module)
	}
	require.NotEmpty(t, order)
	assert.Equal(t, "dynamic_library.M", order[len(order)-1])
	assert.Contains(t, order, "preprocessed_file.M.export")
	assert.Equal(t, "preprocessor", readFile(t, fs, "/out/pkg/debug/M.ver"))
	assert.Equal(t, Done, b.(*Native).States()["procedural_header.V"])
}

func TestNativeMissingOutputIsToolError(t *testing.T) {
	fs := memfs.New()
	tc := newFakeToolchain(fs)
	tc.skip["console_application.S"] = true
	g := buildGraph(t, fs, linux64, []module.ID{id("console_application.S")}, application("S"))
	b, err := New(ModeNative, Options{FS: fs, Toolchain: tc})
	require.NoError(t, err)

	err = b.Execute(context.Background(), g)

	var toolErr *toolchain.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, toolchain.Linker, toolErr.Tool)
	assert.ErrorContains(t, err, "was not produced")
}

func TestNativeGeneratesAndCollates(t *testing.T) {
	// --- Arrange ---
	fs := memfs.New()
	tc := newFakeToolchain(fs)
	header := graph.Definition{ID: id("procedural_header.version"), Kind: module.KindProceduralHeader, Strategies: []module.Strategy{
		module.Generate(module.OutputHeader, "$(packagebuilddir)/gen/version.h", func() (string, error) {
			return "#define VERSION 3\n", nil
		}),
	}}
	app := applicationWith("tool", []module.Strategy{module.DependsOn(id("procedural_header.version"))})
	publish := graph.Definition{ID: id("collation.dist"), Kind: module.KindCollation, Strategies: []module.Strategy{
		module.Collate(module.Inclusion{Pattern: "console_application.*", Key: module.OutputExecutable}),
	}}
	g := buildGraph(t, fs, linux64, []module.ID{id("collation.dist")}, header, app, publish)
	b, err := New(ModeNative, Options{FS: fs, Toolchain: tc})
	require.NoError(t, err)

	// --- Act ---
	err = b.Execute(context.Background(), g)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "#define VERSION 3\n", readFile(t, fs, "/out/pkg/gen/version.h"))
	assert.Equal(t, "linker", readFile(t, fs, "/out/debug/dist/tool"))
}

func TestNativeGenerationFailure(t *testing.T) {
	fs := memfs.New()
	tc := newFakeToolchain(fs)
	header := graph.Definition{ID: id("procedural_header.broken"), Kind: module.KindProceduralHeader, Strategies: []module.Strategy{
		module.Generate(module.OutputHeader, "/gen/broken.h", func() (string, error) {
			return "", errors.New("version is not semantic")
		}),
	}}
	g := buildGraph(t, fs, linux64, []module.ID{id("procedural_header.broken")}, header)
	b, err := New(ModeNative, Options{FS: fs, Toolchain: tc})
	require.NoError(t, err)

	err = b.Execute(context.Background(), g)

	assert.ErrorIs(t, err, errkind.ErrGeneration)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "/gen/broken.h", genErr.Output)
}

func TestNativeCanceledContextSkipsEverything(t *testing.T) {
	fs := memfs.New()
	tc := newFakeToolchain(fs)
	g := buildGraph(t, fs, linux64, []module.ID{id("console_application.S")}, application("S"))
	b, err := New(ModeNative, Options{FS: fs, Toolchain: tc})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = b.Execute(ctx, g)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tc.invokedModules())
	for name, state := range b.(*Native).States() {
		assert.Equal(t, Skipped, state, name)
	}
}

func TestNativeConcurrentBuild(t *testing.T) {
	// --- Arrange ---
	fs := osfs.New(t.TempDir())
	tc := newFakeToolchain(fs)
	defs := []graph.Definition{}
	var libs []module.ID
	for i := 0; i < 8; i++ {
		d := library(fmt.Sprintf("lib%d", i))
		defs = append(defs, d)
		libs = append(libs, d.ID)
	}
	defs = append(defs, application("app", libs...))
	g := buildGraph(t, fs, linux64, []module.ID{id("console_application.app")}, defs...)
	b, err := New(ModeNative, Options{FS: fs, Toolchain: tc, Workers: 4})
	require.NoError(t, err)

	// --- Act ---
	err = b.Execute(context.Background(), g)

	// --- Assert ---
	require.NoError(t, err)
	for name, state := range b.(*Native).States() {
		assert.Equal(t, Done, state, name)
	}
	invoked := tc.invokedModules()
	assert.Len(t, invoked, 2*8+2)
	tc.mu.Lock()
	last := tc.calls[len(tc.calls)-1]
	tc.mu.Unlock()
	assert.Equal(t, "console_application.app", last.Module)
	assert.Len(t, last.Inputs, 1+8)
}

func TestMakefileRender(t *testing.T) {
	// --- Arrange ---
	fs := memfs.New()
	tc := newFakeToolchain(fs)
	header := graph.Definition{ID: id("procedural_header.config"), Kind: module.KindProceduralHeader, Strategies: []module.Strategy{
		module.Generate(module.OutputHeader, "$(packagebuilddir)/gen/config.h", func() (string, error) {
			return "#define PRICE \"$5\"\n#define READY 1\n", nil
		}),
	}}
	app := applicationWith("app", []module.Strategy{module.DependsOn(id("procedural_header.config"))}, id("dynamic_library.core"))
	g := buildGraph(t, fs, linux64, []module.ID{id("console_application.app")}, header, library("core"), app)
	b, err := New(ModeMakefile, Options{FS: fs, Toolchain: tc, OutputDir: "/out"})
	require.NoError(t, err)

	// --- Act ---
	err = b.Execute(context.Background(), g)

	// --- Assert ---
	require.NoError(t, err)
	text := readFile(t, fs, "/out/Makefile")
	assert.True(t, strings.HasPrefix(text, "# Generated by buildgrid for linux/64/debug/gcc."))
	assert.Contains(t, text, ".PHONY: all clean\n")
	assert.Contains(t, text, "/out/pkg/debug/obj/core.source/core.o: /src/core.cpp\n\t@mkdir -p $(@D)\n\tcxx-compiler -o /out/pkg/debug/obj/core.source/core.o /src/core.cpp\n")
	assert.Contains(t, text, "/out/pkg/debug/app: /out/pkg/debug/obj/app.source/app.o /out/pkg/debug/libcore.so")
	assert.Contains(t, text, "/out/pkg/debug/obj/app.source/app.o: /src/app.cpp /out/pkg/gen/config.h /out/pkg/debug/libcore.so\n")
	assert.Contains(t, text, `@printf '%s\n' '#define PRICE "$$5"' > $@`)
	assert.Contains(t, text, `@printf '%s\n' '#define READY 1' >> $@`)
	assert.Contains(t, text, "\trm -f /out/pkg/debug/app\n")

	allLine := strings.SplitN(strings.SplitN(text, "all: ", 2)[1], "\n", 2)[0]
	assert.Contains(t, allLine, "/out/pkg/debug/app")
	assert.Contains(t, allLine, "/out/pkg/gen/config.h")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "-DNAME=1", shellQuote("-DNAME=1"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, `'a b'`, shellQuote("a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestVSProject(t *testing.T) {
	// --- Arrange ---
	win64 := platform.Environment{Platform: platform.Windows, Bits: 64, Configuration: platform.Debug, Flavor: platform.VisualC}
	fs := memfs.New()
	lib := library("core")
	lib.Strategies = append(lib.Strategies, module.Group("Libraries"))
	app := application("app", id("dynamic_library.core"))
	app.Strategies = append(app.Strategies, module.Group("Tests"))
	g := buildGraph(t, fs, win64, []module.ID{id("console_application.app")}, lib, app)
	b, err := New(ModeVSProject, Options{FS: fs, OutputDir: "/proj", Workers: 2})
	require.NoError(t, err)

	// --- Act ---
	err = b.Execute(context.Background(), g)

	// --- Assert ---
	require.NoError(t, err)
	core := readFile(t, fs, "/proj/core.vcxproj")
	assert.Contains(t, core, "<ConfigurationType>DynamicLibrary</ConfigurationType>")
	assert.Contains(t, core, `<ProjectConfiguration Include="Debug|x64">`)
	assert.Contains(t, core, "<ProjectGuid>"+ProjectGUID("dynamic_library.core")+"</ProjectGuid>")
	assert.Contains(t, core, `<ClCompile Include="\src\core.cpp">`)
	assert.Contains(t, core, `<ImportLibrary>\out\pkg\debug\core.lib</ImportLibrary>`)

	appProj := readFile(t, fs, "/proj/app.vcxproj")
	assert.Contains(t, appProj, "<ConfigurationType>Application</ConfigurationType>")
	assert.Contains(t, appProj, `<ProjectReference Include="core.vcxproj">`)

	sln := readFile(t, fs, "/proj/app.sln")
	assert.Contains(t, sln, `"core", "core.vcxproj", "`+ProjectGUID("dynamic_library.core")+`"`)
	assert.Contains(t, sln, `= "Libraries", "Libraries", "`+ProjectGUID("folder:Libraries")+`"`)
	assert.Contains(t, sln, ProjectGUID("console_application.app")+" = "+ProjectGUID("folder:Tests"))
	assert.Contains(t, sln, "Debug|x64 = Debug|x64")
}

func TestProjectGUIDIsStable(t *testing.T) {
	first := ProjectGUID("dynamic_library.tbb")
	assert.Equal(t, first, ProjectGUID("dynamic_library.tbb"))
	assert.NotEqual(t, first, ProjectGUID("dynamic_library.tbbmalloc"))
	assert.Regexp(t, `^\{[0-9A-F]{8}-[0-9A-F]{4}-5[0-9A-F]{3}-[0-9A-F]{4}-[0-9A-F]{12}\}$`, first)
}

func TestVSConfiguration(t *testing.T) {
	cfg, plat := VSConfiguration(platform.Environment{Platform: platform.Windows, Bits: 32, Configuration: platform.Optimized})
	assert.Equal(t, "Optimized", cfg)
	assert.Equal(t, "Win32", plat)
}
