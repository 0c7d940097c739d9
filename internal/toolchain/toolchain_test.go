package toolchain

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/platform"
	"github.com/vk/buildgrid/internal/settings"
)

func clangCompileBag(t *testing.T) *settings.Bag {
	t.Helper()
	bag := settings.NewCompilerBag(platform.Clang, true)
	c, _ := bag.Compiler()
	c.Bits = 64
	c.Optimization = "none"
	c.IncludePaths.Add("/src/tbb/src", "/src/tbb/include")
	require.NoError(t, c.Defines.Add("TBB_USE_EXCEPTIONS", ""))
	require.NoError(t, c.Defines.Add("__TBB_BUILD", "1"))
	c.DisableWarnings.Add("keyword-macro")
	cxx, _ := bag.CxxCompiler()
	cxx.LanguageStandard = "cxx11"
	cxx.StandardLibrary = "libc++"
	cxx.ExceptionHandler = "asynchronous"
	vendor, _ := bag.Clang()
	vendor.AllWarnings = true
	vendor.Pedantic = true
	vendor.Visibility = "Default"
	return bag
}

func TestCommandLineGnuCompile(t *testing.T) {
	// --- Arrange ---
	p, err := NewProcess(Config{Flavor: platform.Clang})
	require.NoError(t, err)

	// --- Act ---
	args, err := p.CommandLine(Invocation{
		Kind:     CxxCompiler,
		Module:   "source_collection.tbb.source",
		Settings: clangCompileBag(t),
		Inputs:   []string{"/src/tbb/src/tbb/task.cpp"},
		Outputs:  []string{"/out/task.o"},
	})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{
		"clang++", "-c", "-m64", "-O0",
		"-I/src/tbb/src", "-I/src/tbb/include",
		"-DTBB_USE_EXCEPTIONS", "-D__TBB_BUILD=1",
		"-Wno-keyword-macro",
		"-std=c++11", "-stdlib=libc++", "-fexceptions",
		"-Wall", "-pedantic", "-fvisibility=default",
		"-o", "/out/task.o", "/src/tbb/src/tbb/task.cpp",
	}, args)
}

func TestCommandLineGnuSharedLink(t *testing.T) {
	p, err := NewProcess(Config{Flavor: platform.Gcc, CXX: "g++-13"})
	require.NoError(t, err)

	bag := settings.NewLinkerBag(platform.Linux, true)
	l, _ := bag.Linker()
	l.Libraries.Add("pthread", "dl")
	ll, _ := bag.LinuxLinker()
	ll.SharedObjectName = "libtbb.so"
	ll.VersionScript = "/out/tbb.ver"

	args, err := p.CommandLine(Invocation{
		Kind: Linker, Module: "dynamic_library.tbb", Settings: bag, Shared: true,
		Inputs: []string{"/out/a.o", "/out/b.o"}, Outputs: []string{"/out/libtbb.so"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"g++-13", "-shared", "-fPIC", "-o", "/out/libtbb.so", "/out/a.o", "/out/b.o",
		"-lpthread", "-ldl", "-Wl,-soname,libtbb.so", "-Wl,--version-script=/out/tbb.ver",
	}, args)
}

func TestCommandLineVisualC(t *testing.T) {
	p, err := NewProcess(Config{Flavor: platform.VisualC})
	require.NoError(t, err)

	bag := settings.NewCompilerBag(platform.VisualC, true)
	c, _ := bag.Compiler()
	c.WarningsAsErrors = true
	cxx, _ := bag.CxxCompiler()
	cxx.ExceptionHandler = "synchronous"
	vc, _ := bag.VisualC()
	vc.WarningLevel = 4

	args, err := p.CommandLine(Invocation{
		Kind: CxxCompiler, Module: "m", Settings: bag,
		Inputs: []string{`C:\src\main.cpp`}, Outputs: []string{`C:\out\main.obj`},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cl.exe", "/nologo", "/c", "/WX", "/EHsc", "/W4", `/FoC:\out\main.obj`, `C:\src\main.cpp`}, args)

	link := settings.NewLinkerBag(platform.Windows, true)
	wl, _ := link.WinLinker()
	wl.ModuleDefinitionFile = `C:\out\tbb.def`
	args, err = p.CommandLine(Invocation{
		Kind: Linker, Module: "tbb", Settings: link, Shared: true,
		Inputs: []string{"a.obj"}, Outputs: []string{"tbb.dll", "tbb.lib"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"link.exe", "/nologo", "/DLL", "/IMPLIB:tbb.lib", `/DEF:C:\out\tbb.def`, "/OUT:tbb.dll", "a.obj"}, args)
}

func TestCommandLinePreprocessor(t *testing.T) {
	p, err := NewProcess(Config{Flavor: platform.Gcc})
	require.NoError(t, err)
	bag := settings.NewPreprocessorBag()
	pp, _ := bag.Preprocessor()
	pp.IncludePaths.Add("/src/tbb/src/tbb")

	args, err := p.CommandLine(Invocation{
		Kind: Preprocessor, Module: "preprocessed_file.tbb.export", Settings: bag,
		Inputs: []string{"/src/tbb/src/tbb/lin64-tbb-export.def"}, Outputs: []string{"/out/tbb.ver"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"gcc", "-E", "-P", "-x", "c", "-I/src/tbb/src/tbb", "-o", "/out/tbb.ver", "/src/tbb/src/tbb/lin64-tbb-export.def"}, args)
}

func TestCommandLineErrors(t *testing.T) {
	p, err := NewProcess(Config{Flavor: platform.Gcc})
	require.NoError(t, err)

	_, err = p.CommandLine(Invocation{Kind: CCompiler, Module: "m"})
	assert.ErrorContains(t, err, "has no settings")

	_, err = p.CommandLine(Invocation{Kind: CCompiler, Module: "m", Settings: settings.NewBag(), Inputs: []string{"a", "b"}, Outputs: []string{"x"}})
	assert.ErrorContains(t, err, "exactly one input")

	_, err = NewProcess(Config{Flavor: "tcc"})
	assert.Error(t, err)
}

func TestInvoke(t *testing.T) {
	dir := t.TempDir()
	inv := Invocation{
		Kind: CCompiler, Module: "source_collection.m", Settings: settings.NewCompilerBag(platform.Gcc, false),
		Inputs: []string{"main.c"}, Outputs: []string{filepath.Join(dir, "obj", "main.o")},
	}

	t.Run("success", func(t *testing.T) {
		p, _ := NewProcess(Config{Flavor: platform.Gcc})
		var gotName string
		p.exec = func(_ context.Context, name string, _ []string) ([]byte, error) {
			gotName = name
			return nil, nil
		}
		require.NoError(t, p.Invoke(context.Background(), inv))
		assert.Equal(t, "gcc", gotName)
		assert.DirExists(t, filepath.Join(dir, "obj"))
	})

	t.Run("failure", func(t *testing.T) {
		p, _ := NewProcess(Config{Flavor: platform.Gcc})
		p.exec = func(context.Context, string, []string) ([]byte, error) {
			return []byte("main.c:1: error: expected ';'"), errors.New("exit status 1")
		}
		err := p.Invoke(context.Background(), inv)
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "source_collection.m", toolErr.Module)
		assert.True(t, errors.Is(err, errkind.ErrToolInvocation))
		assert.Contains(t, err.Error(), "expected ';'")
	})

	t.Run("timeout", func(t *testing.T) {
		p, _ := NewProcess(Config{Flavor: platform.Gcc, Timeout: 10 * time.Millisecond})
		p.exec = func(ctx context.Context, _ string, _ []string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		err := p.Invoke(context.Background(), inv)
		assert.ErrorContains(t, err, "timed out after 10ms")
	})
}
