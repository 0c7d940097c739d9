package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/buildgrid/internal/hcl"
)

func writeDescription(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "demo", "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo", "demo.hcl"), []byte(content), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo", "src", "main.cpp"), []byte("int main() { return 0; }\n"), 0o600))
	return dir
}

const demoDescription = `
console_application "demo" {
	group = "Apps"
	sources "source" {
		files = ["$(packagedir)/src/*.cpp"]
	}
}
`

func TestRun(t *testing.T) {
	testCases := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{
			name:    "help",
			args:    []string{"--help"},
			wantOut: "Usage:",
		},
		{
			name:    "modes",
			args:    []string{"modes"},
			wantOut: "native\nmakefile\nvsproject\n",
		},
		{
			name:    "version",
			args:    []string{"version"},
			wantOut: "buildgrid dev",
		},
		{
			name:     "unknown flag",
			args:     []string{"build", "--this-is-not-a-valid-flag"},
			wantCode: ExitUsage,
			wantErr:  "unknown flag: --this-is-not-a-valid-flag",
		},
		{
			name:     "missing path",
			args:     []string{"build"},
			wantCode: ExitUsage,
			wantErr:  "at least one build description path is required",
		},
		{
			name:     "invalid log level",
			args:     []string{"graph", "--log-level", "loud", "."},
			wantCode: ExitUsage,
			wantErr:  "invalid log level",
		},
		{
			name:     "missing settings file",
			args:     []string{"graph", "--settings", "does-not-exist.toml", "."},
			wantCode: ExitUsage,
			wantErr:  "reading settings file",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			out := &bytes.Buffer{}

			// --- Act ---
			err := Run(context.Background(), tc.args, out, hcl.NewLoader())

			// --- Assert ---
			if tc.wantCode == 0 {
				require.NoError(t, err)
				assert.Contains(t, out.String(), tc.wantOut)
				return
			}
			var exitErr *ExitError
			require.True(t, errors.As(err, &exitErr), "expected *ExitError, got %T", err)
			assert.Equal(t, tc.wantCode, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.wantErr)
		})
	}
}

func TestRun_Graph(t *testing.T) {
	// --- Arrange ---
	dir := writeDescription(t, demoDescription)
	out := &bytes.Buffer{}
	args := []string{"graph", "--platform", "linux", "--bits", "64", "--toolchain", "gcc", "--build-root", filepath.Join(dir, "build"), "--log-level", "error", dir}

	// --- Act ---
	err := Run(context.Background(), args, out, hcl.NewLoader())

	// --- Assert ---
	require.NoError(t, err)
	assert.Contains(t, out.String(), "console_application.demo [Apps]")
	assert.Contains(t, out.String(), "source_collection.demo.source")
}

func TestRun_MakefileBuild(t *testing.T) {
	// --- Arrange ---
	dir := writeDescription(t, demoDescription)
	buildRoot := filepath.Join(dir, "build")
	args := []string{"build", "-m", "makefile", "--platform", "linux", "--bits", "64", "--toolchain", "gcc",
		"--build-root", buildRoot, "-D", "vendor=acme", "--log-level", "error", dir}

	// --- Act ---
	err := Run(context.Background(), args, &bytes.Buffer{}, hcl.NewLoader())

	// --- Assert ---
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(buildRoot, "Makefile"))
}

func TestRun_ConfigurationErrorExitCode(t *testing.T) {
	// --- Arrange ---
	dir := writeDescription(t, `
console_application "demo" {
	depends_on = ["header_collection.missing"]
	sources "source" {
		files = ["$(packagedir)/src/*.cpp"]
	}
}
`)
	args := []string{"graph", "--platform", "linux", "--bits", "64", "--toolchain", "gcc", "--build-root", filepath.Join(dir, "build"), dir}

	// --- Act ---
	err := Run(context.Background(), args, &bytes.Buffer{}, hcl.NewLoader())

	// --- Assert ---
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitUsage, exitErr.Code)
	assert.Contains(t, exitErr.Message, "header_collection.missing")
}
