package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/metrics"
	"github.com/vk/buildgrid/internal/platform"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), DefaultSettingsFile)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestConfig_LoadFile(t *testing.T) {
	// --- Arrange ---
	cfg := DefaultConfig()
	p := writeSettings(t, `
[build]
mode = "makefile"
configuration = "optimized"
platform = "windows"
bits = 32
targets = ["console_application.*"]

[toolchain]
cxx = "clang-cl.exe"
timeout = "90s"

[log]
level = "debug"

[macros]
vendor = "acme"
`)

	// --- Act ---
	err := cfg.LoadFile(p, true)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "makefile", cfg.Build.Mode)
	assert.Equal(t, []string{"console_application.*"}, cfg.Build.Targets)
	assert.Equal(t, "build", cfg.Build.BuildRoot, "unset keys keep their defaults")
	assert.Equal(t, 90*time.Second, cfg.Toolchain.Timeout.Duration())
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "acme", cfg.Macros["vendor"])

	env, err := cfg.Environment()
	require.NoError(t, err)
	assert.Equal(t, platform.Environment{Platform: platform.Windows, Bits: 32, Configuration: platform.Optimized, Flavor: platform.VisualC}, env)
}

func TestConfig_LoadFileErrors(t *testing.T) {
	t.Run("unknown key", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.LoadFile(writeSettings(t, "[build]\nspeed = 11\n"), true)
		require.Error(t, err)
		assert.ErrorIs(t, err, errkind.ErrConfiguration)
		assert.Contains(t, err.Error(), "build.speed")
	})

	t.Run("missing optional file", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.NoError(t, cfg.LoadFile(filepath.Join(t.TempDir(), DefaultSettingsFile), false))
	})

	t.Run("missing required file", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.LoadFile(filepath.Join(t.TempDir(), "custom.toml"), true)
		assert.ErrorIs(t, err, errkind.ErrConfiguration)
	})
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no paths", mutate: func(cfg *Config) { cfg.Paths = nil }, wantErr: "build description path"},
		{name: "workers", mutate: func(cfg *Config) { cfg.Build.Workers = 0 }, wantErr: "workers must be positive"},
		{name: "log format", mutate: func(cfg *Config) { cfg.Log.Format = "xml" }, wantErr: "invalid log format"},
		{name: "bits", mutate: func(cfg *Config) { cfg.Build.Bits = 16 }, wantErr: "bit width"},
		{name: "flavor", mutate: func(cfg *Config) { cfg.Toolchain.Flavor = "icc" }, wantErr: "unknown toolchain flavor"},
		{name: "configuration", mutate: func(cfg *Config) { cfg.Build.Configuration = "fastest" }, wantErr: "unknown configuration"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			cfg := testConfig(t.TempDir(), "native")
			tc.mutate(cfg)

			// --- Act ---
			err := cfg.Validate()

			// --- Assert ---
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errkind.ErrConfiguration)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfig_ReleaseIsOptimized(t *testing.T) {
	// --- Arrange ---
	cfg := testConfig(t.TempDir(), "native")
	cfg.Build.Configuration = "release"

	// --- Act ---
	env, err := cfg.Environment()

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, platform.Optimized, env.Configuration)
	assert.Equal(t, "optimized", env.Macros()["config"])
}

func TestConfig_MacroDefaults(t *testing.T) {
	// --- Arrange ---
	cfg := DefaultConfig()
	cfg.Build.BuildRoot = "/var/build"
	cfg.Macros["vendor"] = "acme"

	// --- Act ---
	defaults, err := cfg.MacroDefaults()

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "acme", defaults["vendor"])
	assert.Equal(t, filepath.ToSlash(filepath.Clean("/var/build")), defaults["buildroot"])
}

func TestStatusServer(t *testing.T) {
	// --- Arrange ---
	a := NewApp(&SafeBuffer{}, DefaultConfig(), nil)
	m := metrics.New()
	m.ObserveModule("dynamic_library", metrics.ResultSucceeded, time.Millisecond)
	ctx := context.Background()

	// --- Act ---
	s, err := a.startStatusServer(ctx, "127.0.0.1:0", m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.close(ctx) })

	// --- Assert ---
	for path, want := range map[string]string{"/health": "OK", "/metrics": "buildgrid_module_builds_total"} {
		resp, err := http.Get("http://" + s.Addr() + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), want)
	}
}
