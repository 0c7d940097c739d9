package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vk/buildgrid/internal/backend"
	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/platform"
)

// DefaultSettingsFile is read from the working directory when no settings
// file is named explicitly.
const DefaultSettingsFile = "buildgrid.toml"

// Config holds everything a build invocation needs. Values are layered:
// defaults, then the settings file, then command-line flags.
type Config struct {
	Build     BuildConfig       `toml:"build"`
	Toolchain ToolchainConfig   `toml:"toolchain"`
	Log       LogConfig         `toml:"log"`
	Macros    map[string]string `toml:"macros"`
	Metrics   MetricsConfig     `toml:"metrics"`

	// Paths are the build description files or directories. Command line only.
	Paths []string `toml:"-"`
}

// BuildConfig selects what is built and how.
type BuildConfig struct {
	Mode          string   `toml:"mode"`
	Configuration string   `toml:"configuration"`
	Platform      string   `toml:"platform"`
	Bits          int      `toml:"bits"`
	Workers       int      `toml:"workers"`
	BuildRoot     string   `toml:"build_root"`
	Targets       []string `toml:"targets"` // module patterns, e.g. "console_application.*"
}

// ToolchainConfig selects the compiler executables.
type ToolchainConfig struct {
	Flavor  string   `toml:"flavor"` // empty means the platform's default
	CC      string   `toml:"cc"`
	CXX     string   `toml:"cxx"`
	LD      string   `toml:"ld"`
	Timeout Duration `toml:"timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "text", "json"
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
	// Listen serves /metrics and /health while the build runs. Empty disables.
	Listen string `toml:"listen"`
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// DefaultConfig returns a Config describing a native debug build for the
// running machine.
func DefaultConfig() *Config {
	host := platform.Host()
	return &Config{
		Build: BuildConfig{
			Mode:          backend.ModeNative,
			Configuration: host.Configuration.String(),
			Platform:      host.Platform.String(),
			Bits:          host.Bits,
			Workers:       runtime.NumCPU(),
			BuildRoot:     "build",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Macros: map[string]string{},
	}
}

// LoadFile overlays the TOML settings file at path onto c. A missing file is
// an error only when required is set. Unknown keys are rejected.
func (c *Config) LoadFile(path string, required bool) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: reading settings file %s: %w", errkind.ErrConfiguration, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%w: settings file %s has unknown keys: %s", errkind.ErrConfiguration, path, strings.Join(keys, ", "))
	}
	return nil
}

// Validate checks every field that does not need the build descriptions.
func (c *Config) Validate() error {
	if len(c.Paths) == 0 {
		return fmt.Errorf("%w: at least one build description path is required", errkind.ErrConfiguration)
	}
	if err := backend.ValidateMode(c.Build.Mode); err != nil {
		return err
	}
	if c.Build.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", errkind.ErrConfiguration, c.Build.Workers)
	}
	if c.Build.BuildRoot == "" {
		return fmt.Errorf("%w: build root cannot be empty", errkind.ErrConfiguration)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: invalid log format %q: must be 'text' or 'json'", errkind.ErrConfiguration, c.Log.Format)
	}
	if _, err := c.Environment(); err != nil {
		return err
	}
	return nil
}

// Environment returns the target environment described by the build and
// toolchain sections.
func (c *Config) Environment() (platform.Environment, error) {
	p, err := platform.ParsePlatform(c.Build.Platform)
	if err != nil {
		return platform.Environment{}, fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
	}
	cfg, err := platform.ParseConfiguration(c.Build.Configuration)
	if err != nil {
		return platform.Environment{}, fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
	}
	flavor := platform.DefaultFlavor(p)
	if c.Toolchain.Flavor != "" {
		if flavor, err = platform.ParseFlavor(c.Toolchain.Flavor); err != nil {
			return platform.Environment{}, fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
		}
	}
	env := platform.Environment{Platform: p, Bits: c.Build.Bits, Configuration: cfg, Flavor: flavor}
	if err := env.Validate(); err != nil {
		return platform.Environment{}, fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
	}
	return env, nil
}

// BuildRoot returns the absolute build root.
func (c *Config) BuildRoot() (string, error) {
	root, err := filepath.Abs(c.Build.BuildRoot)
	if err != nil {
		return "", fmt.Errorf("resolving build root %q: %w", c.Build.BuildRoot, err)
	}
	return filepath.ToSlash(root), nil
}

// MacroDefaults returns the root macro values every module inherits on top
// of the environment's own.
func (c *Config) MacroDefaults() (map[string]string, error) {
	root, err := c.BuildRoot()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(c.Macros)+2)
	for k, v := range c.Macros {
		out[k] = v
	}
	out["buildroot"] = root
	out["workers"] = strconv.Itoa(c.Build.Workers)
	return out, nil
}
