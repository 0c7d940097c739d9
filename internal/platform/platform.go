// Package platform describes the target environment a build graph is
// constructed for: operating system, bit width, build configuration and
// toolchain flavor.
package platform

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// Platform is a set of operating systems. Single values are used to describe
// a target, combined values are used by conditional rules.
type Platform uint8

const (
	Windows Platform = 1 << iota
	Linux
	OSX

	NotWindows = Linux | OSX
	All        = Windows | Linux | OSX
)

var platformNames = map[string]Platform{
	"windows":    Windows,
	"win":        Windows,
	"linux":      Linux,
	"osx":        OSX,
	"macos":      OSX,
	"darwin":     OSX,
	"notwindows": NotWindows,
	"all":        All,
	"*":          All,
}

// ParsePlatform parses a platform name or a '|' separated union of names.
func ParsePlatform(s string) (Platform, error) {
	var p Platform
	for _, part := range strings.Split(s, "|") {
		name := strings.ToLower(strings.TrimSpace(part))
		v, ok := platformNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown platform %q", part)
		}
		p |= v
	}
	return p, nil
}

// Includes reports whether every platform in other is part of p.
func (p Platform) Includes(other Platform) bool {
	return other != 0 && p&other == other
}

// IsSingle reports whether p names exactly one operating system.
func (p Platform) IsSingle() bool {
	return p != 0 && p&(p-1) == 0
}

func (p Platform) String() string {
	switch p {
	case Windows:
		return "windows"
	case Linux:
		return "linux"
	case OSX:
		return "osx"
	case NotWindows:
		return "notwindows"
	case All:
		return "all"
	case 0:
		return "none"
	}
	var parts []string
	for _, single := range []Platform{Windows, Linux, OSX} {
		if p&single != 0 {
			parts = append(parts, single.String())
		}
	}
	return strings.Join(parts, "|")
}

// Configuration is a set of build configurations.
type Configuration uint8

const (
	Debug Configuration = 1 << iota
	Profile
	Optimized
	Final

	AllConfigurations = Debug | Profile | Optimized | Final
)

var configurationNames = map[string]Configuration{
	"debug":     Debug,
	"profile":   Profile,
	"optimized": Optimized,
	"release":   Optimized,
	"final":     Final,
	"all":       AllConfigurations,
	"*":         AllConfigurations,
}

// ParseConfiguration parses a configuration name or a '|' separated union.
func ParseConfiguration(s string) (Configuration, error) {
	var c Configuration
	for _, part := range strings.Split(s, "|") {
		name := strings.ToLower(strings.TrimSpace(part))
		v, ok := configurationNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown configuration %q", part)
		}
		c |= v
	}
	return c, nil
}

// Includes reports whether every configuration in other is part of c.
func (c Configuration) Includes(other Configuration) bool {
	return other != 0 && c&other == other
}

func (c Configuration) String() string {
	switch c {
	case Debug:
		return "debug"
	case Profile:
		return "profile"
	case Optimized:
		return "optimized"
	case Final:
		return "final"
	case AllConfigurations:
		return "all"
	case 0:
		return "none"
	}
	var parts []string
	for _, single := range []Configuration{Debug, Profile, Optimized, Final} {
		if c&single != 0 {
			parts = append(parts, single.String())
		}
	}
	return strings.Join(parts, "|")
}

// Flavor identifies the compiler family used to realize the build.
type Flavor string

const (
	Gcc     Flavor = "gcc"
	Clang   Flavor = "clang"
	VisualC Flavor = "visualc"
)

// Flavors lists every supported toolchain flavor, sorted.
func Flavors() []string {
	out := []string{string(Gcc), string(Clang), string(VisualC)}
	sort.Strings(out)
	return out
}

// ParseFlavor validates a flavor name.
func ParseFlavor(s string) (Flavor, error) {
	switch f := Flavor(strings.ToLower(strings.TrimSpace(s))); f {
	case Gcc, Clang, VisualC:
		return f, nil
	case "msvc":
		return VisualC, nil
	}
	return "", fmt.Errorf("unknown toolchain flavor %q, expected one of %s", s, strings.Join(Flavors(), ", "))
}

// DefaultFlavor returns the flavor conventionally used on a platform.
func DefaultFlavor(p Platform) Flavor {
	switch p {
	case Windows:
		return VisualC
	case OSX:
		return Clang
	default:
		return Gcc
	}
}

// Environment is the (platform, bits, configuration, flavor) tuple a graph is
// built for.
type Environment struct {
	Platform      Platform
	Bits          int
	Configuration Configuration
	Flavor        Flavor
}

// Host returns a debug environment describing the running machine.
func Host() Environment {
	var p Platform
	switch runtime.GOOS {
	case "windows":
		p = Windows
	case "darwin":
		p = OSX
	default:
		p = Linux
	}
	return Environment{
		Platform:      p,
		Bits:          strconv.IntSize,
		Configuration: Debug,
		Flavor:        DefaultFlavor(p),
	}
}

// Validate checks that the environment names a single concrete target.
func (e Environment) Validate() error {
	if !e.Platform.IsSingle() {
		return fmt.Errorf("environment platform must be a single platform, got %s", e.Platform)
	}
	if e.Bits != 32 && e.Bits != 64 {
		return fmt.Errorf("environment bit width must be 32 or 64, got %d", e.Bits)
	}
	switch e.Configuration {
	case Debug, Profile, Optimized, Final:
	default:
		return fmt.Errorf("environment configuration must be a single configuration, got %s", e.Configuration)
	}
	if _, err := ParseFlavor(string(e.Flavor)); err != nil {
		return err
	}
	return nil
}

func (e Environment) String() string {
	return fmt.Sprintf("%s/%d/%s/%s", e.Platform, e.Bits, e.Configuration, e.Flavor)
}

// Macros returns the environment-derived macro values every module inherits.
func (e Environment) Macros() map[string]string {
	m := map[string]string{
		"config":   e.Configuration.String(),
		"platform": e.Platform.String(),
		"bits":     strconv.Itoa(e.Bits),
		"flavor":   string(e.Flavor),
	}
	switch e.Platform {
	case Windows:
		m["dynamicprefix"] = ""
		m["dynamicext"] = ".dll"
		m["exeext"] = ".exe"
		m["objext"] = ".obj"
		m["libprefix"] = ""
		m["libext"] = ".lib"
	case OSX:
		m["dynamicprefix"] = "lib"
		m["dynamicext"] = ".dylib"
		m["exeext"] = ""
		m["objext"] = ".o"
		m["libprefix"] = "lib"
		m["libext"] = ".a"
	default:
		m["dynamicprefix"] = "lib"
		m["dynamicext"] = ".so"
		m["exeext"] = ""
		m["objext"] = ".o"
		m["libprefix"] = "lib"
		m["libext"] = ".a"
	}
	return m
}
