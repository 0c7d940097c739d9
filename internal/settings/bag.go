// Package settings implements the typed option bag a module's tool is
// configured with. A bag advertises a set of capabilities; patches query a
// capability and receive a typed view only when the bag has it.
package settings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/platform"
)

// Capability names one facet of a settings bag.
type Capability string

const (
	CapCompiler     Capability = "compiler"
	CapCxxCompiler  Capability = "cxx_compiler"
	CapClang        Capability = "clang"
	CapGcc          Capability = "gcc"
	CapVisualC      Capability = "visualc"
	CapLinker       Capability = "linker"
	CapCxxLinker    Capability = "cxx_linker"
	CapLinuxLinker  Capability = "linux_linker"
	CapOSXLinker    Capability = "osx_linker"
	CapWinLinker    Capability = "win_linker"
	CapPreprocessor Capability = "preprocessor"
)

// ParseCapability validates a capability name.
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CapCompiler, CapCxxCompiler, CapClang, CapGcc, CapVisualC, CapLinker,
		CapCxxLinker, CapLinuxLinker, CapOSXLinker, CapWinLinker, CapPreprocessor:
		return c, nil
	}
	return "", fmt.Errorf("unknown settings capability %q", s)
}

// MissingCapabilityError is returned when a patch requires a capability the
// bag does not advertise.
type MissingCapabilityError struct {
	Missing []Capability
	Have    []Capability
}

func (e *MissingCapabilityError) Error() string {
	missing := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		missing[i] = string(c)
	}
	have := make([]string, len(e.Have))
	for i, c := range e.Have {
		have[i] = string(c)
	}
	return fmt.Sprintf("settings lack required capability %s (available: %s)",
		strings.Join(missing, ", "), strings.Join(have, ", "))
}

func (e *MissingCapabilityError) Is(target error) bool { return target == errkind.ErrConfiguration }

// Bag is a settings instance. Every capability view is nil unless the bag was
// created with that capability.
type Bag struct {
	compiler     *CompilerSettings
	cxxCompiler  *CxxCompilerSettings
	clang        *VendorSettings
	gcc          *VendorSettings
	visualC      *VisualCSettings
	linker       *LinkerSettings
	cxxLinker    *CxxLinkerSettings
	linuxLinker  *LinuxLinkerSettings
	osxLinker    *OSXLinkerSettings
	winLinker    *WinLinkerSettings
	preprocessor *PreprocessorSettings
}

// NewBag creates a bag advertising exactly the given capabilities.
func NewBag(caps ...Capability) *Bag {
	b := &Bag{}
	for _, c := range caps {
		switch c {
		case CapCompiler:
			b.compiler = &CompilerSettings{}
		case CapCxxCompiler:
			b.cxxCompiler = &CxxCompilerSettings{}
		case CapClang:
			b.clang = &VendorSettings{}
		case CapGcc:
			b.gcc = &VendorSettings{}
		case CapVisualC:
			b.visualC = &VisualCSettings{}
		case CapLinker:
			b.linker = &LinkerSettings{}
		case CapCxxLinker:
			b.cxxLinker = &CxxLinkerSettings{}
		case CapLinuxLinker:
			b.linuxLinker = &LinuxLinkerSettings{}
		case CapOSXLinker:
			b.osxLinker = &OSXLinkerSettings{}
		case CapWinLinker:
			b.winLinker = &WinLinkerSettings{}
		case CapPreprocessor:
			b.preprocessor = &PreprocessorSettings{}
		}
	}
	return b
}

// NewCompilerBag returns the bag a compile step of the given flavor uses.
func NewCompilerBag(flavor platform.Flavor, cxx bool) *Bag {
	caps := []Capability{CapCompiler}
	if cxx {
		caps = append(caps, CapCxxCompiler)
	}
	switch flavor {
	case platform.Clang:
		caps = append(caps, CapClang)
	case platform.Gcc:
		caps = append(caps, CapGcc)
	case platform.VisualC:
		caps = append(caps, CapVisualC)
	}
	return NewBag(caps...)
}

// NewLinkerBag returns the bag a link step on platform p uses.
func NewLinkerBag(p platform.Platform, cxx bool) *Bag {
	caps := []Capability{CapLinker}
	if cxx {
		caps = append(caps, CapCxxLinker)
	}
	switch p {
	case platform.Windows:
		caps = append(caps, CapWinLinker)
	case platform.OSX:
		caps = append(caps, CapOSXLinker)
	default:
		caps = append(caps, CapLinuxLinker)
	}
	return NewBag(caps...)
}

// NewPreprocessorBag returns the bag a preprocessing step uses.
func NewPreprocessorBag() *Bag {
	return NewBag(CapPreprocessor)
}

// Has reports whether the bag advertises c.
func (b *Bag) Has(c Capability) bool {
	if b == nil {
		return false
	}
	switch c {
	case CapCompiler:
		return b.compiler != nil
	case CapCxxCompiler:
		return b.cxxCompiler != nil
	case CapClang:
		return b.clang != nil
	case CapGcc:
		return b.gcc != nil
	case CapVisualC:
		return b.visualC != nil
	case CapLinker:
		return b.linker != nil
	case CapCxxLinker:
		return b.cxxLinker != nil
	case CapLinuxLinker:
		return b.linuxLinker != nil
	case CapOSXLinker:
		return b.osxLinker != nil
	case CapWinLinker:
		return b.winLinker != nil
	case CapPreprocessor:
		return b.preprocessor != nil
	}
	return false
}

// Capabilities lists the advertised capabilities, sorted by name.
func (b *Bag) Capabilities() []Capability {
	var out []Capability
	for _, c := range []Capability{CapCompiler, CapCxxCompiler, CapClang, CapGcc, CapVisualC,
		CapLinker, CapCxxLinker, CapLinuxLinker, CapOSXLinker, CapWinLinker, CapPreprocessor} {
		if b.Has(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Require fails with a MissingCapabilityError unless every capability is present.
func (b *Bag) Require(caps ...Capability) error {
	var missing []Capability
	for _, c := range caps {
		if !b.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingCapabilityError{Missing: missing, Have: b.Capabilities()}
}

func (b *Bag) Compiler() (*CompilerSettings, bool)       { return b.compiler, b.compiler != nil }
func (b *Bag) CxxCompiler() (*CxxCompilerSettings, bool) { return b.cxxCompiler, b.cxxCompiler != nil }
func (b *Bag) Clang() (*VendorSettings, bool)            { return b.clang, b.clang != nil }
func (b *Bag) Gcc() (*VendorSettings, bool)              { return b.gcc, b.gcc != nil }
func (b *Bag) VisualC() (*VisualCSettings, bool)         { return b.visualC, b.visualC != nil }
func (b *Bag) Linker() (*LinkerSettings, bool)           { return b.linker, b.linker != nil }
func (b *Bag) CxxLinker() (*CxxLinkerSettings, bool)     { return b.cxxLinker, b.cxxLinker != nil }
func (b *Bag) LinuxLinker() (*LinuxLinkerSettings, bool) { return b.linuxLinker, b.linuxLinker != nil }
func (b *Bag) OSXLinker() (*OSXLinkerSettings, bool)     { return b.osxLinker, b.osxLinker != nil }
func (b *Bag) WinLinker() (*WinLinkerSettings, bool)     { return b.winLinker, b.winLinker != nil }
func (b *Bag) Preprocessor() (*PreprocessorSettings, bool) {
	return b.preprocessor, b.preprocessor != nil
}

// Clone returns a deep copy of the bag.
func (b *Bag) Clone() *Bag {
	if b == nil {
		return nil
	}
	out := &Bag{}
	if b.compiler != nil {
		c := *b.compiler
		c.IncludePaths = b.compiler.IncludePaths.clone()
		c.SystemIncludePaths = b.compiler.SystemIncludePaths.clone()
		c.Defines = b.compiler.Defines.clone()
		c.DisableWarnings = b.compiler.DisableWarnings.clone()
		out.compiler = &c
	}
	if b.cxxCompiler != nil {
		c := *b.cxxCompiler
		out.cxxCompiler = &c
	}
	if b.clang != nil {
		c := *b.clang
		out.clang = &c
	}
	if b.gcc != nil {
		c := *b.gcc
		out.gcc = &c
	}
	if b.visualC != nil {
		c := *b.visualC
		out.visualC = &c
	}
	if b.linker != nil {
		c := *b.linker
		c.Libraries = b.linker.Libraries.clone()
		c.LibraryPaths = b.linker.LibraryPaths.clone()
		out.linker = &c
	}
	if b.cxxLinker != nil {
		c := *b.cxxLinker
		out.cxxLinker = &c
	}
	if b.linuxLinker != nil {
		c := *b.linuxLinker
		c.RPath = b.linuxLinker.RPath.clone()
		out.linuxLinker = &c
	}
	if b.osxLinker != nil {
		c := *b.osxLinker
		out.osxLinker = &c
	}
	if b.winLinker != nil {
		c := *b.winLinker
		out.winLinker = &c
	}
	if b.preprocessor != nil {
		c := *b.preprocessor
		c.IncludePaths = b.preprocessor.IncludePaths.clone()
		c.Defines = b.preprocessor.Defines.clone()
		out.preprocessor = &c
	}
	return out
}
