package toolchain

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vk/buildgrid/internal/platform"
	"github.com/vk/buildgrid/internal/settings"
)

// gnuCompileFlags renders compiler settings for gcc and clang.
func gnuCompileFlags(flavor platform.Flavor, bag *settings.Bag) []string {
	var args []string
	if c, ok := bag.Compiler(); ok {
		if c.Bits == 32 {
			args = append(args, "-m32")
		} else if c.Bits == 64 {
			args = append(args, "-m64")
		}
		if c.DebugSymbols {
			args = append(args, "-g")
		}
		switch c.Optimization {
		case "none":
			args = append(args, "-O0")
		case "size":
			args = append(args, "-Os")
		case "speed":
			args = append(args, "-O2")
		}
		for _, p := range c.IncludePaths.Items() {
			args = append(args, "-I"+p)
		}
		for _, p := range c.SystemIncludePaths.Items() {
			args = append(args, "-isystem", p)
		}
		for _, d := range c.Defines.Items() {
			args = append(args, "-D"+d.String())
		}
		for _, w := range c.DisableWarnings.Items() {
			args = append(args, "-Wno-"+w)
		}
		if c.WarningsAsErrors {
			args = append(args, "-Werror")
		}
	}
	if cxx, ok := bag.CxxCompiler(); ok {
		if std := gnuStandard(cxx.LanguageStandard); std != "" {
			args = append(args, "-std="+std)
		}
		if flavor == platform.Clang && cxx.StandardLibrary != "" {
			args = append(args, "-stdlib="+cxx.StandardLibrary)
		}
		switch cxx.ExceptionHandler {
		case "synchronous", "asynchronous":
			args = append(args, "-fexceptions")
		case "none":
			args = append(args, "-fno-exceptions")
		}
	}
	vendor, ok := bag.Gcc()
	if !ok {
		vendor, ok = bag.Clang()
	}
	if ok {
		if vendor.AllWarnings {
			args = append(args, "-Wall")
		}
		if vendor.ExtraWarnings {
			args = append(args, "-Wextra")
		}
		if vendor.Pedantic {
			args = append(args, "-pedantic")
		}
		if vendor.Visibility != "" {
			args = append(args, "-fvisibility="+strings.ToLower(vendor.Visibility))
		}
	}
	return args
}

func gnuStandard(s string) string {
	switch strings.ToLower(strings.ReplaceAll(s, "+", "x")) {
	case "":
		return ""
	case "cxx98", "cpp98":
		return "c++98"
	case "cxx11", "cpp11":
		return "c++11"
	case "cxx14", "cpp14":
		return "c++14"
	case "cxx17", "cpp17":
		return "c++17"
	case "cxx20", "cpp20":
		return "c++20"
	}
	return s
}

// gnuLinkFlags renders linker settings for gcc and clang drivers.
func gnuLinkFlags(flavor platform.Flavor, bag *settings.Bag) []string {
	var args []string
	if l, ok := bag.Linker(); ok {
		if l.Bits == 32 {
			args = append(args, "-m32")
		} else if l.Bits == 64 {
			args = append(args, "-m64")
		}
		if l.DebugSymbols {
			args = append(args, "-g")
		}
		for _, p := range l.LibraryPaths.Items() {
			args = append(args, "-L"+p)
		}
		for _, lib := range l.Libraries.Items() {
			args = append(args, gnuLibrary(lib))
		}
	}
	if cxx, ok := bag.CxxLinker(); ok && flavor == platform.Clang && cxx.StandardLibrary != "" {
		args = append(args, "-stdlib="+cxx.StandardLibrary)
	}
	if ll, ok := bag.LinuxLinker(); ok {
		if ll.SharedObjectName != "" {
			args = append(args, "-Wl,-soname,"+ll.SharedObjectName)
		}
		if ll.VersionScript != "" {
			args = append(args, "-Wl,--version-script="+ll.VersionScript)
		}
		for _, r := range ll.RPath.Items() {
			args = append(args, "-Wl,-rpath,"+r)
		}
		if ll.CanUseOrigin {
			args = append(args, "-Wl,-z,origin")
		}
	}
	if ol, ok := bag.OSXLinker(); ok {
		if ol.ExportedSymbolsList != "" {
			args = append(args, "-exported_symbols_list", ol.ExportedSymbolsList)
		}
		if ol.InstallName != "" {
			args = append(args, "-install_name", ol.InstallName)
		}
	}
	return args
}

func gnuLibrary(lib string) string {
	if strings.HasPrefix(lib, "-") || strings.ContainsAny(lib, `/\`) || filepath.Ext(lib) != "" {
		return lib
	}
	return "-l" + lib
}

// msvcCompileFlags renders compiler settings for cl.exe.
func msvcCompileFlags(bag *settings.Bag) []string {
	var args []string
	if c, ok := bag.Compiler(); ok {
		if c.DebugSymbols {
			args = append(args, "/Z7")
		}
		switch c.Optimization {
		case "none":
			args = append(args, "/Od")
		case "size":
			args = append(args, "/O1")
		case "speed":
			args = append(args, "/O2")
		}
		for _, p := range c.IncludePaths.Items() {
			args = append(args, "/I"+p)
		}
		for _, p := range c.SystemIncludePaths.Items() {
			args = append(args, "/I"+p)
		}
		for _, d := range c.Defines.Items() {
			args = append(args, "/D"+d.String())
		}
		for _, w := range c.DisableWarnings.Items() {
			args = append(args, "/wd"+w)
		}
		if c.WarningsAsErrors {
			args = append(args, "/WX")
		}
	}
	if cxx, ok := bag.CxxCompiler(); ok {
		switch cxx.ExceptionHandler {
		case "synchronous":
			args = append(args, "/EHsc")
		case "asynchronous":
			args = append(args, "/EHa")
		}
		if std := gnuStandard(cxx.LanguageStandard); std == "c++17" || std == "c++20" {
			args = append(args, "/std:"+std)
		}
	}
	if vc, ok := bag.VisualC(); ok {
		if vc.WarningLevel > 0 {
			args = append(args, fmt.Sprintf("/W%d", vc.WarningLevel))
		}
		if vc.RuntimeLibrary != "" {
			args = append(args, "/"+vc.RuntimeLibrary)
		}
	}
	return args
}

// msvcLinkFlags renders linker settings for link.exe.
func msvcLinkFlags(bag *settings.Bag) []string {
	var args []string
	if l, ok := bag.Linker(); ok {
		if l.Bits == 32 {
			args = append(args, "/MACHINE:X86")
		} else if l.Bits == 64 {
			args = append(args, "/MACHINE:X64")
		}
		if l.DebugSymbols {
			args = append(args, "/DEBUG")
		}
		for _, p := range l.LibraryPaths.Items() {
			args = append(args, "/LIBPATH:"+p)
		}
		for _, lib := range l.Libraries.Items() {
			if filepath.Ext(lib) == "" {
				lib += ".lib"
			}
			args = append(args, lib)
		}
	}
	if wl, ok := bag.WinLinker(); ok {
		if wl.ModuleDefinitionFile != "" {
			args = append(args, "/DEF:"+wl.ModuleDefinitionFile)
		}
		if wl.SubSystem != "" {
			args = append(args, "/SUBSYSTEM:"+strings.ToUpper(wl.SubSystem))
		}
	}
	return args
}

func preprocessorFlags(msvc bool, bag *settings.Bag) []string {
	var args []string
	p, ok := bag.Preprocessor()
	if !ok {
		return nil
	}
	for _, dir := range p.IncludePaths.Items() {
		if msvc {
			args = append(args, "/I"+dir)
		} else {
			args = append(args, "-I"+dir)
		}
	}
	for _, d := range p.Defines.Items() {
		if msvc {
			args = append(args, "/D"+d.String())
		} else {
			args = append(args, "-D"+d.String())
		}
	}
	return args
}
