package settings

// CompilerSettings holds options common to every compiler.
type CompilerSettings struct {
	IncludePaths       PathList
	SystemIncludePaths PathList
	Defines            Defines
	DisableWarnings    PathList
	WarningsAsErrors   bool
	DebugSymbols       bool
	Optimization       string
	Bits               int
}

// CxxCompilerSettings holds C++-only compiler options.
type CxxCompilerSettings struct {
	LanguageStandard string
	StandardLibrary  string
	ExceptionHandler string
}

// VendorSettings holds warning and visibility switches shared by GCC and Clang.
type VendorSettings struct {
	AllWarnings   bool
	ExtraWarnings bool
	Pedantic      bool
	Visibility    string
}

// VisualCSettings holds options specific to the Microsoft compiler.
type VisualCSettings struct {
	WarningLevel   int
	RuntimeLibrary string
}

// LinkerSettings holds options common to every linker.
type LinkerSettings struct {
	Libraries    PathList
	LibraryPaths PathList
	DebugSymbols bool
	Bits         int
}

// CxxLinkerSettings holds C++ runtime options for the linker.
type CxxLinkerSettings struct {
	StandardLibrary string
}

// LinuxLinkerSettings holds ELF linker options.
type LinuxLinkerSettings struct {
	RPath            PathList
	CanUseOrigin     bool
	VersionScript    string
	SharedObjectName string
}

// OSXLinkerSettings holds Mach-O linker options.
type OSXLinkerSettings struct {
	ExportedSymbolsList string
	InstallName         string
}

// WinLinkerSettings holds PE linker options.
type WinLinkerSettings struct {
	ModuleDefinitionFile string
	SubSystem            string
}

// PreprocessorSettings holds options of a standalone preprocessing step.
type PreprocessorSettings struct {
	IncludePaths PathList
	Defines      Defines
}
