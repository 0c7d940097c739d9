package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

// fileRoot is a struct used to decode all possible top-level blocks from any
// file. Unknown blocks are rejected.
type fileRoot struct {
	Package             *PackageBlock  `hcl:"package,block"`
	Templates           []*ModuleBlock `hcl:"template,block"`
	SourceCollections   []*ModuleBlock `hcl:"source_collection,block"`
	HeaderCollections   []*ModuleBlock `hcl:"header_collection,block"`
	DynamicLibraries    []*ModuleBlock `hcl:"dynamic_library,block"`
	ConsoleApplications []*ModuleBlock `hcl:"console_application,block"`
	ProceduralHeaders   []*ModuleBlock `hcl:"procedural_header,block"`
	PreprocessedFiles   []*ModuleBlock `hcl:"preprocessed_file,block"`
	Collations          []*ModuleBlock `hcl:"collation,block"`
}

// PackageBlock names the package a file declares.
type PackageBlock struct {
	Name    string            `hcl:"name,label"`
	Version string            `hcl:"version,optional"`
	Macros  map[string]string `hcl:"macros,optional"`
}

// ModuleBlock is the body of every module block and of `template` blocks.
type ModuleBlock struct {
	Name             string            `hcl:"name,label"`
	Template         string            `hcl:"template,optional"`
	Group            string            `hcl:"group,optional"`
	Macros           map[string]string `hcl:"macros,optional"`
	Headers          []string          `hcl:"headers,optional"`
	DependsOn        []string          `hcl:"depends_on,optional"`
	UsePublicPatches []string          `hcl:"use_public_patches,optional"`
	LinkAgainst      []string          `hcl:"link_against,optional"`
	Output           string            `hcl:"output,optional"`
	Inputs           []string          `hcl:"inputs,optional"`
	Sources          []*SourcesBlock   `hcl:"sources,block"`
	Patches          []*PatchBlock     `hcl:"patch,block"`
	Export           *ExportBlock      `hcl:"export,block"`
	Version          *VersionBlock     `hcl:"version,block"`
	Includes         []*IncludeBlock   `hcl:"include,block"`
}

// SourcesBlock declares a child source collection.
type SourcesBlock struct {
	Name      string        `hcl:"name,label"`
	Language  string        `hcl:"language,optional"`
	Files     []string      `hcl:"files"`
	DependsOn []string      `hcl:"depends_on,optional"`
	Patches   []*PatchBlock `hcl:"patch,block"`
}

// ArgsBlock holds the raw attributes of one capability block.
type ArgsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// PatchBlock is a settings patch. Each capability block is applied only when
// the bag advertises that capability.
type PatchBlock struct {
	Name         string         `hcl:"name,label"`
	Visibility   string         `hcl:"visibility,optional"`
	Condition    hcl.Expression `hcl:"condition,optional"`
	Require      []string       `hcl:"require,optional"`
	Compiler     *ArgsBlock     `hcl:"compiler,block"`
	CxxCompiler  *ArgsBlock     `hcl:"cxx_compiler,block"`
	Clang        *ArgsBlock     `hcl:"clang,block"`
	Gcc          *ArgsBlock     `hcl:"gcc,block"`
	VisualC      *ArgsBlock     `hcl:"visualc,block"`
	Linker       *ArgsBlock     `hcl:"linker,block"`
	CxxLinker    *ArgsBlock     `hcl:"cxx_linker,block"`
	LinuxLinker  *ArgsBlock     `hcl:"linux_linker,block"`
	OSXLinker    *ArgsBlock     `hcl:"osx_linker,block"`
	WinLinker    *ArgsBlock     `hcl:"win_linker,block"`
	Preprocessor *ArgsBlock     `hcl:"preprocessor,block"`
}

// ExportBlock lists the export selection rules.
type ExportBlock struct {
	Rules []*RuleBlock `hcl:"rule,block"`
}

// RuleBlock is one export selection rule.
type RuleBlock struct {
	Platform       string `hcl:"platform"`
	Bits           int    `hcl:"bits,optional"`
	Configurations string `hcl:"configurations,optional"`
	Source         string `hcl:"source"`
}

// VersionBlock describes a procedural version header.
type VersionBlock struct {
	Prefix  string `hcl:"prefix"`
	Version string `hcl:"version"`
	Body    string `hcl:"body,optional"`
}

// IncludeBlock selects outputs for a collation.
type IncludeBlock struct {
	Pattern string `hcl:"pattern"`
	Key     string `hcl:"key"`
}
