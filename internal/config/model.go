package config

import (
	"github.com/hashicorp/hcl/v2"
)

// Model is the unified, format-agnostic representation of every loaded build
// description.
type Model struct {
	Packages  []*Package
	Modules   []*ModuleDecl
	Templates map[string]*TemplateDecl
}

// Package groups the modules declared by one build description. Its
// directory becomes $(packagedir) of every module it declares.
type Package struct {
	Name    string
	Dir     string
	File    string
	Version string
	Macros  map[string]string
}

// ModuleDecl is the format-agnostic representation of one module block.
type ModuleDecl struct {
	Kind     string
	Name     string
	Package  *Package
	Template string
	Body
}

// TemplateDecl is a reusable body whose declarations run before those of
// every module that names it.
type TemplateDecl struct {
	Name string
	Body
}

// Body holds the declarations shared by modules and templates.
type Body struct {
	Group            string
	Macros           map[string]string
	Sources          []*SourceDecl
	Headers          []string
	DependsOn        []string
	UsePublicPatches []string
	LinkAgainst      []string
	Patches          []*PatchDecl
	Export           *ExportDecl
	Version          *VersionDecl
	Output           string
	Inputs           []string
	Collate          []*IncludeDecl
}

// Merge returns b with other's declarations appended. Scalars set in other
// win.
func (b Body) Merge(other Body) Body {
	out := b
	if other.Group != "" {
		out.Group = other.Group
	}
	if len(b.Macros)+len(other.Macros) > 0 {
		out.Macros = make(map[string]string, len(b.Macros)+len(other.Macros))
		for k, v := range b.Macros {
			out.Macros[k] = v
		}
		for k, v := range other.Macros {
			out.Macros[k] = v
		}
	}
	out.Sources = mergeSources(b.Sources, other.Sources)
	out.Headers = append(append([]string(nil), b.Headers...), other.Headers...)
	out.DependsOn = append(append([]string(nil), b.DependsOn...), other.DependsOn...)
	out.UsePublicPatches = append(append([]string(nil), b.UsePublicPatches...), other.UsePublicPatches...)
	out.LinkAgainst = append(append([]string(nil), b.LinkAgainst...), other.LinkAgainst...)
	out.Patches = append(append([]*PatchDecl(nil), b.Patches...), other.Patches...)
	out.Inputs = append(append([]string(nil), b.Inputs...), other.Inputs...)
	out.Collate = append(append([]*IncludeDecl(nil), b.Collate...), other.Collate...)
	if other.Export != nil {
		out.Export = other.Export
	}
	if other.Version != nil {
		out.Version = other.Version
	}
	if other.Output != "" {
		out.Output = other.Output
	}
	return out
}

// mergeSources appends other to base. A collection declared in both is
// combined into one: files, dependencies and patches accumulate and other's
// language wins.
func mergeSources(base, other []*SourceDecl) []*SourceDecl {
	if len(base)+len(other) == 0 {
		return nil
	}
	out := make([]*SourceDecl, 0, len(base)+len(other))
	index := make(map[string]int, len(base))
	for _, s := range base {
		c := *s
		index[c.Name] = len(out)
		out = append(out, &c)
	}
	for _, s := range other {
		i, ok := index[s.Name]
		if !ok {
			c := *s
			index[c.Name] = len(out)
			out = append(out, &c)
			continue
		}
		merged := *out[i]
		if s.Language != "" {
			merged.Language = s.Language
		}
		merged.Files = append(append([]string(nil), merged.Files...), s.Files...)
		merged.DependsOn = append(append([]string(nil), merged.DependsOn...), s.DependsOn...)
		merged.Patches = append(append([]*PatchDecl(nil), merged.Patches...), s.Patches...)
		out[i] = &merged
	}
	return out
}

// SourceDecl declares a child source collection.
type SourceDecl struct {
	Name      string
	Language  string
	Files     []string
	DependsOn []string
	Patches   []*PatchDecl
}

// PatchDecl is a settings patch. Condition and capability arguments are
// evaluated when the patch is applied.
type PatchDecl struct {
	Name       string
	Visibility string
	Condition  hcl.Expression
	Require    []string
	Blocks     []*CapabilityBlock
}

// CapabilityBlock holds the raw arguments for one capability of the bag.
type CapabilityBlock struct {
	Capability string
	Arguments  map[string]hcl.Expression
}

// ExportDecl selects an export-definition source per environment.
type ExportDecl struct {
	Rules []*ExportRuleDecl
}

// ExportRuleDecl is one row of the export selection table.
type ExportRuleDecl struct {
	Platform       string
	Bits           int
	Configurations string
	Source         string
}

// VersionDecl describes the content of a procedural version header.
type VersionDecl struct {
	Prefix  string
	Version string
	Body    string
}

// IncludeDecl selects outputs of matching modules for a collation.
type IncludeDecl struct {
	Pattern string
	Key     string
}
