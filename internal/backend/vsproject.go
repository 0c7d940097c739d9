package backend

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/module"
	"github.com/vk/buildgrid/internal/platform"
	"github.com/vk/buildgrid/internal/settings"
	"github.com/vk/buildgrid/internal/toolchain"
)

const (
	vcxprojTypeGUID = "{8BC9CEB8-8B4A-11D0-8D11-00A0C91BC942}"
	folderTypeGUID  = "{2150E333-8FDC-42A3-9474-1A3956D46DE8}"
	msbuildNS       = "http://schemas.microsoft.com/developer/msbuild/2003"
)

// guidNamespace seeds the name-based project GUIDs so that regenerating a
// solution keeps identities stable.
var guidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("buildgrid"))

// ProjectGUID returns the stable GUID of a project or solution folder name.
func ProjectGUID(name string) string {
	return "{" + strings.ToUpper(uuid.NewSHA1(guidNamespace, []byte(name)).String()) + "}"
}

// VSProject emits one .vcxproj per linked module and a .sln that groups them.
type VSProject struct {
	opts Options
}

func (b *VSProject) Name() string { return ModeVSProject }

type renderedProject struct {
	module *module.Module
	file   string
	data   []byte
}

// Execute writes procedural headers, renders every project concurrently and
// then writes the project files and the solution.
func (b *VSProject) Execute(ctx context.Context, g *graph.Graph) error {
	logger := ctxlog.FromContext(ctx)
	if err := b.writeHeaders(g); err != nil {
		return err
	}

	var linked []*module.Module
	for _, m := range g.Modules() {
		if m.Kind().Links() {
			linked = append(linked, m)
		}
	}

	projects := make([]renderedProject, len(linked))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.opts.Workers)
	for i, m := range linked {
		i, m := i, m
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			data, err := b.RenderProject(g, m)
			if err != nil {
				return err
			}
			projects[i] = renderedProject{module: m, file: m.ID().Label() + ".vcxproj", data: data}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if err := b.opts.FS.MkdirAll(b.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", b.opts.OutputDir, err)
	}
	for _, p := range projects {
		target := path.Join(b.opts.OutputDir, p.file)
		if err := util.WriteFile(b.opts.FS, target, p.data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
		logger.Debug("Project written.", "module", p.module.ID().String(), "path", target)
	}

	sln := b.RenderSolution(g, linked)
	target := path.Join(b.opts.OutputDir, SolutionName(g)+".sln")
	if err := util.WriteFile(b.opts.FS, target, []byte(sln), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	logger.Info("Solution written.", "path", target, "projects", len(projects))
	return nil
}

// SolutionName names the solution after the single root, or after the tool
// when several roots were requested.
func SolutionName(g *graph.Graph) string {
	roots := g.Roots()
	if len(roots) == 1 {
		return roots[0].Label()
	}
	return "buildgrid"
}

// writeHeaders writes every procedural header up front. MSBuild has no rule
// that could produce them.
func (b *VSProject) writeHeaders(g *graph.Graph) error {
	for _, step := range g.Steps() {
		if step.Action != graph.ActionGenerate {
			continue
		}
		m := step.Module
		if len(step.Outputs) == 0 {
			return &GenerationError{Module: m.ID().String(), Output: module.OutputHeader}
		}
		content, ok, err := m.Content()
		if err == nil && !ok {
			err = fmt.Errorf("module has no content generator")
		}
		if err != nil {
			return &GenerationError{Module: m.ID().String(), Output: step.Outputs[0], Err: err}
		}
		if err := writeIfChanged(b.opts.FS, step.Outputs[0], []byte(content)); err != nil {
			return &GenerationError{Module: m.ID().String(), Output: step.Outputs[0], Err: err}
		}
	}
	return nil
}

// VSConfiguration returns the MSBuild configuration and platform names of env.
func VSConfiguration(env platform.Environment) (string, string) {
	cfg := env.Configuration.String()
	if cfg != "" {
		cfg = strings.ToUpper(cfg[:1]) + cfg[1:]
	}
	plat := "x64"
	if env.Bits == 32 {
		plat = "Win32"
	}
	return cfg, plat
}

type vcxProject struct {
	XMLName        xml.Name           `xml:"Project"`
	DefaultTargets string             `xml:"DefaultTargets,attr"`
	ToolsVersion   string             `xml:"ToolsVersion,attr"`
	Xmlns          string             `xml:"xmlns,attr"`
	ItemGroups     []vcxItemGroup     `xml:"ItemGroup"`
	PropertyGroups []vcxPropertyGroup `xml:"PropertyGroup"`
	Imports        []vcxImport        `xml:"Import"`
	Definitions    []vcxDefinitions   `xml:"ItemDefinitionGroup"`
}

type vcxItemGroup struct {
	Label          string                `xml:"Label,attr,omitempty"`
	Configurations []vcxProjectConfig    `xml:"ProjectConfiguration"`
	Compile        []vcxClCompile        `xml:"ClCompile"`
	Include        []vcxInclude          `xml:"ClInclude"`
	CustomBuild    []vcxCustomBuild      `xml:"CustomBuild"`
	References     []vcxProjectReference `xml:"ProjectReference"`
}

type vcxProjectConfig struct {
	Include       string `xml:"Include,attr"`
	Configuration string `xml:"Configuration"`
	Platform      string `xml:"Platform"`
}

type vcxPropertyGroup struct {
	Label             string `xml:"Label,attr,omitempty"`
	Condition         string `xml:"Condition,attr,omitempty"`
	ProjectGUID       string `xml:"ProjectGuid,omitempty"`
	RootNamespace     string `xml:"RootNamespace,omitempty"`
	Keyword           string `xml:"Keyword,omitempty"`
	ConfigurationType string `xml:"ConfigurationType,omitempty"`
	PlatformToolset   string `xml:"PlatformToolset,omitempty"`
	CharacterSet      string `xml:"CharacterSet,omitempty"`
	OutDir            string `xml:"OutDir,omitempty"`
	IntDir            string `xml:"IntDir,omitempty"`
	TargetName        string `xml:"TargetName,omitempty"`
	TargetExt         string `xml:"TargetExt,omitempty"`
}

type vcxImport struct {
	Project string `xml:"Project,attr"`
}

type vcxDefinitions struct {
	Condition string       `xml:"Condition,attr,omitempty"`
	Compile   *vcxCompiler `xml:"ClCompile"`
	Link      *vcxLinker   `xml:"Link"`
}

type vcxCompiler struct {
	AdditionalIncludeDirectories string `xml:"AdditionalIncludeDirectories,omitempty"`
	PreprocessorDefinitions      string `xml:"PreprocessorDefinitions,omitempty"`
	WarningLevel                 string `xml:"WarningLevel,omitempty"`
	TreatWarningAsError          string `xml:"TreatWarningAsError,omitempty"`
	DisableSpecificWarnings      string `xml:"DisableSpecificWarnings,omitempty"`
	Optimization                 string `xml:"Optimization,omitempty"`
	RuntimeLibrary               string `xml:"RuntimeLibrary,omitempty"`
	LanguageStandard             string `xml:"LanguageStandard,omitempty"`
	DebugInformationFormat       string `xml:"DebugInformationFormat,omitempty"`
}

type vcxLinker struct {
	AdditionalDependencies       string `xml:"AdditionalDependencies,omitempty"`
	AdditionalLibraryDirectories string `xml:"AdditionalLibraryDirectories,omitempty"`
	ModuleDefinitionFile         string `xml:"ModuleDefinitionFile,omitempty"`
	SubSystem                    string `xml:"SubSystem,omitempty"`
	GenerateDebugInformation     string `xml:"GenerateDebugInformation,omitempty"`
	OutputFile                   string `xml:"OutputFile,omitempty"`
	ImportLibrary                string `xml:"ImportLibrary,omitempty"`
}

type vcxClCompile struct {
	Include                      string `xml:"Include,attr"`
	ObjectFileName               string `xml:"ObjectFileName,omitempty"`
	CompileAs                    string `xml:"CompileAs,omitempty"`
	AdditionalIncludeDirectories string `xml:"AdditionalIncludeDirectories,omitempty"`
	PreprocessorDefinitions      string `xml:"PreprocessorDefinitions,omitempty"`
}

type vcxInclude struct {
	Include string `xml:"Include,attr"`
}

type vcxCustomBuild struct {
	Include     string `xml:"Include,attr"`
	Message     string `xml:"Message"`
	Command     string `xml:"Command"`
	Outputs     string `xml:"Outputs"`
	LinkObjects string `xml:"LinkObjects"`
}

type vcxProjectReference struct {
	Include string `xml:"Include,attr"`
	Project string `xml:"Project"`
}

// RenderProject returns the .vcxproj document of the linked module m.
func (b *VSProject) RenderProject(g *graph.Graph, m *module.Module) ([]byte, error) {
	env := g.Env()
	cfgName, platName := VSConfiguration(env)
	condition := fmt.Sprintf("'$(Configuration)|$(Platform)'=='%s|%s'", cfgName, platName)
	label := m.ID().Label()

	configType := "Application"
	primary, _ := m.Output(module.OutputExecutable)
	if m.Kind() == module.KindDynamicLibrary {
		configType = "DynamicLibrary"
		primary, _ = m.Output(module.OutputDynamic)
	}

	proj := vcxProject{
		DefaultTargets: "Build",
		ToolsVersion:   "17.0",
		Xmlns:          msbuildNS,
	}
	proj.ItemGroups = append(proj.ItemGroups, vcxItemGroup{
		Label: "ProjectConfigurations",
		Configurations: []vcxProjectConfig{{
			Include:       cfgName + "|" + platName,
			Configuration: cfgName,
			Platform:      platName,
		}},
	})
	proj.PropertyGroups = append(proj.PropertyGroups,
		vcxPropertyGroup{Label: "Globals", ProjectGUID: ProjectGUID(m.ID().String()), RootNamespace: label, Keyword: "Win32Proj"},
		vcxPropertyGroup{
			Label: "Configuration", Condition: condition,
			ConfigurationType: configType, PlatformToolset: "v143", CharacterSet: "Unicode",
		},
	)
	proj.Imports = append(proj.Imports,
		vcxImport{Project: `$(VCTargetsPath)\Microsoft.Cpp.Default.props`},
		vcxImport{Project: `$(VCTargetsPath)\Microsoft.Cpp.props`},
	)
	if primary != "" {
		ext := path.Ext(primary)
		proj.PropertyGroups = append(proj.PropertyGroups, vcxPropertyGroup{
			Condition:  condition,
			OutDir:     winDir(path.Dir(primary)),
			IntDir:     winDir(path.Join(path.Dir(primary), "obj", label)),
			TargetName: strings.TrimSuffix(path.Base(primary), ext),
			TargetExt:  ext,
		})
	}

	var sources []*module.Module
	var compile vcxItemGroup
	var includes vcxItemGroup
	var custom vcxItemGroup
	for _, child := range m.Children() {
		step := g.StepFor(child)
		switch child.Kind() {
		case module.KindSourceCollection:
			sources = append(sources, child)
			for _, u := range step.Units {
				item := vcxClCompile{Include: winPath(u.Input), ObjectFileName: winPath(u.Output)}
				if child.Language() == module.LangC {
					item.CompileAs = "CompileAsC"
				}
				if len(sources) > 1 && child.Settings() != nil {
					if c, ok := child.Settings().Compiler(); ok {
						item.AdditionalIncludeDirectories = joinPaths(c.IncludePaths.Items(), "%(AdditionalIncludeDirectories)")
						item.PreprocessorDefinitions = joinDefines(c.Defines.Items(), "%(PreprocessorDefinitions)")
					}
				}
				compile.Compile = append(compile.Compile, item)
			}
		case module.KindHeaderCollection:
			for _, h := range child.Inputs() {
				includes.Include = append(includes.Include, vcxInclude{Include: winPath(h)})
			}
		case module.KindPreprocessedFile:
			cb, err := b.customBuild(child, step)
			if err != nil {
				return nil, err
			}
			if cb != nil {
				custom.CustomBuild = append(custom.CustomBuild, *cb)
			}
		}
	}

	defs := vcxDefinitions{Condition: condition}
	if len(sources) > 0 && sources[0].Settings() != nil {
		defs.Compile = compilerDefinitions(sources[0].Settings())
	}
	if bag := m.Settings(); bag != nil {
		defs.Link = linkerDefinitions(bag)
		if imp, ok := m.Output(module.OutputImportLib); ok {
			defs.Link.ImportLibrary = winPath(imp)
		}
		if primary != "" {
			defs.Link.OutputFile = winPath(primary)
		}
	}
	proj.Definitions = append(proj.Definitions, defs)

	var refs vcxItemGroup
	for _, id := range m.LinkedLibraries() {
		refs.References = append(refs.References, vcxProjectReference{
			Include: id.Label() + ".vcxproj",
			Project: ProjectGUID(id.String()),
		})
	}
	for _, group := range []vcxItemGroup{compile, includes, custom, refs} {
		if len(group.Compile)+len(group.Include)+len(group.CustomBuild)+len(group.References) > 0 {
			proj.ItemGroups = append(proj.ItemGroups, group)
		}
	}
	proj.Imports = append(proj.Imports, vcxImport{Project: `$(VCTargetsPath)\Microsoft.Cpp.targets`})

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(proj); err != nil {
		return nil, fmt.Errorf("encoding project of %s: %w", m.ID(), err)
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// customBuild turns a preprocessed export file into a CustomBuild item.
func (b *VSProject) customBuild(m *module.Module, step graph.Step) (*vcxCustomBuild, error) {
	if len(step.Inputs) != 1 || len(step.Outputs) != 1 {
		return nil, nil
	}
	var command string
	if b.opts.Toolchain != nil && m.Settings() != nil {
		args, err := b.opts.Toolchain.CommandLine(toolchain.Invocation{
			Kind: toolchain.Preprocessor, Module: m.ID().String(), Settings: m.Settings(),
			Inputs: step.Inputs, Outputs: step.Outputs,
		})
		if err != nil {
			return nil, err
		}
		command = strings.Join(args, " ")
	} else {
		args := []string{"cl.exe", "/nologo", "/EP", "/P"}
		if m.Settings() != nil {
			if p, ok := m.Settings().Preprocessor(); ok {
				for _, dir := range p.IncludePaths.Items() {
					args = append(args, "/I"+winPath(dir))
				}
				for _, d := range p.Defines.Items() {
					args = append(args, "/D"+d.String())
				}
			}
		}
		command = strings.Join(append(args, "/Fi"+winPath(step.Outputs[0]), winPath(step.Inputs[0])), " ")
	}
	return &vcxCustomBuild{
		Include:     winPath(step.Inputs[0]),
		Message:     "Preprocessing " + path.Base(step.Inputs[0]),
		Command:     command,
		Outputs:     winPath(step.Outputs[0]),
		LinkObjects: "false",
	}, nil
}

func compilerDefinitions(bag *settings.Bag) *vcxCompiler {
	c, ok := bag.Compiler()
	if !ok {
		return nil
	}
	out := &vcxCompiler{
		AdditionalIncludeDirectories: joinPaths(append(c.IncludePaths.Items(), c.SystemIncludePaths.Items()...), "%(AdditionalIncludeDirectories)"),
		PreprocessorDefinitions:      joinDefines(c.Defines.Items(), "%(PreprocessorDefinitions)"),
		DisableSpecificWarnings:      strings.Join(c.DisableWarnings.Items(), ";"),
		Optimization:                 "Disabled",
	}
	if c.WarningsAsErrors {
		out.TreatWarningAsError = "true"
	}
	if c.Optimization == "speed" {
		out.Optimization = "MaxSpeed"
	}
	if c.DebugSymbols {
		out.DebugInformationFormat = "ProgramDatabase"
	}
	if v, ok := bag.VisualC(); ok {
		if v.WarningLevel > 0 {
			out.WarningLevel = fmt.Sprintf("Level%d", v.WarningLevel)
		}
		out.RuntimeLibrary = v.RuntimeLibrary
	}
	if cxx, ok := bag.CxxCompiler(); ok && cxx.LanguageStandard != "" {
		out.LanguageStandard = "stdcpp" + strings.TrimPrefix(strings.TrimPrefix(cxx.LanguageStandard, "c++"), "gnu++")
	}
	return out
}

func linkerDefinitions(bag *settings.Bag) *vcxLinker {
	out := &vcxLinker{}
	if l, ok := bag.Linker(); ok {
		libs := make([]string, 0, l.Libraries.Len())
		for _, lib := range l.Libraries.Items() {
			if path.Ext(lib) == "" {
				lib += ".lib"
			}
			libs = append(libs, winPath(lib))
		}
		out.AdditionalDependencies = joinPaths(libs, "%(AdditionalDependencies)")
		out.AdditionalLibraryDirectories = joinPaths(l.LibraryPaths.Items(), "%(AdditionalLibraryDirectories)")
		if l.DebugSymbols {
			out.GenerateDebugInformation = "true"
		}
	}
	if w, ok := bag.WinLinker(); ok {
		if w.ModuleDefinitionFile != "" {
			out.ModuleDefinitionFile = winPath(w.ModuleDefinitionFile)
		}
		out.SubSystem = w.SubSystem
	}
	return out
}

// RenderSolution returns the .sln text that lists projects and puts each
// grouped project in a solution folder named after its group.
func (b *VSProject) RenderSolution(g *graph.Graph, projects []*module.Module) string {
	cfgName, platName := VSConfiguration(g.Env())
	pair := cfgName + "|" + platName

	var sb strings.Builder
	sb.WriteString("\ufeff\r\n")
	sb.WriteString("Microsoft Visual Studio Solution File, Format Version 12.00\r\n")
	sb.WriteString("# Visual Studio Version 17\r\n")

	folders := map[string]bool{}
	for _, m := range projects {
		guid := ProjectGUID(m.ID().String())
		label := m.ID().Label()
		fmt.Fprintf(&sb, "Project(\"%s\") = \"%s\", \"%s.vcxproj\", \"%s\"\r\n", vcxprojTypeGUID, label, label, guid)
		if libs := m.LinkedLibraries(); len(libs) > 0 {
			sb.WriteString("\tProjectSection(ProjectDependencies) = postProject\r\n")
			for _, id := range libs {
				dep := ProjectGUID(id.String())
				fmt.Fprintf(&sb, "\t\t%s = %s\r\n", dep, dep)
			}
			sb.WriteString("\tEndProjectSection\r\n")
		}
		sb.WriteString("EndProject\r\n")
		if m.Group() != "" {
			folders[m.Group()] = true
		}
	}

	names := make([]string, 0, len(folders))
	for name := range folders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		guid := ProjectGUID("folder:" + name)
		fmt.Fprintf(&sb, "Project(\"%s\") = \"%s\", \"%s\", \"%s\"\r\n", folderTypeGUID, name, name, guid)
		sb.WriteString("EndProject\r\n")
	}

	sb.WriteString("Global\r\n")
	sb.WriteString("\tGlobalSection(SolutionConfigurationPlatforms) = preSolution\r\n")
	fmt.Fprintf(&sb, "\t\t%s = %s\r\n", pair, pair)
	sb.WriteString("\tEndGlobalSection\r\n")
	sb.WriteString("\tGlobalSection(ProjectConfigurationPlatforms) = postSolution\r\n")
	for _, m := range projects {
		guid := ProjectGUID(m.ID().String())
		fmt.Fprintf(&sb, "\t\t%s.%s.ActiveCfg = %s\r\n", guid, pair, pair)
		fmt.Fprintf(&sb, "\t\t%s.%s.Build.0 = %s\r\n", guid, pair, pair)
	}
	sb.WriteString("\tEndGlobalSection\r\n")
	if len(names) > 0 {
		sb.WriteString("\tGlobalSection(NestedProjects) = preSolution\r\n")
		for _, m := range projects {
			if m.Group() == "" {
				continue
			}
			fmt.Fprintf(&sb, "\t\t%s = %s\r\n", ProjectGUID(m.ID().String()), ProjectGUID("folder:"+m.Group()))
		}
		sb.WriteString("\tEndGlobalSection\r\n")
	}
	sb.WriteString("EndGlobal\r\n")
	return sb.String()
}

func winPath(p string) string {
	return strings.ReplaceAll(p, "/", `\`)
}

func winDir(p string) string {
	return winPath(p) + `\`
}

func joinPaths(items []string, inherit string) string {
	if len(items) == 0 {
		return ""
	}
	out := make([]string, 0, len(items)+1)
	for _, it := range items {
		out = append(out, winPath(it))
	}
	return strings.Join(append(out, inherit), ";")
}

func joinDefines(items []settings.Define, inherit string) string {
	if len(items) == 0 {
		return ""
	}
	out := make([]string, 0, len(items)+1)
	for _, d := range items {
		out = append(out, d.String())
	}
	return strings.Join(append(out, inherit), ";")
}
