package hcl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/errkind"
)

// Loader reads build descriptions from *.hcl files.
type Loader struct{}

// NewLoader creates a new HCL build-description loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under paths. Every file is its own
// package; its directory becomes the package directory. Every failure is a
// configuration error.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, config.Converter, error) {
	model, conv, err := l.load(ctx, paths)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errkind.ErrConfiguration, err)
	}
	return model, conv, nil
}

func (l *Loader) load(ctx context.Context, paths []string) (*config.Model, config.Converter, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := discover(paths)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no .hcl build descriptions found in %s", strings.Join(paths, ", "))
	}
	logger.Debug("Loading build descriptions.", "files", len(files))

	model := &config.Model{Templates: make(map[string]*config.TemplateDecl)}
	parser := hclparse.NewParser()
	for _, file := range files {
		if err := l.loadFile(ctx, parser, file, model); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", file, err)
		}
	}

	sort.SliceStable(model.Modules, func(i, j int) bool {
		a, b := model.Modules[i], model.Modules[j]
		if a.Package.File != b.Package.File {
			return a.Package.File < b.Package.File
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Name < b.Name
	})

	logger.Debug("Build descriptions loaded.", "packages", len(model.Packages), "modules", len(model.Modules), "templates", len(model.Templates))
	return model, NewConverter(), nil
}

// loadFile adds the package, templates and modules declared in one file to model.
func (l *Loader) loadFile(ctx context.Context, parser *hclparse.Parser, file string, model *config.Model) error {
	f, diags := parser.ParseHCLFile(file)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse: %w", diags)
	}
	var root fileRoot
	if diags := gohcl.DecodeBody(f.Body, nil, &root); diags.HasErrors() {
		return fmt.Errorf("failed to decode: %w", diags)
	}

	pkg, err := translatePackage(file, root.Package)
	if err != nil {
		return err
	}
	model.Packages = append(model.Packages, pkg)

	for _, tmpl := range root.Templates {
		switch {
		case model.Templates[tmpl.Name] != nil:
			return fmt.Errorf("template %q is declared more than once", tmpl.Name)
		case tmpl.Template != "":
			return fmt.Errorf("template %q cannot itself use a template", tmpl.Name)
		}
		body, err := l.translateBody(ctx, tmpl)
		if err != nil {
			return fmt.Errorf("template %q: %w", tmpl.Name, err)
		}
		model.Templates[tmpl.Name] = &config.TemplateDecl{Name: tmpl.Name, Body: body}
	}

	for kind, blocks := range root.modules() {
		for _, block := range blocks {
			body, err := l.translateBody(ctx, block)
			if err != nil {
				return fmt.Errorf("%s %q: %w", kind, block.Name, err)
			}
			model.Modules = append(model.Modules, &config.ModuleDecl{
				Kind:     kind,
				Name:     block.Name,
				Package:  pkg,
				Template: block.Template,
				Body:     body,
			})
		}
	}
	return nil
}

// modules maps every module kind to its decoded blocks.
func (r *fileRoot) modules() map[string][]*ModuleBlock {
	return map[string][]*ModuleBlock{
		"source_collection":   r.SourceCollections,
		"header_collection":   r.HeaderCollections,
		"dynamic_library":     r.DynamicLibraries,
		"console_application": r.ConsoleApplications,
		"procedural_header":   r.ProceduralHeaders,
		"preprocessed_file":   r.PreprocessedFiles,
		"collation":           r.Collations,
	}
}

// discover expands paths into a sorted, de-duplicated list of absolute .hcl
// file paths. Directories are searched recursively; missing paths are skipped.
func discover(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, root := range paths {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			switch {
			case errors.Is(err, fs.ErrNotExist) && p == root:
				return fs.SkipAll
			case err != nil:
				return err
			case d.IsDir() || filepath.Ext(p) != ".hcl":
				return nil
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				return err
			}
			if !seen[abs] {
				seen[abs] = true
				files = append(files, abs)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}
