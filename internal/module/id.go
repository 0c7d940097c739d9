package module

import (
	"fmt"
	"path"
	"strings"
)

// ID identifies a module by type and optional name, written "type.name".
type ID struct {
	Type string
	Name string
}

// ParseID parses "type" or "type.name".
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, fmt.Errorf("empty module identifier")
	}
	typ, name, _ := strings.Cut(s, ".")
	if typ == "" {
		return ID{}, fmt.Errorf("module identifier %q has no type", s)
	}
	return ID{Type: typ, Name: name}, nil
}

func (id ID) String() string {
	if id.Name == "" {
		return id.Type
	}
	return id.Type + "." + id.Name
}

// Label returns the most specific human-readable part of the identity.
func (id ID) Label() string {
	if id.Name == "" {
		return id.Type
	}
	return id.Name
}

// Match reports whether id matches pattern. Patterns use path.Match syntax
// against the "type.name" form, so "console_application.*" selects every
// console application.
func (id ID) Match(pattern string) bool {
	ok, err := path.Match(pattern, id.String())
	return err == nil && ok
}

// Kind is the buildable role of a module.
type Kind string

const (
	KindSourceCollection   Kind = "source_collection"
	KindHeaderCollection   Kind = "header_collection"
	KindDynamicLibrary     Kind = "dynamic_library"
	KindConsoleApplication Kind = "console_application"
	KindProceduralHeader   Kind = "procedural_header"
	KindPreprocessedFile   Kind = "preprocessed_file"
	KindCollation          Kind = "collation"
)

// ParseKind validates a kind name used in build descriptions.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSourceCollection, KindHeaderCollection, KindDynamicLibrary,
		KindConsoleApplication, KindProceduralHeader, KindPreprocessedFile, KindCollation:
		return k, nil
	}
	return "", fmt.Errorf("unknown module kind %q", s)
}

// Links reports whether modules of this kind run the linker.
func (k Kind) Links() bool {
	return k == KindDynamicLibrary || k == KindConsoleApplication
}

// Language selects the compiler used for a source collection.
type Language string

const (
	LangC   Language = "c"
	LangCxx Language = "cxx"
)

// ParseLanguage validates a language name.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c":
		return LangC, nil
	case "cxx", "c++", "cpp":
		return LangCxx, nil
	}
	return "", fmt.Errorf("unknown source language %q", s)
}

// Well-known output keys.
const (
	OutputObject     = "object"
	OutputExecutable = "exe"
	OutputDynamic    = "dynamic"
	OutputImportLib  = "import"
	OutputHeader     = "header"
	OutputExport     = "export"
	OutputPublish    = "publish"
)
