// Package tokenized implements macro-bearing path templates such as
// "$(packagedir)/include/**.h". A template captures its macro table when it is
// created, so resolving it later always yields the same result.
package tokenized

import (
	"regexp"
	"strings"
)

var macroRef = regexp.MustCompile(`\$\(([A-Za-z_][A-Za-z0-9_.]*)\)`)

// String is a template string bound to a frozen macro table.
type String struct {
	raw    string
	macros map[string]string
}

// New binds raw to a snapshot of table. A nil table binds no macros.
func New(raw string, table *Table) String {
	var macros map[string]string
	if table != nil {
		macros = table.Snapshot()
	}
	return String{raw: raw, macros: macros}
}

// Literal returns a template that contains no macro references of its own.
func Literal(s string) String {
	return String{raw: s}
}

// Raw returns the unresolved template text.
func (s String) Raw() string { return s.raw }

// IsZero reports whether the template is empty.
func (s String) IsZero() bool { return s.raw == "" }

func (s String) String() string { return s.raw }

// Resolve expands every macro reference, including references found inside
// macro values.
func (s String) Resolve() (string, error) {
	return s.expand(s.raw, nil)
}

// MustResolve is like Resolve but panics on error. It is meant for templates
// built by code with known macro tables.
func (s String) MustResolve() string {
	out, err := s.Resolve()
	if err != nil {
		panic(err)
	}
	return out
}

func (s String) expand(text string, stack []string) (string, error) {
	var firstErr error
	out := macroRef.ReplaceAllStringFunc(text, func(ref string) string {
		if firstErr != nil {
			return ref
		}
		name := macroRef.FindStringSubmatch(ref)[1]
		for _, seen := range stack {
			if seen == name {
				firstErr = &MacroCycleError{Chain: append(append([]string{}, stack...), name), Template: s.raw}
				return ref
			}
		}
		value, ok := s.macros[name]
		if !ok {
			firstErr = &UnresolvedMacroError{Name: name, Template: s.raw}
			return ref
		}
		if !strings.Contains(value, "$(") {
			return value
		}
		expanded, err := s.expand(value, append(stack, name))
		if err != nil {
			firstErr = err
			return ref
		}
		return expanded
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
