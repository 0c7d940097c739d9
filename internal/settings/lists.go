package settings

import (
	"fmt"
	"strings"

	"github.com/vk/buildgrid/internal/errkind"
)

// PathList is an ordered, append-only list that ignores duplicates. It backs
// include paths, libraries, disabled warnings and similar option lists.
type PathList struct {
	items []string
	seen  map[string]struct{}
}

// Add appends every item not already present, keeping first-seen order.
func (l *PathList) Add(items ...string) {
	if l.seen == nil {
		l.seen = make(map[string]struct{})
	}
	for _, item := range items {
		if _, ok := l.seen[item]; ok {
			continue
		}
		l.seen[item] = struct{}{}
		l.items = append(l.items, item)
	}
}

// Items returns a copy of the list contents.
func (l *PathList) Items() []string {
	return append([]string(nil), l.items...)
}

// Contains reports whether item has been added.
func (l *PathList) Contains(item string) bool {
	_, ok := l.seen[item]
	return ok
}

// Len returns the number of distinct items.
func (l *PathList) Len() int { return len(l.items) }

func (l *PathList) clone() PathList {
	var out PathList
	out.Add(l.items...)
	return out
}

// Define is a single preprocessor definition. An empty Value means the symbol
// is defined without a value.
type Define struct {
	Name  string
	Value string
}

func (d Define) String() string {
	if d.Value == "" {
		return d.Name
	}
	return d.Name + "=" + d.Value
}

// ParseDefine splits "NAME=VALUE" into its parts.
func ParseDefine(s string) Define {
	name, value, _ := strings.Cut(s, "=")
	return Define{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}
}

// Defines is an ordered set of preprocessor definitions. Re-adding a define
// with the same value is a no-op; a different value is rejected.
type Defines struct {
	order  []string
	values map[string]string
}

// DefineConflictError is returned when a define is re-added with a different
// value.
type DefineConflictError struct {
	Name     string
	Existing string
	Value    string
}

func (e *DefineConflictError) Error() string {
	return fmt.Sprintf("define %s redefined with value %q, already defined as %q", e.Name, e.Value, e.Existing)
}

func (e *DefineConflictError) Is(target error) bool { return target == errkind.ErrConfiguration }

// Add inserts a define.
func (d *Defines) Add(name, value string) error {
	if d.values == nil {
		d.values = make(map[string]string)
	}
	if existing, ok := d.values[name]; ok {
		if existing != value {
			return &DefineConflictError{Name: name, Existing: existing, Value: value}
		}
		return nil
	}
	d.values[name] = value
	d.order = append(d.order, name)
	return nil
}

// AddString parses and inserts a "NAME[=VALUE]" define.
func (d *Defines) AddString(s string) error {
	def := ParseDefine(s)
	return d.Add(def.Name, def.Value)
}

// Lookup returns the value of a define and whether it is present.
func (d *Defines) Lookup(name string) (string, bool) {
	v, ok := d.values[name]
	return v, ok
}

// Items returns the defines in insertion order.
func (d *Defines) Items() []Define {
	out := make([]Define, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, Define{Name: name, Value: d.values[name]})
	}
	return out
}

// Len returns the number of defines.
func (d *Defines) Len() int { return len(d.order) }

func (d *Defines) clone() Defines {
	var out Defines
	for _, def := range d.Items() {
		_ = out.Add(def.Name, def.Value)
	}
	return out
}
