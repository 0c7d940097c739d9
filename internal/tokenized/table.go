package tokenized

import "sort"

// Table is a mutable macro table. Lookups fall back to the parent table, so a
// module's table inherits its package's macros and may override them.
type Table struct {
	parent *Table
	values map[string]string
}

// NewTable creates an empty table that inherits from parent (which may be nil).
func NewTable(parent *Table) *Table {
	return &Table{parent: parent, values: make(map[string]string)}
}

// Set defines or overrides a macro in this table.
func (t *Table) Set(name, value string) {
	t.values[name] = value
}

// SetAll defines every entry of values.
func (t *Table) SetAll(values map[string]string) {
	for k, v := range values {
		t.values[k] = v
	}
}

// Lookup finds a macro in this table or its ancestors.
func (t *Table) Lookup(name string) (string, bool) {
	for cur := t; cur != nil; cur = cur.parent {
		if v, ok := cur.values[name]; ok {
			return v, true
		}
	}
	return "", false
}

// Snapshot flattens the table and its ancestors into an independent copy.
// Later changes to the table are not visible in the snapshot.
func (t *Table) Snapshot() map[string]string {
	var chain []*Table
	for cur := t; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := make(map[string]string)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].values {
			out[k] = v
		}
	}
	return out
}

// Names returns the sorted names visible through this table.
func (t *Table) Names() []string {
	snap := t.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
