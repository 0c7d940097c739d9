// Package graph constructs and validates the module graph.
//
// Construction is a single depth-first pass from the requested roots. Each
// module is created and memoized before its Init runs, so Init runs exactly
// once per identity however many dependents reference it. Once every
// reachable Init has completed, the graph is checked for unresolved
// identities and then for cycles; both abort construction before any settings
// are resolved. Finally each module's settings are composed from public and
// private patches in dependency order and the modules are frozen.
//
// A built Graph is read-only and may be shared by concurrent readers.
package graph
