// Package dag is the dependency bookkeeping layer of the build graph. It
// stores module identities as string nodes and ordering edges between them,
// detects cycles and derives a deterministic build order.
package dag
