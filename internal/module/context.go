package module

import (
	"github.com/go-git/go-billy/v5"

	"github.com/vk/buildgrid/internal/platform"
)

// Strategy is one composable step of a module's Init.
type Strategy func(ctx Context, m *Module) error

// Context is the view of the graph under construction that Init strategies
// receive.
type Context interface {
	// Env is the environment the graph is built for.
	Env() platform.Environment
	// FS is the file system source patterns are expanded against.
	FS() billy.Filesystem
	// Reference returns the module with id, creating and initializing it on
	// first use. A module that is still initializing is returned as is.
	Reference(id ID) (*Module, error)
	// NewChild creates a module owned by parent, registers it in the graph and
	// runs its Init before returning.
	NewChild(parent *Module, id ID, kind Kind, strategies ...Strategy) (*Module, error)
	// Match returns every defined module identity matching pattern, sorted.
	Match(pattern string) []ID
}
