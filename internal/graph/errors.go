package graph

import (
	"fmt"
	"strings"

	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/module"
)

// Error categories, re-exported for callers that only import graph.
var (
	ErrConfiguration    = errkind.ErrConfiguration
	ErrCyclicDependency = errkind.ErrCyclicDependency
)

// UnresolvedDependencyError is returned when a module refers to an identity
// that no definition provides.
type UnresolvedDependencyError struct {
	From    module.ID
	Missing module.ID
}

func (e *UnresolvedDependencyError) Error() string {
	if e.From == (module.ID{}) {
		return fmt.Sprintf("requested module %s is not defined", e.Missing)
	}
	return fmt.Sprintf("module %s depends on %s, which is not defined", e.From, e.Missing)
}

func (e *UnresolvedDependencyError) Is(target error) bool { return target == errkind.ErrConfiguration }

// CyclicDependencyError names every module on a dependency cycle, each
// followed by one of its dependencies.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Is(target error) bool { return target == errkind.ErrCyclicDependency }

// DuplicateModuleError is returned when two definitions or children claim the
// same identity.
type DuplicateModuleError struct {
	ID module.ID
}

func (e *DuplicateModuleError) Error() string {
	return fmt.Sprintf("module %s is defined more than once", e.ID)
}

func (e *DuplicateModuleError) Is(target error) bool { return target == errkind.ErrConfiguration }
