// Package errkind holds the sentinel categories every build failure belongs
// to. Concrete error types in other packages report their category through
// an Is method so callers can branch with errors.Is.
package errkind

import "errors"

var (
	// ErrConfiguration covers problems in the build description itself:
	// unresolved macros, unmatched platforms, missing modules or capabilities.
	ErrConfiguration = errors.New("configuration error")
	// ErrCyclicDependency is reported when the module graph contains a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrToolInvocation is reported when an external tool fails.
	ErrToolInvocation = errors.New("tool invocation failed")
	// ErrGeneration is reported when a generation step produced no output.
	ErrGeneration = errors.New("generation failed")
)
