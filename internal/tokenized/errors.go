package tokenized

import (
	"fmt"
	"strings"

	"github.com/vk/buildgrid/internal/errkind"
)

// UnresolvedMacroError is returned when a template references a macro that is
// not defined in its frozen table.
type UnresolvedMacroError struct {
	Name     string
	Template string
}

func (e *UnresolvedMacroError) Error() string {
	return fmt.Sprintf("unresolved macro $(%s) in template %q", e.Name, e.Template)
}

func (e *UnresolvedMacroError) Is(target error) bool { return target == errkind.ErrConfiguration }

// MacroCycleError is returned when a macro value refers back to itself.
type MacroCycleError struct {
	Chain    []string
	Template string
}

func (e *MacroCycleError) Error() string {
	return fmt.Sprintf("macro $(%s) refers to itself via %s in template %q",
		e.Chain[len(e.Chain)-1], strings.Join(e.Chain, " -> "), e.Template)
}

func (e *MacroCycleError) Is(target error) bool { return target == errkind.ErrConfiguration }

// EmptyGlobError is returned by a strict expansion that matched nothing.
type EmptyGlobError struct {
	Pattern string
}

func (e *EmptyGlobError) Error() string {
	return fmt.Sprintf("pattern %q matched no files", e.Pattern)
}

func (e *EmptyGlobError) Is(target error) bool { return target == errkind.ErrConfiguration }
