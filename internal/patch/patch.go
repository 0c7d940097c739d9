// Package patch defines settings patches: functions that mutate a settings bag
// on behalf of the module that owns them. Private patches configure only their
// owner; public patches configure every module that depends on the owner.
package patch

import (
	"fmt"

	"github.com/vk/buildgrid/internal/settings"
)

// Visibility tags a patch as private or public.
type Visibility int

const (
	Private Visibility = iota
	Public
)

func (v Visibility) String() string {
	if v == Public {
		return "public"
	}
	return "private"
}

// Target is the module a patch is being applied to.
type Target interface {
	fmt.Stringer
	// Macro resolves a macro visible to the target module.
	Macro(name string) (string, bool)
}

// Func mutates bag for appliedTo. It must only add to path-like and define-like
// lists; scalar fields may be overwritten.
type Func func(bag *settings.Bag, appliedTo Target) error

// Patch is a Func tagged with its owner and visibility.
type Patch struct {
	Owner      string
	Visibility Visibility
	Fn         Func
}

// New creates a patch.
func New(owner string, v Visibility, fn Func) Patch {
	return Patch{Owner: owner, Visibility: v, Fn: fn}
}

// Apply runs patches against bag in order. The first failing patch aborts the
// composition and the error names both the owner and the target.
func Apply(patches []Patch, bag *settings.Bag, appliedTo Target) error {
	for _, p := range patches {
		if p.Fn == nil {
			continue
		}
		if err := p.Fn(bag, appliedTo); err != nil {
			return fmt.Errorf("%s patch of %s applied to %s: %w", p.Visibility, p.Owner, appliedTo, err)
		}
	}
	return nil
}
