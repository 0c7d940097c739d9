package patch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/buildgrid/internal/errkind"
	"github.com/vk/buildgrid/internal/platform"
	"github.com/vk/buildgrid/internal/settings"
)

type fakeTarget string

func (f fakeTarget) String() string                   { return string(f) }
func (f fakeTarget) Macro(name string) (string, bool) { return "", false }

func addInclude(dir string) Func {
	return func(bag *settings.Bag, _ Target) error {
		if c, ok := bag.Compiler(); ok {
			c.IncludePaths.Add(dir)
		}
		return nil
	}
}

func TestApplyInOrder(t *testing.T) {
	// --- Arrange ---
	bag := settings.NewCompilerBag(platform.Gcc, true)
	patches := []Patch{
		New("a", Public, addInclude("/a")),
		New("b", Public, addInclude("/b")),
		New("c", Private, addInclude("/a")),
	}

	// --- Act ---
	err := Apply(patches, bag, fakeTarget("m"))

	// --- Assert ---
	require.NoError(t, err)
	c, _ := bag.Compiler()
	assert.Equal(t, []string{"/a", "/b"}, c.IncludePaths.Items())
}

func TestApplySkipsAbsentCapability(t *testing.T) {
	bag := settings.NewPreprocessorBag()
	require.NoError(t, Apply([]Patch{New("a", Public, addInclude("/a"))}, bag, fakeTarget("m")))
}

func TestApplyAttributesError(t *testing.T) {
	// --- Arrange ---
	bag := settings.NewCompilerBag(platform.Gcc, false)
	define := func(value string) Func {
		return func(bag *settings.Bag, _ Target) error {
			c, _ := bag.Compiler()
			return c.Defines.Add("X", value)
		}
	}
	ran := false
	patches := []Patch{
		New("first", Public, define("1")),
		New("second", Private, define("2")),
		New("third", Private, func(*settings.Bag, Target) error { ran = true; return nil }),
	}

	// --- Act ---
	err := Apply(patches, bag, fakeTarget("lib"))

	// --- Assert ---
	require.Error(t, err)
	assert.ErrorContains(t, err, "private patch of second applied to lib")
	assert.True(t, errors.Is(err, errkind.ErrConfiguration))
	assert.False(t, ran, "composition stops at the first failure")
}
