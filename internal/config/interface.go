package config

import (
	"context"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Loader is the interface for a format-specific build-description loader.
type Loader interface {
	// Load reads every build description found under paths, translates it
	// into the format-agnostic model, and returns a matching Converter.
	Load(ctx context.Context, paths ...string) (*Model, Converter, error)
}

// Converter is the interface for format-specific expression evaluation and
// data binding. Conditions and capability arguments stay unevaluated in the
// model; the Converter resolves them once the build environment is known.
type Converter interface {
	// EvalContext returns an evaluation context exposing vars and the
	// converter's function library.
	EvalContext(vars map[string]cty.Value) *hcl.EvalContext

	// EvalBool evaluates a condition. A nil expression is true.
	EvalBool(ctx context.Context, expr hcl.Expression, evalCtx *hcl.EvalContext) (bool, error)

	// DecodeBody evaluates args and populates the fields of target tagged
	// with `bgrid:"name"`. Arguments without a matching field are an error.
	DecodeBody(ctx context.Context, target any, args map[string]hcl.Expression, evalCtx *hcl.EvalContext) error
}
