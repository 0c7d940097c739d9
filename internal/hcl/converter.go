package hcl

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/buildgrid/internal/ctxlog"
)

// Converter evaluates patch conditions and decodes capability blocks.
type Converter struct {
	functions map[string]function.Function
}

// NewConverter returns a Converter exposing a small cty stdlib function set.
func NewConverter() *Converter {
	return &Converter{
		functions: map[string]function.Function{
			"concat":   stdlib.ConcatFunc,
			"contains": stdlib.ContainsFunc,
			"format":   stdlib.FormatFunc,
			"join":     stdlib.JoinFunc,
			"length":   stdlib.LengthFunc,
			"lower":    stdlib.LowerFunc,
			"upper":    stdlib.UpperFunc,
		},
	}
}

// EvalContext exposes vars and the converter's functions to expressions.
func (c *Converter) EvalContext(vars map[string]cty.Value) *hcl.EvalContext {
	return &hcl.EvalContext{Variables: vars, Functions: c.functions}
}

// EvalBool evaluates a condition expression. A nil expression is true.
func (c *Converter) EvalBool(ctx context.Context, expr hcl.Expression, evalCtx *hcl.EvalContext) (bool, error) {
	if expr == nil {
		return true, nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return false, diags
	}
	if val.IsNull() || !val.IsKnown() {
		return false, fmt.Errorf("condition at %s is null", expr.Range())
	}
	b, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("condition at %s must be a bool, got %s", expr.Range(), val.Type().FriendlyName())
	}
	ctxlog.FromContext(ctx).Debug("Evaluated condition.", "range", expr.Range().String(), "result", b.True())
	return b.True(), nil
}

// DecodeBody assigns every argument in args to the field of target whose
// `bgrid` tag names it. target must be a non-nil pointer to a struct. An
// argument without a matching field is an error.
func (c *Converter) DecodeBody(ctx context.Context, target any, args map[string]hcl.Expression, evalCtx *hcl.EvalContext) error {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() || ptr.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode target must be a non-nil pointer to a struct, got %T", target)
	}
	fields := taggedFields(ptr.Elem())

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	var unsupported []string
	for _, name := range names {
		field, ok := fields[name]
		if !ok {
			unsupported = append(unsupported, name)
			continue
		}
		val, diags := args[name].Value(evalCtx)
		if diags.HasErrors() {
			return diags
		}
		if err := assign(val, field); err != nil {
			return fmt.Errorf("argument %q: %w", name, err)
		}
	}
	if len(unsupported) > 0 {
		return fmt.Errorf("unsupported argument(s): %s", strings.Join(unsupported, ", "))
	}
	ctxlog.FromContext(ctx).Debug("Decoded settings block.", "arguments", len(names), "target", ptr.Elem().Type().Name())
	return nil
}

// taggedFields indexes the settable fields of a struct value by tag name.
func taggedFields(v reflect.Value) map[string]reflect.Value {
	out := make(map[string]reflect.Value)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("bgrid"), ",")
		if name == "" || name == "-" || !v.Field(i).CanSet() {
			continue
		}
		out[name] = v.Field(i)
	}
	return out
}

// assign stores val into dst, allocating pointers and building slices and
// maps element by element. Null and unknown values leave dst untouched.
func assign(val cty.Value, dst reflect.Value) error {
	if val.IsNull() || !val.IsKnown() {
		return nil
	}
	ty := val.Type()

	switch dst.Kind() {
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if err := assign(val, elem.Elem()); err != nil {
			return err
		}
		dst.Set(elem)

	case reflect.Slice:
		if !ty.IsListType() && !ty.IsTupleType() && !ty.IsSetType() {
			return fmt.Errorf("want a list for %s, got %s", dst.Type(), ty.FriendlyName())
		}
		out := reflect.MakeSlice(dst.Type(), val.LengthInt(), val.LengthInt())
		i := 0
		for it := val.ElementIterator(); it.Next(); i++ {
			_, v := it.Element()
			if err := assign(v, out.Index(i)); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		dst.Set(out)

	case reflect.Map:
		if !ty.IsMapType() && !ty.IsObjectType() {
			return fmt.Errorf("want a map for %s, got %s", dst.Type(), ty.FriendlyName())
		}
		out := reflect.MakeMapWithSize(dst.Type(), val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := assign(v, elem); err != nil {
				return fmt.Errorf("key %q: %w", k.AsString(), err)
			}
			out.SetMapIndex(reflect.ValueOf(k.AsString()), elem)
		}
		dst.Set(out)

	default:
		want, err := gocty.ImpliedType(dst.Interface())
		if err != nil {
			return fmt.Errorf("unsupported field type %s: %w", dst.Type(), err)
		}
		conv, err := convert.Convert(val, want)
		if err != nil {
			return fmt.Errorf("want %s, got %s: %w", want.FriendlyName(), ty.FriendlyName(), err)
		}
		return gocty.FromCtyValue(conv, dst.Addr().Interface())
	}
	return nil
}
