package executor

import (
	"strconv"
	"strings"

	env "github.com/mlld-lang/mlld-sub001/internal/env"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
	interp "github.com/mlld-lang/mlld-sub001/internal/interp"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
)

// bindArguments evaluates args against scope and binds them by position to
// params. Declared parameters without an argument bind to nil so they never
// fall through to a caller variable of the same name. upstream descriptors
// are attached to the first parameter when it received an argument.
func bindArguments(name string, params []string, args []*language.Value, scope *env.Environment, upstream []executable.OutputDescriptor) (*executable.Bundle, error) {
	b := executable.NewBundle()
	b.Positional = make([]any, 0, len(args))
	for i, arg := range args {
		v, err := valueFromAST(name, arg, scope)
		if err != nil {
			return nil, err
		}
		b.Positional = append(b.Positional, v)
		if i >= len(params) {
			continue
		}
		p := params[i]
		b.Runtime[p] = v
		b.Values[p] = interp.Stringify(v)
	}
	for _, p := range params[min(len(args), len(params)):] {
		b.Runtime[p] = nil
		b.Values[p] = ""
	}
	if len(upstream) > 0 && len(params) > 0 && len(args) > 0 {
		b.Descriptors[params[0]] = append([]executable.OutputDescriptor(nil), upstream...)
	}
	return b, nil
}

// bindScope returns a child of parent holding the bundle's runtime bindings.
func bindScope(parent *env.Environment, b *executable.Bundle) *env.Environment {
	scope := parent.Child()
	for k, v := range b.Runtime {
		scope.Set(k, v)
	}
	return scope
}

// valueFromAST converts one argument expression into a Go value. A variable
// reference that cannot be found is a resolution error.
func valueFromAST(name string, v *language.Value, scope *env.Environment) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Kind {
	case language.Variable, language.EnumValue:
		ref := strings.TrimPrefix(v.Raw, "$")
		val, ok := scope.Get(ref)
		if !ok {
			return nil, resolutionError(name, "Variable not found: %s", ref)
		}
		return val, nil
	case language.IntValue:
		if n, err := strconv.Atoi(v.Raw); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return nil, argumentError(name, "invalid number: "+v.Raw)
		}
		return f, nil
	case language.FloatValue:
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return nil, argumentError(name, "invalid number: "+v.Raw)
		}
		return f, nil
	case language.StringValue, language.BlockValue:
		return v.Raw, nil
	case language.BooleanValue:
		return v.Raw == "true", nil
	case language.NullValue:
		return nil, nil
	case language.ListValue:
		out := make([]any, 0, len(v.Children))
		for _, c := range v.Children {
			item, err := valueFromAST(name, c.Value, scope)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case language.ObjectValue:
		out := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			item, err := valueFromAST(name, c.Value, scope)
			if err != nil {
				return nil, err
			}
			out[c.Name] = item
		}
		return out, nil
	default:
		return nil, argumentError(name, "unsupported argument expression: "+v.Raw)
	}
}
