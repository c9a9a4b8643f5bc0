// Package interp renders template nodes against a binding and environment.
//
// Conditional rendering always reads typed values. A parameter bound to nil
// is falsy and renders as nothing; a parameter bound to the string "null" is
// truthy and renders as the text null.
package interp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	env "github.com/mlld-lang/mlld-sub001/internal/env"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
)

// ErrUnresolved is wrapped by errors for references with no binding.
var ErrUnresolved = errors.New("unresolved reference")

// UnresolvedError reports a reference that is bound neither in the call's
// arguments nor in the environment.
type UnresolvedError struct {
	Name string
}

func (e *UnresolvedError) Error() string { return "Variable not found: " + e.Name }
func (e *UnresolvedError) Unwrap() error { return ErrUnresolved }

// Interpolator is the default template renderer.
type Interpolator struct{}

func New() *Interpolator { return &Interpolator{} }

// Interpolate renders nodes. References resolve in the bundle's typed map
// first, then in scope.
func (i *Interpolator) Interpolate(ctx context.Context, nodes []language.Node, b *executable.Bundle, scope *env.Environment) (string, error) {
	var sb strings.Builder
	if err := render(&sb, nodes, b, scope); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func render(sb *strings.Builder, nodes []language.Node, b *executable.Bundle, scope *env.Environment) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case *language.Text:
			sb.WriteString(n.Value)
		case *language.VarRef:
			v, err := Resolve(n, b, scope)
			if err != nil {
				return err
			}
			sb.WriteString(Stringify(v))
		case *language.Conditional:
			// An unbound condition reads as false.
			v, err := Resolve(n.Cond, b, scope)
			if err != nil && !errors.Is(err, ErrUnresolved) {
				return err
			}
			if !Truthy(v) {
				continue
			}
			if err := render(sb, n.Body, b, scope); err != nil {
				return err
			}
		default:
			return fmt.Errorf("interp: cannot render %T", n)
		}
	}
	return nil
}

// Resolve returns the typed value of ref.
func Resolve(ref *language.VarRef, b *executable.Bundle, scope *env.Environment) (any, error) {
	v, ok := b.Lookup(ref.Name)
	if !ok && scope != nil {
		v, ok = scope.Get(ref.Name)
	}
	if !ok {
		return nil, &UnresolvedError{Name: ref.Name}
	}
	for _, f := range ref.Fields {
		m, isMap := v.(map[string]any)
		if !isMap {
			return nil, nil
		}
		v = m[f]
	}
	return v, nil
}
