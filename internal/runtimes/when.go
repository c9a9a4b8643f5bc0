package runtimes

import (
	"context"
	"errors"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	interp "github.com/mlld-lang/mlld-sub001/internal/interp"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
)

// When evaluates a when expression. In first mode the first matching branch
// runs; in all mode every matching branch runs in order and the last value
// wins. The default action runs only when no branch matched.
type When struct{}

func (When) Run(ctx context.Context, req *executor.CodeRequest) (any, error) {
	expr, ok := req.Expr.(*language.WhenExpr)
	if !ok {
		return nil, errors.New("when expression requires a WhenExpression node")
	}

	var value any
	matched := false
	for _, br := range expr.Branches {
		hit, err := condition(br, req)
		if err != nil {
			return nil, err
		}
		if !hit {
			continue
		}
		matched = true
		v, err := runAction(ctx, br.Action, req)
		if err != nil {
			return nil, err
		}
		value = v
		if expr.Mode != language.WhenAll {
			break
		}
	}
	if !matched && expr.Default != nil {
		return runAction(ctx, expr.Default, req)
	}
	return value, nil
}

func condition(br *language.WhenBranch, req *executor.CodeRequest) (bool, error) {
	if br.Cond == nil {
		return !br.Negate, nil
	}
	v, err := interp.Resolve(br.Cond, req.Bundle, req.Scope)
	if err != nil && !errors.Is(err, interp.ErrUnresolved) {
		return false, err
	}
	return interp.Truthy(v) != br.Negate, nil
}

func runAction(ctx context.Context, a *language.WhenAction, req *executor.CodeRequest) (any, error) {
	if a == nil {
		return nil, nil
	}
	if len(a.Show) > 0 {
		text, err := req.Interpolate(ctx, a.Show)
		if err != nil {
			return nil, err
		}
		if req.Emit != nil {
			req.Emit(string(effects.KindDisplay), text)
		}
	}
	if a.Value == nil {
		return nil, nil
	}
	return req.Interpolate(ctx, a.Value)
}
