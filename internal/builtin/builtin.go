// Package builtin defines the transformer variables every scope starts with.
package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	env "github.com/mlld-lang/mlld-sub001/internal/env"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
	interp "github.com/mlld-lang/mlld-sub001/internal/interp"
)

// Transformers returns fresh copies of every builtin transformer.
func Transformers() []*executable.Transformer {
	return []*executable.Transformer{
		{Name: "upper", Impl: stringFunc(strings.ToUpper)},
		{Name: "lower", Impl: stringFunc(strings.ToLower)},
		{Name: "trim", Impl: stringFunc(strings.TrimSpace)},
		{Name: "json", Impl: jsonTransform},
		{Name: "show", Impl: show},
		{Name: "keychain", Keychain: true, Shell: true, Impl: keychain},
	}
}

// Define adds every builtin to scope.
func Define(scope *env.Environment) {
	for _, t := range Transformers() {
		scope.Define(executable.NewBuiltin(t))
	}
}

func first(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func stringFunc(f func(string) string) executable.TransformerFunc {
	return func(ctx context.Context, call *executable.Call, args []any) (any, error) {
		return f(interp.Stringify(first(args))), nil
	}
}

// jsonTransform parses string input and renders anything else as indented
// JSON.
func jsonTransform(ctx context.Context, call *executable.Call, args []any) (any, error) {
	in := first(args)
	if s, ok := in.(string); ok {
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
		return out, nil
	}
	b, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return string(b), nil
}

func show(ctx context.Context, call *executable.Call, args []any) (any, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = interp.Stringify(a)
	}
	text := strings.Join(parts, " ")
	if call.Emit != nil {
		call.Emit(string(effects.KindDisplay), text)
	}
	return text, nil
}

func keychain(ctx context.Context, call *executable.Call, args []any) (any, error) {
	service, account, ok := executable.ServiceAccount(first(args))
	if !ok {
		return nil, errors.New("Keychain access requires service and account")
	}
	if call.Exec == nil {
		return nil, errors.New("keychain: no command runtime")
	}
	line := fmt.Sprintf("security find-generic-password -s %s -a %s -w", quote(service), quote(account))
	return call.Exec(ctx, line)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
