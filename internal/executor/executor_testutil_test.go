package executor

import (
	"context"
	"testing"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	env "github.com/mlld-lang/mlld-sub001/internal/env"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
)

func templateDef(t *testing.T, src string, params ...string) *executable.Template {
	t.Helper()
	nodes, err := language.ParseTemplate(src)
	if err != nil {
		t.Fatalf("parse template %q: %v", src, err)
	}
	return &executable.Template{Header: executable.Header{ParamNames: params, SourceDirective: "exe"}, Nodes: nodes}
}

func commandDef(t *testing.T, src string, params ...string) *executable.Command {
	t.Helper()
	nodes, err := language.ParseTemplate(src)
	if err != nil {
		t.Fatalf("parse command %q: %v", src, err)
	}
	return &executable.Command{Header: executable.Header{ParamNames: params, SourceDirective: "exe"}, Nodes: nodes}
}

func newTestContext(scope *env.Environment, sink effects.Sink) *Context {
	return NewContext(context.Background(), scope, sink)
}

// dispatchByName looks the executable up and dispatches it with args.
func dispatchByName(t *testing.T, e *Executor, ec *Context, name string, args ...*language.Value) (*Result, error) {
	t.Helper()
	v, ok := ec.Env.Executable(name)
	if !ok {
		t.Fatalf("executable %q not defined", name)
	}
	return e.Dispatch(context.Background(), &language.Invocation{Name: name, Args: args}, v.Definition, v, ec)
}
