package executor

import (
	"context"

	env "github.com/mlld-lang/mlld-sub001/internal/env"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
	process "github.com/mlld-lang/mlld-sub001/internal/process"
)

// Runtime is the host integration surface for side-effecting strategies.
//
// Contract
//   - ExecuteCommand receives a command line that already passed the security
//     gate. It returns the full stdout. When opts.OnLine is set it must be
//     called for every stdout line before ExecuteCommand returns.
//   - RunCode returns the value produced by the code. Languages it does not
//     know must fail with NoRuntimeError.
//   - RunPrompt returns the model's answer for an interpolated prompt.
//   - Implementations must respect ctx cancellation.
type Runtime interface {
	ExecuteCommand(ctx context.Context, commandLine string, opts process.Options) (string, error)
	RunCode(ctx context.Context, req *CodeRequest) (any, error)
	RunPrompt(ctx context.Context, req *PromptRequest) (any, error)
}

// Interpolator renders template nodes against a bundle and a scope.
type Interpolator interface {
	Interpolate(ctx context.Context, nodes []language.Node, b *executable.Bundle, scope *env.Environment) (string, error)
}

// InvocationEvaluator evaluates an invocation AST. Command references that
// carry an embedded invocation are delegated here.
type InvocationEvaluator interface {
	EvaluateInvocation(ctx context.Context, inv *language.Invocation, ec *Context) (*Result, error)
}

// RecursiveEvaluator resolves an executable by name when the current
// environment does not define it.
type RecursiveEvaluator interface {
	EvaluateName(ctx context.Context, name string, ec *Context) (*Result, error)
}

// Emitter delivers one effect of the given kind on behalf of the running
// executable.
type Emitter func(kind, text string)

// CodeRequest is handed to Runtime.RunCode.
type CodeRequest struct {
	Name       string
	Language   string
	Source     string
	Expr       language.Node
	Bundle     *executable.Bundle
	Scope      *env.Environment
	PipelineID string
	Emit       Emitter
	// Interpolate renders nested template nodes (e.g. when actions) with the
	// same bundle and scope.
	Interpolate func(ctx context.Context, nodes []language.Node) (string, error)
	// Exec runs a command line through the security gate and the host's
	// command runtime. The returned stdout has one trailing newline trimmed.
	Exec func(ctx context.Context, commandLine string, opts process.Options) (string, error)
	// Gate checks a command line against the security gate without running
	// it. Runtimes that ship shell source to another host call it first.
	Gate func(ctx context.Context, commandLine string) error
}

// PromptRequest is handed to Runtime.RunPrompt.
type PromptRequest struct {
	Name       string
	Prompt     string
	ConfigRef  string
	Config     any
	Bundle     *executable.Bundle
	PipelineID string
	Emit       Emitter
}
