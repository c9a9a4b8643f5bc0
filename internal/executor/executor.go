package executor

import (
	"context"
	"strings"
	"time"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	env "github.com/mlld-lang/mlld-sub001/internal/env"
	eventbus "github.com/mlld-lang/mlld-sub001/internal/eventbus"
	events "github.com/mlld-lang/mlld-sub001/internal/events"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
	interp "github.com/mlld-lang/mlld-sub001/internal/interp"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
	log "github.com/mlld-lang/mlld-sub001/internal/log"
	process "github.com/mlld-lang/mlld-sub001/internal/process"
	security "github.com/mlld-lang/mlld-sub001/internal/security"
)

// WhenLanguage is the pseudo-language whose code is a structured conditional
// expression instead of source text.
const WhenLanguage = "when"

// IsShellLanguage reports whether code in lang is a shell script. Shell
// source is subject to the security gate wherever it runs.
func IsShellLanguage(lang string) bool { return lang == "sh" || lang == "bash" }

type Executor struct {
	runtime      Runtime
	interpolator Interpolator
	analyzer     security.Analyzer
	invocations  InvocationEvaluator
	recursive    RecursiveEvaluator
}

type Option func(*Executor)

// WithInterpolator replaces the default template interpolator.
func WithInterpolator(i Interpolator) Option { return func(e *Executor) { e.interpolator = i } }

// WithAnalyzer sets the security analyzer. A nil analyzer disables the gate
// unless a Context supplies its own policy.
func WithAnalyzer(a security.Analyzer) Option { return func(e *Executor) { e.analyzer = a } }

// WithInvocationEvaluator sets the evaluator used for command references that
// embed an invocation. The executor evaluates them itself by default.
func WithInvocationEvaluator(ev InvocationEvaluator) Option {
	return func(e *Executor) { e.invocations = ev }
}

// WithRecursiveEvaluator sets the fallback for names missing from scope.
func WithRecursiveEvaluator(ev RecursiveEvaluator) Option {
	return func(e *Executor) { e.recursive = ev }
}

func NewExecutor(runtime Runtime, opts ...Option) *Executor {
	e := &Executor{
		runtime:      runtime,
		interpolator: interp.New(),
		analyzer:     security.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.invocations == nil {
		e.invocations = e
	}
	return e
}

// Dispatch runs the executable v (whose definition is def) for inv.
func (e *Executor) Dispatch(ctx context.Context, inv *language.Invocation, def executable.Definition, v *executable.Variable, ec *Context) (res *Result, err error) {
	name := inv.Name
	if name == "" && v != nil {
		name = v.Name
	}
	kind := "unknown"
	switch {
	case v.IsBuiltin():
		kind = "builtin"
	case def != nil:
		kind = string(def.Kind())
	}

	depth := ec.stack().Len()
	start := time.Now()
	eventbus.Publish(ctx, events.DispatchStart{Name: name, Kind: kind, PipelineID: ec.PipelineID, Depth: depth})
	defer func() {
		eventbus.Publish(ctx, events.DispatchFinish{
			Name:       name,
			Kind:       kind,
			PipelineID: ec.PipelineID,
			Depth:      depth,
			Err:        err,
			Duration:   time.Since(start),
		})
		if err != nil {
			log.Debug("dispatch failed", "name", name, "kind", kind, "pipeline", ec.PipelineID, "error", err)
		}
	}()

	if v.IsBuiltin() {
		bundle, err := bindArguments(name, nil, inv.Args, ec.Env, ec.Upstream)
		if err != nil {
			return nil, err
		}
		return e.runBuiltin(ctx, name, v.Builtin, bundle, ec)
	}

	switch def.(type) {
	case *executable.Template, *executable.Command, *executable.Code, *executable.CommandRef, *executable.Prose:
	default:
		return nil, unsupportedError(name, kind)
	}

	bundle, err := bindArguments(name, def.Params(), inv.Args, ec.Env, ec.Upstream)
	if err != nil {
		return nil, err
	}

	switch d := def.(type) {
	case *executable.Template:
		return e.runTemplate(ctx, d, bundle, ec)
	case *executable.Command:
		return e.runCommand(ctx, name, inv, d, bundle, ec)
	case *executable.Code:
		return e.runCode(ctx, name, d, bundle, ec)
	case *executable.CommandRef:
		return e.runCommandRef(ctx, name, inv, d, bundle, ec)
	case *executable.Prose:
		return e.runProse(ctx, name, d, bundle, ec)
	}
	return nil, unsupportedError(name, kind)
}

// EvaluateInvocation looks inv.Name up in ec.Env and dispatches it.
func (e *Executor) EvaluateInvocation(ctx context.Context, inv *language.Invocation, ec *Context) (*Result, error) {
	v, ok := ec.Env.Executable(inv.Name)
	if !ok {
		if e.recursive != nil {
			return e.recursive.EvaluateName(ctx, inv.Name, ec)
		}
		return nil, NotFoundError(inv.Name)
	}
	return e.Dispatch(ctx, inv, v.Definition, v, ec)
}

func (e *Executor) runTemplate(ctx context.Context, d *executable.Template, b *executable.Bundle, ec *Context) (*Result, error) {
	scope := bindScope(ec.Env, b)
	text, err := e.interpolator.Interpolate(ctx, d.Nodes, b, scope)
	if err != nil {
		return nil, err
	}
	return &Result{Value: text, Env: ec.Env}, nil
}

func (e *Executor) runCommand(ctx context.Context, name string, inv *language.Invocation, d *executable.Command, b *executable.Bundle, ec *Context) (*Result, error) {
	scope := bindScope(ec.Env, b)
	line, err := e.interpolator.Interpolate(ctx, d.Nodes, b, scope)
	if err != nil {
		return nil, err
	}
	if err := e.gate(ctx, name, line, ec); err != nil {
		return nil, err
	}

	opts := process.Options{Stdin: inv.Stdin, PipelineID: ec.PipelineID}
	if d.Stream {
		opts.OnLine = func(l string) { ec.emit(ctx, effects.KindStdout, l, name) }
	}
	out, err := e.runtime.ExecuteCommand(ctx, line, opts)
	if err != nil {
		return nil, err
	}
	return &Result{
		Value: strings.TrimSuffix(out, "\n"),
		Env:   ec.Env,
		OutputDescriptors: []executable.OutputDescriptor{{
			Kind:       "stdout",
			Source:     name,
			Command:    line,
			Content:    out,
			PipelineID: ec.PipelineID,
		}},
	}, nil
}

func (e *Executor) runCode(ctx context.Context, name string, d *executable.Code, b *executable.Bundle, ec *Context) (*Result, error) {
	if d.Language == WhenLanguage {
		if _, ok := d.Expr.(*language.WhenExpr); !ok {
			return nil, resolutionError(name, "when expression requires a WhenExpression node")
		}
	}
	scope := bindScope(ec.Env, b)
	var source string
	if len(d.Source) > 0 {
		s, err := e.interpolator.Interpolate(ctx, d.Source, b, scope)
		if err != nil {
			return nil, err
		}
		source = s
	}
	val, err := e.runtime.RunCode(ctx, &CodeRequest{
		Name:       name,
		Language:   d.Language,
		Source:     source,
		Expr:       d.Expr,
		Bundle:     b,
		Scope:      scope,
		PipelineID: ec.PipelineID,
		Emit:       ec.emitter(ctx, name),
		Interpolate: func(ctx context.Context, nodes []language.Node) (string, error) {
			return e.interpolator.Interpolate(ctx, nodes, b, scope)
		},
		Exec: e.gatedExec(name, ec),
		Gate: func(ctx context.Context, commandLine string) error {
			return e.gate(ctx, name, commandLine, ec)
		},
	})
	if err != nil {
		return nil, err
	}
	return &Result{Value: val, Env: ec.Env}, nil
}

func (e *Executor) runCommandRef(ctx context.Context, name string, inv *language.Invocation, d *executable.CommandRef, b *executable.Bundle, ec *Context) (*Result, error) {
	// An embedded invocation is authoritative over Target and Args.
	if d.Invocation != nil {
		leave, err := ec.stack().Enter(d.Invocation.Name)
		if err != nil {
			return nil, err
		}
		defer leave()
		scope := bindScope(ec.Env, b)
		nextEC := ec.With(scope)
		nextEC.Upstream = ec.Upstream
		res, err := e.invocations.EvaluateInvocation(ctx, d.Invocation, nextEC)
		if err != nil {
			return nil, err
		}
		out := *res
		if out.Env == nil || out.Env == scope {
			out.Env = ec.Env
		}
		return &out, nil
	}

	target := d.Target
	leave, err := ec.stack().Enter(target)
	if err != nil {
		return nil, err
	}
	defer leave()

	tv, ok := ec.Env.Executable(target)
	if !ok {
		if e.recursive != nil {
			return e.recursive.EvaluateName(ctx, target, ec)
		}
		return nil, NotFoundError(target)
	}

	next := &language.Invocation{Name: target, Args: inv.Args, Stdin: inv.Stdin}
	// Forwarded caller arguments keep the caller's upstream descriptors.
	nextEC := ec.With(ec.Env)
	nextEC.Upstream = ec.Upstream
	if d.Args != nil {
		next.Args = d.Args
		nextEC = ec.With(bindScope(ec.Env, b))
	}
	res, err := e.Dispatch(ctx, next, tv.Definition, tv, nextEC)
	if err != nil {
		return nil, err
	}
	out := *res
	out.Env = ec.Env
	return &out, nil
}

func (e *Executor) runProse(ctx context.Context, name string, d *executable.Prose, b *executable.Bundle, ec *Context) (*Result, error) {
	scope := bindScope(ec.Env, b)
	var cfg any
	if d.ConfigRef != "" {
		c, ok := scope.Get(d.ConfigRef)
		if !ok {
			return nil, resolutionError(name, "Variable not found: %s", d.ConfigRef)
		}
		cfg = c
	}
	prompt, err := e.interpolator.Interpolate(ctx, d.Prompt, b, scope)
	if err != nil {
		return nil, err
	}
	val, err := e.runtime.RunPrompt(ctx, &PromptRequest{
		Name:       name,
		Prompt:     prompt,
		ConfigRef:  d.ConfigRef,
		Config:     cfg,
		Bundle:     b,
		PipelineID: ec.PipelineID,
		Emit:       ec.emitter(ctx, name),
	})
	if err != nil {
		return nil, err
	}
	return &Result{Value: val, Env: ec.Env}, nil
}

func (e *Executor) runBuiltin(ctx context.Context, name string, t *executable.Transformer, b *executable.Bundle, ec *Context) (*Result, error) {
	if t.Keychain {
		var first any
		if len(b.Positional) > 0 {
			first = b.Positional[0]
		}
		if _, _, ok := executable.ServiceAccount(first); !ok {
			return nil, argumentError(name, "Keychain access requires service and account")
		}
	}
	call := &executable.Call{
		Name:       name,
		PipelineID: ec.PipelineID,
		Emit:       ec.emitter(ctx, name),
	}
	if t.Shell {
		run := e.gatedExec(name, ec)
		call.Exec = func(ctx context.Context, commandLine string) (string, error) {
			return run(ctx, commandLine, process.Options{})
		}
	}
	val, err := t.Impl(ctx, call, b.Positional)
	if err != nil {
		return nil, err
	}
	return &Result{Value: val, Env: ec.Env}, nil
}

func (e *Executor) gatedExec(name string, ec *Context) func(ctx context.Context, commandLine string, opts process.Options) (string, error) {
	return func(ctx context.Context, commandLine string, opts process.Options) (string, error) {
		if err := e.gate(ctx, name, commandLine, ec); err != nil {
			return "", err
		}
		if opts.PipelineID == "" {
			opts.PipelineID = ec.PipelineID
		}
		out, err := e.runtime.ExecuteCommand(ctx, commandLine, opts)
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(out, "\n"), nil
	}
}

// gate runs the security analyzer over a fully interpolated command line.
// A blocked line fails before any process is spawned. Lines that require
// approval are logged and allowed through.
func (e *Executor) gate(ctx context.Context, name, line string, ec *Context) error {
	if !ec.PolicyChecks {
		return nil
	}
	analyzer := ec.Policy
	if analyzer == nil {
		analyzer = e.analyzer
	}
	if analyzer == nil {
		return nil
	}
	a := analyzer.Analyze(line)
	if !a.Blocked && !a.RequiresApproval && len(a.Risks) == 0 {
		return nil
	}

	descs := make([]string, 0, len(a.Risks))
	for _, r := range a.Risks {
		descs = append(descs, r.Description)
	}
	eventbus.Publish(ctx, events.SecurityReview{
		Name:             name,
		PipelineID:       ec.PipelineID,
		CommandLine:      line,
		Blocked:          a.Blocked,
		RequiresApproval: a.RequiresApproval,
		Risks:            descs,
	})

	if a.Blocked {
		risk, ok := a.FirstBlocking()
		if !ok && len(a.Risks) > 0 {
			risk = a.Risks[0]
		}
		log.Warn("command blocked", "name", name, "pipeline", ec.PipelineID, "reason", risk.Description)
		return securityError(name, risk.Description)
	}
	if a.RequiresApproval {
		log.Warn("command requires approval; continuing", "name", name, "pipeline", ec.PipelineID, "risks", descs)
	}
	return nil
}

// Iterate dispatches inv once per item, in order. The item is bound as an
// extra leading argument.
func (e *Executor) Iterate(ctx context.Context, inv *language.Invocation, items []any, ec *Context) (*Result, error) {
	v, ok := ec.Env.Executable(inv.Name)
	if !ok {
		return nil, NotFoundError(inv.Name)
	}
	const itemVar = "_item"
	values := make([]any, 0, len(items))
	var descs []executable.OutputDescriptor
	for _, item := range items {
		scope := ec.Env.Child()
		scope.Set(itemVar, item)
		args := append([]*language.Value{language.Ref(itemVar)}, inv.Args...)
		res, err := e.Dispatch(ctx, &language.Invocation{Name: inv.Name, Args: args, Stdin: inv.Stdin}, v.Definition, v, ec.With(scope))
		if err != nil {
			return nil, err
		}
		values = append(values, res.Value)
		descs = append(descs, res.OutputDescriptors...)
	}
	return &Result{Value: values, Env: ec.Env, OutputDescriptors: descs}, nil
}

// Pipeline runs stages in order. Each stage after the first receives the
// previous value as its leading argument and the previous descriptors as its
// upstream descriptors.
func (e *Executor) Pipeline(ctx context.Context, stages []*language.Invocation, ec *Context) (*Result, error) {
	const inputVar = "_input"
	var prev *Result
	for _, st := range stages {
		v, ok := ec.Env.Executable(st.Name)
		if !ok {
			return nil, NotFoundError(st.Name)
		}
		inv, stageEC := st, ec
		if prev != nil {
			scope := ec.Env.Child()
			scope.Set(inputVar, prev.Value)
			inv = &language.Invocation{
				Name:  st.Name,
				Args:  append([]*language.Value{language.Ref(inputVar)}, st.Args...),
				Stdin: st.Stdin,
			}
			stageEC = ec.With(scope)
			stageEC.Upstream = prev.OutputDescriptors
		}
		res, err := e.Dispatch(ctx, inv, v.Definition, v, stageEC)
		if err != nil {
			return nil, err
		}
		prev = res
	}
	if prev == nil {
		return &Result{Env: ec.Env}, nil
	}
	out := *prev
	out.Env = ec.Env
	return &out, nil
}

// Scope returns a fresh root environment with every variable in defs
// defined. It is a convenience for hosts that load definitions in bulk.
func Scope(defs ...*executable.Variable) *env.Environment {
	scope := env.New()
	for _, d := range defs {
		scope.Define(d)
	}
	return scope
}
