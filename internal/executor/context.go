package executor

import (
	"context"
	"time"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	env "github.com/mlld-lang/mlld-sub001/internal/env"
	eventbus "github.com/mlld-lang/mlld-sub001/internal/eventbus"
	events "github.com/mlld-lang/mlld-sub001/internal/events"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
	reqid "github.com/mlld-lang/mlld-sub001/internal/reqid"
	security "github.com/mlld-lang/mlld-sub001/internal/security"
)

// Context is the per-invocation execution state shared by a dispatch and
// everything it calls.
type Context struct {
	Env        *env.Environment
	Effects    effects.Sink
	PipelineID string
	// Policy overrides the executor's analyzer when set.
	Policy       security.Analyzer
	PolicyChecks bool
	Stack        *CallStack

	// Upstream holds the previous pipeline stage's descriptors. They are
	// attached to the first bound parameter.
	Upstream []executable.OutputDescriptor
}

// NewContext returns a Context with policy checks enabled and an empty call
// stack. The pipeline id is taken from ctx when present.
func NewContext(ctx context.Context, scope *env.Environment, sink effects.Sink) *Context {
	if scope == nil {
		scope = env.New()
	}
	if sink == nil {
		sink = effects.Discard
	}
	id, _ := reqid.FromContext(ctx)
	return &Context{
		Env:          scope,
		Effects:      sink,
		PipelineID:   id,
		PolicyChecks: true,
		Stack:        NewCallStack(),
	}
}

// With returns a shallow copy using scope. Stack, sink and policy are shared.
func (c *Context) With(scope *env.Environment) *Context {
	cp := *c
	cp.Env = scope
	cp.Upstream = nil
	return &cp
}

func (c *Context) stack() *CallStack {
	if c.Stack == nil {
		c.Stack = NewCallStack()
	}
	return c.Stack
}

func (c *Context) emitter(ctx context.Context, source string) Emitter {
	return func(kind, text string) {
		c.emit(ctx, effects.Kind(kind), text, source)
	}
}

func (c *Context) emit(ctx context.Context, kind effects.Kind, text, source string) {
	sink := c.Effects
	if sink == nil {
		sink = effects.Discard
	}
	sink.Emit(effects.Effect{
		Kind:       kind,
		Text:       text,
		Source:     source,
		PipelineID: c.PipelineID,
		Time:       time.Now(),
	})
	eventbus.Publish(ctx, events.EffectEmitted{
		Kind:       string(kind),
		Text:       text,
		Source:     source,
		PipelineID: c.PipelineID,
	})
}
