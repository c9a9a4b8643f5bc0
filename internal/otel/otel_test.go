package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	eventbus "github.com/mlld-lang/mlld-sub001/internal/eventbus"
	events "github.com/mlld-lang/mlld-sub001/internal/events"
)

func TestAttach_NestsDispatchAndProcessSpans(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	unsubscribe := Attach(tp.Tracer("test"))
	defer unsubscribe()

	ctx := context.Background()
	eventbus.Publish(ctx, events.DispatchStart{Name: "outer", Kind: "commandRef", PipelineID: "p1"})
	eventbus.Publish(ctx, events.DispatchStart{Name: "inner", Kind: "command", PipelineID: "p1", Depth: 1})
	eventbus.Publish(ctx, events.ProcessStart{CommandLine: "echo hi", PipelineID: "p1"})
	eventbus.Publish(ctx, events.ProcessFinish{CommandLine: "echo hi", PipelineID: "p1"})
	eventbus.Publish(ctx, events.DispatchFinish{Name: "inner", PipelineID: "p1", Depth: 1, Err: errors.New("boom")})
	eventbus.Publish(ctx, events.DispatchFinish{Name: "outer", PipelineID: "p1"})

	spans := rec.Ended()
	require.Len(t, spans, 3)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[s.Name()] = s
	}
	outer := byName["mlld.dispatch outer"]
	inner := byName["mlld.dispatch inner"]
	proc := byName["process.exec"]
	require.NotNil(t, outer)
	require.NotNil(t, inner)
	require.NotNil(t, proc)

	require.Equal(t, outer.SpanContext().SpanID(), inner.Parent().SpanID())
	require.Equal(t, inner.SpanContext().SpanID(), proc.Parent().SpanID())
	require.Equal(t, codes.Error, inner.Status().Code)
	require.Equal(t, codes.Unset, outer.Status().Code)
}

func TestAttach_Unsubscribe(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	Attach(tp.Tracer("test"))()

	eventbus.Publish(context.Background(), events.DispatchStart{Name: "x", PipelineID: "p"})
	eventbus.Publish(context.Background(), events.DispatchFinish{Name: "x", PipelineID: "p"})
	require.Empty(t, rec.Ended())
}

func TestSetup_NoEndpoint(t *testing.T) {
	shutdown, err := Setup("", "mlldx")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
