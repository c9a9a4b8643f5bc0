// Package otel turns event bus traffic into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	eventbus "github.com/mlld-lang/mlld-sub001/internal/eventbus"
	events "github.com/mlld-lang/mlld-sub001/internal/events"
	reqid "github.com/mlld-lang/mlld-sub001/internal/reqid"
)

const pipelineKey = attribute.Key("mlld.pipeline.id")

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Attach(otel.Tracer("mlldx"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach subscribes a span-producing subscriber using tracer. The returned
// func removes the subscriptions.
func Attach(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer, dispatch: map[string][]trace.Span{}}
	return s.register()
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // pipeline -> trace.Span
	grpcSpans sync.Map // pipeline -> trace.Span
	procSpans sync.Map // pipeline + command line -> trace.Span

	mu       sync.Mutex
	dispatch map[string][]trace.Span // pipeline -> open dispatch spans, innermost last
}

func pipelineOf(ctx context.Context, id string) string {
	if id != "" {
		return id
	}
	rid, _ := reqid.FromContext(ctx)
	return rid
}

// parent returns ctx carrying the innermost open span of the pipeline.
func (s *subscriber) parent(ctx context.Context, pid string) context.Context {
	s.mu.Lock()
	stack := s.dispatch[pid]
	s.mu.Unlock()
	if n := len(stack); n > 0 {
		return trace.ContextWithSpan(ctx, stack[n-1])
	}
	if v, ok := s.httpSpans.Load(pid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register() func() {
	var subs []func()
	add := func(unsub func()) { subs = append(subs, unsub) }

	add(eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		pid := pipelineOf(ctx, "")
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
			pipelineKey.String(pid),
		)
		s.httpSpans.Store(pid, span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		v, ok := s.httpSpans.LoadAndDelete(pipelineOf(ctx, ""))
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.DispatchStart) {
		pid := pipelineOf(ctx, e.PipelineID)
		_, span := s.tracer.Start(s.parent(ctx, pid), "mlld.dispatch "+e.Name)
		span.SetAttributes(
			attribute.String("mlld.executable", e.Name),
			attribute.String("mlld.kind", e.Kind),
			attribute.Int("mlld.depth", e.Depth),
			pipelineKey.String(pid),
		)
		s.mu.Lock()
		s.dispatch[pid] = append(s.dispatch[pid], span)
		s.mu.Unlock()
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.DispatchFinish) {
		pid := pipelineOf(ctx, e.PipelineID)
		s.mu.Lock()
		stack := s.dispatch[pid]
		if len(stack) == 0 {
			s.mu.Unlock()
			return
		}
		span := stack[len(stack)-1]
		if len(stack) == 1 {
			delete(s.dispatch, pid)
		} else {
			s.dispatch[pid] = stack[:len(stack)-1]
		}
		s.mu.Unlock()
		finish(span, e.Err)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.SecurityReview) {
		pid := pipelineOf(ctx, e.PipelineID)
		span := trace.SpanFromContext(s.parent(ctx, pid))
		span.AddEvent("security.review", trace.WithAttributes(
			attribute.String("mlld.command", e.CommandLine),
			attribute.Bool("mlld.blocked", e.Blocked),
			attribute.Bool("mlld.requires_approval", e.RequiresApproval),
			attribute.StringSlice("mlld.risks", e.Risks),
		))
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.ProcessStart) {
		pid := pipelineOf(ctx, e.PipelineID)
		_, span := s.tracer.Start(s.parent(ctx, pid), "process.exec")
		span.SetAttributes(attribute.String("process.command_line", e.CommandLine), pipelineKey.String(pid))
		s.procSpans.Store(pid+"\x00"+e.CommandLine, span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.ProcessFinish) {
		pid := pipelineOf(ctx, e.PipelineID)
		v, ok := s.procSpans.LoadAndDelete(pid + "\x00" + e.CommandLine)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("process.exit_code", e.ExitCode))
		finish(span, e.Err)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientStart) {
		pid := pipelineOf(ctx, "")
		_, span := s.tracer.Start(s.parent(ctx, pid), "grpc.client")
		span.SetAttributes(
			semconv.RPCServiceKey.String(e.Service),
			semconv.RPCMethodKey.String(e.Method),
			attribute.String("net.peer.name", e.Target),
			pipelineKey.String(pid),
		)
		s.grpcSpans.Store(pid, span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientFinish) {
		v, ok := s.grpcSpans.LoadAndDelete(pipelineOf(ctx, ""))
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.String("grpc.code", e.Code.String()))
		finish(span, e.Err)
	}))

	return func() {
		for _, u := range subs {
			u()
		}
	}
}
