package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/metadata"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	env "github.com/mlld-lang/mlld-sub001/internal/env"
	eventbus "github.com/mlld-lang/mlld-sub001/internal/eventbus"
	events "github.com/mlld-lang/mlld-sub001/internal/events"
	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	log "github.com/mlld-lang/mlld-sub001/internal/log"
	process "github.com/mlld-lang/mlld-sub001/internal/process"
	reqid "github.com/mlld-lang/mlld-sub001/internal/reqid"
)

// PipelineHeader carries the pipeline id of a dispatch back to the client.
const PipelineHeader = "X-Mlld-Pipeline-Id"

// Handler serves /dispatch (NDJSON effect stream) and /ws (websocket).
type Handler struct {
	exec *executor.Executor
	root *env.Environment
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON for non-streamed responses.
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled and
	// websocket upgrades must be same-origin.
	CORS CORSOptions

	// MetadataHeaders lists HTTP headers forwarded as outgoing gRPC metadata
	// to remote runtimes. Header names are case-insensitive.
	MetadataHeaders []string

	// Sink, when set, also receives every effect (an effect log, say).
	Sink effects.Sink

	// NoPolicy turns the command security gate off for every dispatch.
	NoPolicy bool
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}
func WithSink(s effects.Sink) Option { return func(o *Options) { o.Sink = s } }
func WithoutPolicy() Option          { return func(o *Options) { o.NoPolicy = true } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New returns a handler dispatching against child scopes of root.
func New(exec *executor.Executor, root *env.Environment, opts ...Option) *Handler {
	op := Options{Timeout: 30 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{exec: exec, root: root, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/ws":
		status = h.serveWebSocket(ctx, w, r)
	case "/dispatch", "":
		status = h.serveDispatch(ctx, w, r)
	case "/healthz":
		writeJSON(w, status, map[string]string{"status": "ok"}, h.opt.Pretty)
	default:
		status = http.StatusNotFound
		writeJSON(w, status, ErrorPayload{Message: "not found"}, h.opt.Pretty)
	}
}

func (h *Handler) serveDispatch(ctx context.Context, w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorPayload{Message: "method not allowed"}, h.opt.Pretty)
		return http.StatusMethodNotAllowed
	}
	req, perr := parseRequest(r, h.opt.MaxBodyBytes)
	if perr != nil {
		status := http.StatusBadRequest
		if perr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, perr, h.opt.Pretty)
		return status
	}
	plan, perr := req.plan()
	if perr != nil {
		writeJSON(w, http.StatusBadRequest, perr, h.opt.Pretty)
		return http.StatusBadRequest
	}

	ctx = h.outgoingMetadata(ctx, r)
	rid, _ := reqid.FromContext(ctx)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set(PipelineHeader, rid)
	w.WriteHeader(http.StatusOK)

	out := &ndjsonWriter{w: w}
	out.flusher, _ = w.(http.Flusher)
	h.run(ctx, plan, req.Variables, out.write)
	return http.StatusOK
}

// run dispatches plan and reports every effect, then the outcome, to send.
func (h *Handler) run(ctx context.Context, plan *plan, vars map[string]any, send func(Message)) {
	scope := h.root.Child()
	for k, v := range vars {
		scope.Set(k, v)
	}
	sink := effects.Multi(effects.SinkFunc(func(e effects.Effect) {
		send(Message{Type: TypeEffect, Payload: e})
	}), h.opt.Sink)
	ec := executor.NewContext(ctx, scope, sink)
	ec.PolicyChecks = !h.opt.NoPolicy

	res, err := plan.execute(ctx, h.exec, ec)
	if err != nil {
		log.Debug("dispatch failed", "pipeline", ec.PipelineID, "err", err)
		send(Message{Type: TypeError, Payload: errorPayload(err)})
		return
	}
	send(Message{Type: TypeResult, Payload: ResultPayload{Value: res.Value, Outputs: res.OutputDescriptors, PipelineID: ec.PipelineID}})
}

func (h *Handler) outgoingMetadata(ctx context.Context, r *http.Request) context.Context {
	if len(h.opt.MetadataHeaders) == 0 {
		return ctx
	}
	allowed := make(map[string]struct{}, len(h.opt.MetadataHeaders))
	for _, hdr := range h.opt.MetadataHeaders {
		allowed[strings.ToLower(hdr)] = struct{}{}
	}
	md := metadata.MD{}
	for k, v := range r.Header {
		if _, ok := allowed[strings.ToLower(k)]; ok {
			md[strings.ToLower(k)] = v
		}
	}
	if len(md) == 0 {
		return ctx
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// ndjsonWriter writes one JSON document per line and flushes it at once.
// Shell runtimes may emit from their stdout reader goroutine.
type ndjsonWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (n *ndjsonWriter) write(m Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := json.NewEncoder(n.w).Encode(m); err != nil {
		log.Debug("ndjson write failed", "err", err)
		return
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
}

// errorPayload classifies err by its dispatch error kind.
func errorPayload(err error) ErrorPayload {
	p := ErrorPayload{Message: err.Error(), Kind: "execution"}
	var exit *process.ExitError
	switch {
	case errors.Is(err, executor.ErrSecurity):
		p.Kind = "security"
	case errors.Is(err, executor.ErrCircularReference):
		p.Kind = "circular_reference"
	case errors.Is(err, executor.ErrArgument):
		p.Kind = "argument"
	case errors.Is(err, executor.ErrResolution):
		p.Kind = "resolution"
	case errors.Is(err, executor.ErrUnsupported):
		p.Kind = "unsupported"
	case errors.Is(err, context.DeadlineExceeded):
		p.Kind = "timeout"
	case errors.As(err, &exit):
		p.ExitCode = exit.Code
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" || !originAllowed(opts, origin) {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func originAllowed(opts CORSOptions, origin string) bool {
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
