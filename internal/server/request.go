package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
)

// Message types on both the NDJSON stream and the websocket.
const (
	TypeDispatch = "dispatch"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeEffect   = "effect"
	TypeResult   = "result"
	TypeError    = "error"
)

// Message is one NDJSON line or websocket frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// DispatchRequest is the body of POST /dispatch and the payload of a
// websocket "dispatch" message. Exactly one of Invocation or Pipeline is set.
// Items turns a single invocation into a loop over the items.
type DispatchRequest struct {
	Invocation string         `json:"invocation,omitempty"`
	Pipeline   []string       `json:"pipeline,omitempty"`
	Items      []any          `json:"items,omitempty"`
	Stdin      *string        `json:"stdin,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
}

type ResultPayload struct {
	Value      any    `json:"value"`
	Outputs    any    `json:"outputs,omitempty"`
	PipelineID string `json:"pipelineId,omitempty"`
}

type ErrorPayload struct {
	Message  string `json:"message"`
	Kind     string `json:"kind,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
}

const errBodyTooLargeMessage = "body too large"

func parseRequest(r *http.Request, maxBody int64) (*DispatchRequest, *ErrorPayload) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, &ErrorPayload{Message: "unsupported Content-Type"}
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &ErrorPayload{Message: "failed to read body"}
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, &ErrorPayload{Message: errBodyTooLargeMessage}
	}
	var req DispatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &ErrorPayload{Message: "invalid JSON"}
	}
	return &req, nil
}

// plan is a parsed DispatchRequest.
type plan struct {
	stages []*language.Invocation
	items  []any
	loop   bool
}

func (req *DispatchRequest) plan() (*plan, *ErrorPayload) {
	sources := req.Pipeline
	if req.Invocation != "" {
		if len(sources) > 0 {
			return nil, &ErrorPayload{Message: "set either 'invocation' or 'pipeline', not both"}
		}
		sources = []string{req.Invocation}
	}
	if len(sources) == 0 {
		return nil, &ErrorPayload{Message: "missing 'invocation'"}
	}
	p := &plan{items: req.Items, loop: req.Items != nil}
	if p.loop && len(sources) > 1 {
		return nil, &ErrorPayload{Message: "'items' cannot be combined with 'pipeline'"}
	}
	for _, src := range sources {
		inv, err := language.ParseInvocation(src)
		if err != nil {
			return nil, &ErrorPayload{Message: err.Error(), Kind: "parse"}
		}
		p.stages = append(p.stages, inv)
	}
	p.stages[0].Stdin = req.Stdin
	return p, nil
}

func (p *plan) execute(ctx context.Context, exec *executor.Executor, ec *executor.Context) (*executor.Result, error) {
	switch {
	case p.loop:
		return exec.Iterate(ctx, p.stages[0], p.items, ec)
	case len(p.stages) == 1:
		return exec.EvaluateInvocation(ctx, p.stages[0], ec)
	default:
		return exec.Pipeline(ctx, p.stages, ec)
	}
}

func (p *plan) String() string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return strings.Join(names, " | ")
}
