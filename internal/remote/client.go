// Package remote serves code and prose executables through the
// mlld.runtime.v1.Runtime gRPC service.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	grpctp "github.com/mlld-lang/mlld-sub001/internal/grpctp"
	protoreg "github.com/mlld-lang/mlld-sub001/internal/protoreg"
)

// PromptTarget is the routing target for prose prompts.
const PromptTarget = "prompt"

// CodeRuntime runs code of any language on the endpoints registered for
// that language.
type CodeRuntime struct {
	caller grpctp.Caller
	reg    *protoreg.Registry
}

func NewCodeRuntime(caller grpctp.Caller, reg *protoreg.Registry) *CodeRuntime {
	return &CodeRuntime{caller: caller, reg: reg}
}

// Run ships req to the language's endpoints. Shell source passes the
// caller's security gate before it leaves the process.
func (r *CodeRuntime) Run(ctx context.Context, req *executor.CodeRequest) (any, error) {
	if executor.IsShellLanguage(req.Language) && req.Gate != nil {
		if err := req.Gate(ctx, req.Source); err != nil {
			return nil, err
		}
	}
	args, err := json.Marshal(req.Bundle.Runtime)
	if err != nil {
		return nil, fmt.Errorf("remote: encode args: %w", err)
	}
	md := r.reg.RunCode()
	msg := dynamicpb.NewMessage(md.Input())
	setString(msg, "name", req.Name)
	setString(msg, "language", req.Language)
	setString(msg, "source", req.Source)
	setString(msg, "pipeline_id", req.PipelineID)
	setString(msg, "args_json", string(args))

	return call(ctx, r.caller, req.Language, md, msg, req.Emit)
}

// PromptBackend sends prose prompts to the "prompt" target.
type PromptBackend struct {
	caller grpctp.Caller
	reg    *protoreg.Registry
}

func NewPromptBackend(caller grpctp.Caller, reg *protoreg.Registry) *PromptBackend {
	return &PromptBackend{caller: caller, reg: reg}
}

func (p *PromptBackend) Run(ctx context.Context, req *executor.PromptRequest) (any, error) {
	cfg, err := json.Marshal(req.Config)
	if err != nil {
		return nil, fmt.Errorf("remote: encode config: %w", err)
	}
	md := p.reg.RunPrompt()
	msg := dynamicpb.NewMessage(md.Input())
	setString(msg, "name", req.Name)
	setString(msg, "prompt", req.Prompt)
	setString(msg, "config_json", string(cfg))
	setString(msg, "pipeline_id", req.PipelineID)

	return call(ctx, p.caller, PromptTarget, md, msg, req.Emit)
}

func setString(msg protoreflect.Message, field protoreflect.Name, v string) {
	msg.Set(msg.Descriptor().Fields().ByName(field), protoreflect.ValueOfString(v))
}

func getString(msg protoreflect.Message, field protoreflect.Name) string {
	return msg.Get(msg.Descriptor().Fields().ByName(field)).String()
}

// Error is a failure reported by a remote runtime. Error returns the
// worker's message unchanged and GRPCStatus keeps the status code.
type Error struct {
	Target string
	st     *status.Status
}

func (e *Error) Error() string              { return e.st.Message() }
func (e *Error) GRPCStatus() *status.Status { return e.st }

// Unwrap lets callers classify blocked commands the same way local ones are.
func (e *Error) Unwrap() error {
	if e.st.Code() == codes.PermissionDenied {
		return executor.ErrSecurity
	}
	return nil
}

// call runs one streamed method. Effects are emitted as their messages
// arrive; the final message carries value_json. An empty value_json decodes
// to nil.
func call(ctx context.Context, caller grpctp.Caller, target string, md protoreflect.MethodDescriptor, msg protoreflect.Message, emit executor.Emitter) (any, error) {
	var (
		raw  string
		done bool
	)
	err := caller.Call(ctx, target, md, msg, func(resp protoreflect.Message) error {
		fields := resp.Descriptor().Fields()
		if e := fields.ByName("effect"); resp.Has(e) {
			em := resp.Get(e).Message()
			if emit != nil {
				emit(getString(em, "kind"), getString(em, "text"))
			}
		}
		if resp.Get(fields.ByName("done")).Bool() {
			raw, done = getString(resp, "value_json"), true
		}
		return nil
	})
	if err != nil {
		return nil, remoteError(target, err)
	}
	if !done {
		return nil, fmt.Errorf("remote: %s: stream ended without a result", target)
	}
	if raw == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("remote: decode value: %w", err)
	}
	return v, nil
}

func remoteError(target string, err error) error {
	var gs interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &gs) {
		return err
	}
	return &Error{Target: target, st: gs.GRPCStatus()}
}
