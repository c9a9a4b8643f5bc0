package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	grpctp "github.com/mlld-lang/mlld-sub001/internal/grpctp"
	log "github.com/mlld-lang/mlld-sub001/internal/log"
	protoreg "github.com/mlld-lang/mlld-sub001/internal/protoreg"
)

// Effect is one effect reported back to the caller.
type Effect struct {
	Kind string
	Text string
}

// CodeCall is a decoded RunCode request.
type CodeCall struct {
	Name       string
	Language   string
	Source     string
	PipelineID string
	Args       map[string]any
}

// PromptCall is a decoded RunPrompt request.
type PromptCall struct {
	Name       string
	Prompt     string
	Config     any
	PipelineID string
}

// Handler implements the runtime service. emit may be called any number of
// times before returning; each effect is sent to the caller immediately, in
// that order, even when the handler then fails.
type Handler interface {
	RunCode(ctx context.Context, call *CodeCall, emit func(Effect)) (any, error)
	RunPrompt(ctx context.Context, call *PromptCall, emit func(Effect)) (any, error)
}

// Server hosts a Handler on a gRPC server using dynamic messages.
type Server struct {
	reg     *protoreg.Registry
	handler Handler
	grpc    *grpc.Server
}

func NewServer(reg *protoreg.Registry, h Handler, opts ...grpc.ServerOption) *Server {
	s := &Server{reg: reg, handler: h}
	opts = append(opts, grpc.UnknownServiceHandler(s.handle))
	s.grpc = grpc.NewServer(opts...)
	return s
}

// Serve blocks until lis fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error { return s.grpc.Serve(lis) }

func (s *Server) Stop() { s.grpc.GracefulStop() }

func (s *Server) handle(_ any, stream grpc.ServerStream) error {
	full, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method in stream")
	}
	want := "/" + string(s.reg.Service().FullName()) + "/"
	if len(full) <= len(want) || full[:len(want)] != want {
		return status.Errorf(codes.Unimplemented, "unknown service for %s", full)
	}
	md := s.reg.Method(protoreflect.Name(full[len(want):]))
	if md == nil {
		return status.Errorf(codes.Unimplemented, "unknown method %s", full)
	}

	req := dynamicpb.NewMessage(md.Input())
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	ctx := stream.Context()
	if m, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := m.Get(grpctp.PipelineMetadata); len(ids) > 0 {
			log.Debug("runtime call", "method", md.Name(), "pipeline", ids[0])
		}
	}

	// SendMsg must not run concurrently; handlers may emit from a reader
	// goroutine.
	var (
		mu      sync.Mutex
		sendErr error
	)
	emit := func(e Effect) {
		mu.Lock()
		defer mu.Unlock()
		if sendErr != nil {
			return
		}
		sendErr = stream.SendMsg(effectResponse(md, e))
	}

	var value any
	var err error
	switch md.Name() {
	case "RunCode":
		call := &CodeCall{
			Name:       getString(req, "name"),
			Language:   getString(req, "language"),
			Source:     getString(req, "source"),
			PipelineID: getString(req, "pipeline_id"),
		}
		if raw := getString(req, "args_json"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &call.Args); err != nil {
				return status.Errorf(codes.InvalidArgument, "args_json: %v", err)
			}
		}
		value, err = s.handler.RunCode(ctx, call, emit)
	case "RunPrompt":
		call := &PromptCall{
			Name:       getString(req, "name"),
			Prompt:     getString(req, "prompt"),
			PipelineID: getString(req, "pipeline_id"),
		}
		if raw := getString(req, "config_json"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &call.Config); err != nil {
				return status.Errorf(codes.InvalidArgument, "config_json: %v", err)
			}
		}
		value, err = s.handler.RunPrompt(ctx, call, emit)
	}

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		return toStatus(err)
	}
	if sendErr != nil {
		return sendErr
	}
	resp, err := finalResponse(md, value)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(resp)
}

// toStatus keeps handler status errors as they are. Blocked commands map to
// PermissionDenied, everything else to Unknown, with the message unchanged.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, executor.ErrSecurity) {
		return status.Error(codes.PermissionDenied, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}

func effectResponse(md protoreflect.MethodDescriptor, e Effect) *dynamicpb.Message {
	resp := dynamicpb.NewMessage(md.Output())
	fd := md.Output().Fields().ByName("effect")
	em := resp.Mutable(fd).Message()
	setString(em, "kind", e.Kind)
	setString(em, "text", e.Text)
	return resp
}

func finalResponse(md protoreflect.MethodDescriptor, value any) (*dynamicpb.Message, error) {
	resp := dynamicpb.NewMessage(md.Output())
	if value != nil {
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		setString(resp, "value_json", string(b))
	}
	resp.Set(md.Output().Fields().ByName("done"), protoreflect.ValueOfBool(true))
	return resp, nil
}
