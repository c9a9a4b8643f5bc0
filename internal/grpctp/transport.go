package grpctp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	eventbus "github.com/mlld-lang/mlld-sub001/internal/eventbus"
	events "github.com/mlld-lang/mlld-sub001/internal/events"
	reqid "github.com/mlld-lang/mlld-sub001/internal/reqid"
)

// PipelineMetadata is the outgoing metadata key carrying the pipeline id.
const PipelineMetadata = "x-mlld-pipeline-id"

// TargetMetadata is the outgoing metadata key carrying the routing target.
const TargetMetadata = "x-mlld-target"

// Caller executes one method with dynamic messages against the endpoints
// serving target (a language tag or "prompt"). recv is called for every
// response in arrival order: once for unary methods, once per message for
// server-streaming methods. An error from recv ends the call.
type Caller interface {
	Call(ctx context.Context, target string, method protoreflect.MethodDescriptor, request protoreflect.Message, recv func(protoreflect.Message) error) error
}

// Transport is a pooled gRPC client. Endpoints are picked round-robin per
// target; a call that fails with Unavailable before any response arrived is
// retried once on the next endpoint.
type Transport struct {
	opts *Options

	mu     sync.RWMutex
	pools  map[string]*connPool // key: endpoint
	next   map[string]*atomic.Uint64
	closed atomic.Bool
}

var _ Caller = (*Transport)(nil)

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Transport{
		opts:  o,
		pools: make(map[string]*connPool),
		next:  make(map[string]*atomic.Uint64),
	}
}

func (t *Transport) Call(ctx context.Context, target string, method protoreflect.MethodDescriptor, request protoreflect.Message, recv func(protoreflect.Message) error) error {
	if t.closed.Load() {
		return fmt.Errorf("grpctp: closed")
	}
	if t.opts.Provider == nil {
		return fmt.Errorf("grpctp: provider not configured")
	}
	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}

	ctx = metadata.AppendToOutgoingContext(ctx, TargetMetadata, target)
	if id, ok := reqid.FromContext(ctx); ok {
		ctx = metadata.AppendToOutgoingContext(ctx, PipelineMetadata, id)
	}

	endpoints, err := t.opts.Provider.Endpoints(ctx, target)
	if err != nil {
		return err
	}
	attempts := 1
	if len(endpoints) > 1 {
		attempts = 2
	}
	for i := 0; i < attempts; i++ {
		endpoint := endpoints[t.pick(target, len(endpoints))]
		var n int
		n, err = t.callEndpoint(ctx, endpoint, method, request, recv)
		// Responses already handed to recv cannot be taken back.
		if n > 0 || status.Code(err) != codes.Unavailable {
			break
		}
	}
	return err
}

func (t *Transport) callEndpoint(ctx context.Context, endpoint string, method protoreflect.MethodDescriptor, request protoreflect.Message, recv func(protoreflect.Message) error) (int, error) {
	service := string(method.Parent().FullName())
	fullMethod := fmt.Sprintf("/%s/%s", service, method.Name())

	cc, err := t.getConn(ctx, endpoint)
	if err != nil {
		return 0, err
	}
	defer t.returnConn(endpoint, cc)

	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{Service: service, Method: string(method.Name()), Target: endpoint})
	n, err := invoke(ctx, cc, fullMethod, method, request, recv)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		Service:  service,
		Method:   string(method.Name()),
		Target:   endpoint,
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	return n, err
}

// invoke sends request on cc and returns how many responses reached recv.
func invoke(ctx context.Context, cc *grpc.ClientConn, fullMethod string, method protoreflect.MethodDescriptor, request protoreflect.Message, recv func(protoreflect.Message) error) (int, error) {
	if !method.IsStreamingServer() {
		resp := dynamicpb.NewMessage(method.Output())
		if err := cc.Invoke(ctx, fullMethod, request.Interface(), resp); err != nil {
			return 0, err
		}
		return 1, recv(resp)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	desc := &grpc.StreamDesc{StreamName: string(method.Name()), ServerStreams: true}
	cs, err := cc.NewStream(ctx, desc, fullMethod)
	if err != nil {
		return 0, err
	}
	// io.EOF from SendMsg means the status is waiting in RecvMsg.
	if err := cs.SendMsg(request.Interface()); err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if err := cs.CloseSend(); err != nil {
		return 0, err
	}
	n := 0
	for {
		resp := dynamicpb.NewMessage(method.Output())
		if err := cs.RecvMsg(resp); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		n++
		if err := recv(resp); err != nil {
			return n, err
		}
	}
}

func (t *Transport) pick(target string, n int) int {
	t.mu.RLock()
	c := t.next[target]
	t.mu.RUnlock()
	if c == nil {
		t.mu.Lock()
		if c = t.next[target]; c == nil {
			c = new(atomic.Uint64)
			t.next[target] = c
		}
		t.mu.Unlock()
	}
	return int((c.Add(1) - 1) % uint64(n))
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.close()
	}
	t.pools = map[string]*connPool{}
	return nil
}

type connPool struct {
	endpoint string
	opts     *Options
	conns    chan *grpc.ClientConn
	closed   atomic.Bool
}

func newConnPool(endpoint string, opts *Options) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{
		endpoint: endpoint,
		opts:     opts,
		conns:    make(chan *grpc.ClientConn, n),
	}
}

func (p *connPool) get() (*grpc.ClientConn, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("grpctp: pool closed")
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		return grpc.NewClient(p.endpoint, p.opts.DialOptions...)
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	if cc == nil || p.closed.Load() {
		if cc != nil {
			_ = cc.Close()
		}
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.conns)
	for cc := range p.conns {
		_ = cc.Close()
	}
}

func (t *Transport) getConn(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool == nil {
		t.mu.Lock()
		pool = t.pools[endpoint]
		if pool == nil {
			pool = newConnPool(endpoint, t.opts)
			t.pools[endpoint] = pool
		}
		t.mu.Unlock()
	}
	return pool.get()
}

func (t *Transport) returnConn(endpoint string, cc *grpc.ClientConn) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}
