package grpctp

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// CallRecord captures a single Call invocation for assertions.
type CallRecord struct {
	Target string
	// FullMethod is "/<service full name>/<method>".
	FullMethod string
	// Request is a deep-cloned snapshot of the input.
	Request proto.Message
}

// MockResponder answers one call. It receives the request message and
// returns the responses to deliver, in order, followed by the call's error.
type MockResponder func(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) ([]protoreflect.Message, error)

// MockCaller implements Caller and answers with the responders given to it,
// in order, while recording every call.
type MockCaller struct {
	mu         sync.Mutex
	responders []MockResponder
	idx        int
	calls      []CallRecord
}

var _ Caller = (*MockCaller)(nil)

func NewMockCaller(responders ...MockResponder) *MockCaller {
	return &MockCaller{responders: append([]MockResponder(nil), responders...)}
}

// MockError returns a responder that fails with err.
func MockError(err error) MockResponder {
	return func(context.Context, protoreflect.MethodDescriptor, protoreflect.Message) ([]protoreflect.Message, error) {
		return nil, err
	}
}

func (m *MockCaller) Call(ctx context.Context, target string, method protoreflect.MethodDescriptor, request protoreflect.Message, recv func(protoreflect.Message) error) error {
	m.mu.Lock()
	var clone proto.Message
	if request != nil {
		clone = proto.Clone(request.Interface())
	}
	full := ""
	if method != nil {
		full = fmt.Sprintf("/%s/%s", method.Parent().FullName(), method.Name())
	}
	m.calls = append(m.calls, CallRecord{Target: target, FullMethod: full, Request: clone})
	if m.idx >= len(m.responders) {
		m.mu.Unlock()
		return fmt.Errorf("mock caller: no more responses")
	}
	r := m.responders[m.idx]
	m.idx++
	m.mu.Unlock()

	resps, err := r(ctx, method, request)
	for _, resp := range resps {
		if rerr := recv(resp); rerr != nil {
			return rerr
		}
	}
	return err
}

// GetCalls returns a copy of the recorded calls.
func (m *MockCaller) GetCalls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallRecord(nil), m.calls...)
}
