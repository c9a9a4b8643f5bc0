package grpctp

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Pattern: Result comparison
func TestStaticEndpoints(t *testing.T) {
	src := map[string][]string{"python": {"a:1", "b:2"}, "prompt": {"c:3"}}
	p := NewStaticEndpoints(src)
	src["python"][0] = "mutated"

	got, err := p.Endpoints(context.Background(), "python")
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"a:1", "b:2"}, got); diff != "" {
		t.Fatalf("endpoints mismatch (-want +got):\n%s", diff)
	}
	_, err = p.Endpoints(context.Background(), "ruby")
	require.ErrorIs(t, err, ErrNoEndpoints)
	require.Equal(t, []string{"prompt", "python"}, p.Targets())
}

func TestTransport_PickRoundRobinPerTarget(t *testing.T) {
	tp := New()
	var got []int
	for i := 0; i < 4; i++ {
		got = append(got, tp.pick("python", 3))
	}
	got = append(got, tp.pick("node", 3))
	if diff := cmp.Diff([]int{0, 1, 2, 0, 0}, got); diff != "" {
		t.Fatalf("picks mismatch (-want +got):\n%s", diff)
	}
}

func TestTransport_Misconfigured(t *testing.T) {
	err := New().Call(context.Background(), "python", nil, nil, nil)
	require.ErrorContains(t, err, "provider not configured")

	tp := New(WithProvider(NewStaticEndpoints(nil)))
	err = tp.Call(context.Background(), "python", nil, nil, nil)
	require.ErrorIs(t, err, ErrNoEndpoints)

	require.NoError(t, tp.Close())
	require.NoError(t, tp.Close())
	err = tp.Call(context.Background(), "python", nil, nil, nil)
	require.ErrorContains(t, err, "closed")
}

func TestMockCaller_ExhaustedAndErrors(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockCaller(MockError(boom))
	err := m.Call(context.Background(), "sh", nil, nil, nil)
	require.ErrorIs(t, err, boom)
	err = m.Call(context.Background(), "sh", nil, nil, nil)
	require.ErrorContains(t, err, "no more responses")
	require.Len(t, m.GetCalls(), 2)
	require.Equal(t, "sh", m.GetCalls()[0].Target)
}

// Pattern: Result comparison
func TestMockCaller_DeliversResponsesBeforeError(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockCaller(func(context.Context, protoreflect.MethodDescriptor, protoreflect.Message) ([]protoreflect.Message, error) {
		return []protoreflect.Message{
			wrapperspb.String("a").ProtoReflect(),
			wrapperspb.String("b").ProtoReflect(),
		}, boom
	})

	var got []string
	err := m.Call(context.Background(), "python", nil, nil, func(resp protoreflect.Message) error {
		got = append(got, resp.Interface().(*wrapperspb.StringValue).GetValue())
		return nil
	})
	require.ErrorIs(t, err, boom)
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Fatalf("responses mismatch (-want +got):\n%s", diff)
	}
}
