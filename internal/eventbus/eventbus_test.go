package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ N int }
type pong struct{ N int }

func TestBus_TypedDeliveryAndUnsubscribe(t *testing.T) {
	b := New()
	var got []string
	un1 := On(b, func(_ context.Context, p ping) { got = append(got, "h1") })
	On(b, func(_ context.Context, p ping) { got = append(got, "h2") })
	On(b, func(_ context.Context, p pong) { got = append(got, "pong") })

	Emit(context.Background(), b, ping{N: 1})
	require.Equal(t, []string{"h1", "h2"}, got)

	un1()
	got = nil
	Emit(context.Background(), b, ping{N: 2})
	require.Equal(t, []string{"h2"}, got)
}

func TestGlobal_PublishWithoutBusIsNoop(t *testing.T) {
	Use(nil)
	called := false
	unsub := Subscribe(func(context.Context, ping) { called = true })
	Publish(context.Background(), ping{})
	unsub()
	require.False(t, called)

	b := New()
	Use(b)
	defer Use(nil)
	Subscribe(func(context.Context, ping) { called = true })
	Publish(context.Background(), ping{})
	require.True(t, called)
}
