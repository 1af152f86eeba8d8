package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ n int }
type pong struct{}

func TestBusDispatchesByType(t *testing.T) {
	b := New()
	var got []int
	On(b, func(_ context.Context, p ping) { got = append(got, p.n) })
	On(b, func(_ context.Context, p ping) { got = append(got, p.n*10) })
	pongs := 0
	On(b, func(_ context.Context, _ pong) { pongs++ })

	Emit(b, context.Background(), ping{n: 1})
	Emit(b, context.Background(), pong{})

	require.Equal(t, []int{1, 10}, got)
	require.Equal(t, 1, pongs)
}

func TestBusUnsubscribe(t *testing.T) {
	b := New()
	var got []string
	first := On(b, func(_ context.Context, _ ping) { got = append(got, "first") })
	On(b, func(_ context.Context, _ ping) { got = append(got, "second") })

	first()
	first()
	Emit(b, context.Background(), ping{})
	require.Equal(t, []string{"second"}, got)
}

func TestGlobalBus(t *testing.T) {
	Use(nil)
	unsubscribe := Subscribe(func(context.Context, ping) { t.Fatal("no bus in use") })
	Publish(context.Background(), ping{})
	unsubscribe()

	b := New()
	Use(b)
	defer Use(nil)
	count := 0
	Subscribe(func(context.Context, ping) { count++ })
	Publish(context.Background(), ping{})
	require.Equal(t, 1, count)
}
