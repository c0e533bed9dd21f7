package realtime

import (
	"context"
	"testing"
	"time"

	"duotime/pkg/pubsub"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHub(t *testing.T) (*Hub, pubsub.Bus) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	bus := pubsub.NewRedisBus(rdb, zap.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	h := NewHub(bus, nil)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Stop)
	return h, bus
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestHub_RoutesByRecipient(t *testing.T) {
	h, bus := newHub(t)
	ctx := context.Background()

	u1, cancel1 := h.Register("u1")
	defer cancel1()
	u2, cancel2 := h.Register("u2")
	defer cancel2()

	require.NoError(t, bus.Publish(ctx, pubsub.ChannelNotificationCreated, `{"id":"n1","recipient_user_id":"u2"}`))
	require.NoError(t, bus.Publish(ctx, pubsub.ChannelNotificationDeleted, `{"id":"n0","recipient_user_id":"u1"}`))

	ev := next(t, u2)
	assert.Equal(t, EventNotificationReceived, ev.Name)
	assert.JSONEq(t, `{"id":"n1","recipient_user_id":"u2"}`, string(ev.Data))

	ev = next(t, u1)
	assert.Equal(t, EventNotificationDeleted, ev.Name)

	select {
	case ev := <-u2:
		t.Fatalf("unexpected event for u2: %s", ev.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_MultipleStreamsPerUser(t *testing.T) {
	h, bus := newHub(t)
	a, cancelA := h.Register("u1")
	defer cancelA()
	b, cancelB := h.Register("u1")
	assert.Equal(t, 2, h.Connected("u1"))

	require.NoError(t, bus.Publish(context.Background(), pubsub.ChannelNotificationRead, `{"recipient_user_id":"u1","all":true}`))
	assert.Equal(t, EventNotificationRead, next(t, a).Name)
	assert.Equal(t, EventNotificationRead, next(t, b).Name)

	cancelB()
	cancelB()
	assert.Equal(t, 1, h.Connected("u1"))
	_, open := <-b
	assert.False(t, open)
}

func TestHub_StopClosesStreams(t *testing.T) {
	h, _ := newHub(t)
	ch, cancel := h.Register("u1")

	h.Stop()
	_, open := <-ch
	assert.False(t, open)
	cancel()
	assert.Zero(t, h.Connected("u1"))
}
