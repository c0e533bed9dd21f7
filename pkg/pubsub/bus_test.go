package pubsub

import (
	"context"
	"testing"
	"time"

	"duotime/pkg/config"
	"duotime/pkg/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisBus(t *testing.T) *RedisBus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	b := NewRedisBus(rdb, zap.NewNop())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestRedisBus_SubscribeReceivesInOrder(t *testing.T) {
	b := newRedisBus(t)
	ctx := context.Background()

	got := make(chan Message, 10)
	sub, err := b.Subscribe(ctx, ChannelNotificationCreated, func(_ context.Context, m Message) { got <- m })
	require.NoError(t, err)
	defer sub.Close()

	before := testutil.ToFloat64(metrics.BusPublishes.WithLabelValues(ChannelNotificationCreated, "ok"))
	for _, p := range []string{"1", "2", "3"} {
		require.NoError(t, b.Publish(ctx, ChannelNotificationCreated, p))
	}

	for _, want := range []string{"1", "2", "3"} {
		m := receive(t, got)
		assert.Equal(t, want, m.Payload)
		assert.Equal(t, ChannelNotificationCreated, m.Channel)
		assert.Empty(t, m.Pattern)
	}
	assert.Equal(t, before+3, testutil.ToFloat64(metrics.BusPublishes.WithLabelValues(ChannelNotificationCreated, "ok")))
}

func TestRedisBus_PatternSubscription(t *testing.T) {
	b := newRedisBus(t)
	ctx := context.Background()

	got := make(chan Message, 10)
	sub, err := b.PSubscribe(ctx, PatternNotifications, func(_ context.Context, m Message) { got <- m })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "love_note.created", "ignored"))
	require.NoError(t, b.Publish(ctx, ChannelNotificationRead, `{"id":"n1"}`))

	m := receive(t, got)
	assert.Equal(t, ChannelNotificationRead, m.Channel)
	assert.Equal(t, PatternNotifications, m.Pattern)
	assert.Equal(t, `{"id":"n1"}`, m.Payload)
}

func TestRedisBus_NoSubscriberMessageIsLost(t *testing.T) {
	b := newRedisBus(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, ChannelNotificationDeleted, "early"))

	got := make(chan Message, 10)
	sub, err := b.Subscribe(ctx, ChannelNotificationDeleted, func(_ context.Context, m Message) { got <- m })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, ChannelNotificationDeleted, "late"))
	assert.Equal(t, "late", receive(t, got).Payload)
	select {
	case m := <-got:
		t.Fatalf("unexpected message %q", m.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisBus_CloseStopsDelivery(t *testing.T) {
	b := newRedisBus(t)
	ctx := context.Background()

	got := make(chan Message, 10)
	sub, err := b.Subscribe(ctx, ChannelNotificationCreated, func(_ context.Context, m Message) { got <- m })
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close is idempotent")

	require.NoError(t, b.Publish(ctx, ChannelNotificationCreated, "x"))
	select {
	case <-got:
		t.Fatal("closed subscription received a message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisBus_PanickingHandlerKeepsSubscription(t *testing.T) {
	b := newRedisBus(t)
	ctx := context.Background()

	got := make(chan Message, 10)
	sub, err := b.Subscribe(ctx, ChannelNotificationCreated, func(_ context.Context, m Message) {
		if m.Payload == "bad" {
			panic("boom")
		}
		got <- m
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, ChannelNotificationCreated, "bad"))
	require.NoError(t, b.Publish(ctx, ChannelNotificationCreated, "good"))
	assert.Equal(t, "good", receive(t, got).Payload)
}

func TestBindingKey(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
		wantErr bool
	}{
		{pattern: "notification.*", want: "notification.#"},
		{pattern: "notification.created", want: "notification.created"},
		{pattern: "*", want: "#"},
		{pattern: "notification.?", wantErr: true},
		{pattern: "notif*", wantErr: true},
		{pattern: "notification.[ab]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := BindingKey(tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(config.PubSubConfig{Driver: "kafka"}, nil, "", zap.NewNop())
	assert.Error(t, err)

	b, err := New(config.PubSubConfig{}, redis.NewClient(&redis.Options{Addr: "localhost:0"}), "", zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &RedisBus{}, b)
}
