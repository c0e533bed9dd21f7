package pubsub

import (
	"context"
	"fmt"
	"sync"

	"duotime/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus maps the bus onto Redis PUBLISH / SUBSCRIBE / PSUBSCRIBE.
type RedisBus struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*redisSubscription]struct{}
}

func NewRedisBus(rdb *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, logger: logger, subs: make(map[*redisSubscription]struct{})}
}

func (b *RedisBus) Publish(ctx context.Context, channel, message string) error {
	if err := b.rdb.Publish(ctx, channel, message).Err(); err != nil {
		metrics.IncrementBusPublish(channel, "error")
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	metrics.IncrementBusPublish(channel, "ok")
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	return b.start(ctx, b.rdb.Subscribe(ctx, channel), h)
}

func (b *RedisBus) PSubscribe(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	return b.start(ctx, b.rdb.PSubscribe(ctx, pattern), h)
}

// start waits for the server to confirm the subscription, so a publish
// issued after Subscribe returns is guaranteed to be seen.
func (b *RedisBus) start(ctx context.Context, ps *redis.PubSub, h Handler) (Subscription, error) {
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	s := &redisSubscription{ps: ps, bus: b, done: make(chan struct{})}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(s.done)
		for m := range ps.Channel() {
			safeCall(context.Background(), b.logger, h, Message{
				Channel: m.Channel,
				Pattern: m.Pattern,
				Payload: m.Payload,
			})
		}
	}()
	return s, nil
}

// Close closes every open subscription. The Redis client is owned by the
// caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := make([]*redisSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	bus  *RedisBus
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return err
}
