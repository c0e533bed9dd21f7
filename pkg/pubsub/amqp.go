package pubsub

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"duotime/pkg/metrics"
	"duotime/pkg/mq"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPBus maps the bus onto a RabbitMQ topic exchange. Every subscription
// gets its own exclusive auto-delete queue, which gives the same "only live
// subscribers receive" semantics as Redis pub/sub.
type AMQPBus struct {
	conn      *amqp091.Connection
	publisher *mq.Publisher
	logger    *zap.Logger

	mu   sync.Mutex
	subs map[*amqpSubscription]struct{}
}

func NewAMQPBus(conn *amqp091.Connection, logger *zap.Logger) (*AMQPBus, error) {
	pub, err := mq.NewPublisherOn(conn, mq.PubSubExchange)
	if err != nil {
		return nil, err
	}
	return &AMQPBus{
		conn:      conn,
		publisher: pub,
		logger:    logger,
		subs:      make(map[*amqpSubscription]struct{}),
	}, nil
}

func (b *AMQPBus) Publish(ctx context.Context, channel, message string) error {
	if err := b.publisher.Publish(ctx, mq.PubSubExchange, channel, []byte(message), nil); err != nil {
		metrics.IncrementBusPublish(channel, "error")
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	metrics.IncrementBusPublish(channel, "ok")
	return nil
}

func (b *AMQPBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	if strings.ContainsAny(channel, "*#") {
		return nil, fmt.Errorf("channel %q contains wildcards, use PSubscribe", channel)
	}
	return b.start(ctx, channel, "", h)
}

func (b *AMQPBus) PSubscribe(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	key, err := BindingKey(pattern)
	if err != nil {
		return nil, err
	}
	return b.start(ctx, key, pattern, h)
}

func (b *AMQPBus) start(ctx context.Context, bindingKey, pattern string, h Handler) (Subscription, error) {
	c, err := mq.NewConsumer(b.conn, mq.PubSubExchange, bindingKey, b.logger)
	if err != nil {
		return nil, err
	}
	c.SetHandler(func(ctx context.Context, routingKey string, body []byte) error {
		safeCall(ctx, b.logger, h, Message{Channel: routingKey, Pattern: pattern, Payload: string(body)})
		return nil
	})

	go func() {
		if err := c.StartConsuming(context.WithoutCancel(ctx)); err != nil {
			b.logger.Error("Bus consumer stopped", zap.String("binding_key", bindingKey), zap.Error(err))
		}
	}()

	s := &amqpSubscription{consumer: c, bus: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Close closes every subscription, the publisher and the connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	subs := make([]*amqpSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	b.publisher.Close()
	return b.conn.Close()
}

type amqpSubscription struct {
	consumer *mq.Consumer
	bus      *AMQPBus
	once     sync.Once
}

func (s *amqpSubscription) Close() error {
	s.once.Do(func() {
		s.consumer.Close()
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return nil
}

// BindingKey translates a Redis-style glob over dot-separated channel names
// into an AMQP topic binding key. '*' becomes '#' because a Redis '*' also
// spans dots. '?' and character classes have no topic equivalent.
func BindingKey(pattern string) (string, error) {
	if strings.ContainsAny(pattern, "?[]") {
		return "", fmt.Errorf("pattern %q: only '*' wildcards are supported", pattern)
	}
	words := strings.Split(pattern, ".")
	for i, w := range words {
		switch {
		case w == "*":
			words[i] = "#"
		case strings.Contains(w, "*"):
			return "", fmt.Errorf("pattern %q: '*' must be a whole word", pattern)
		}
	}
	return strings.Join(words, "."), nil
}
