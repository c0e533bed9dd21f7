package mq

import (
	"context"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, routingKey string, body []byte) error

// Consumer reads from a private queue bound to an exchange. The queue is
// exclusive and auto-deleted, so messages published while nobody listens are
// dropped, and a failed delivery is discarded instead of redelivered.
type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	exchange   string
	bindingKey string
	handler    MessageHandler
	logger     *zap.Logger
	done       chan struct{}
	closeOnce  sync.Once
}

// NewConsumer opens a channel on conn and binds a fresh server-named queue to
// exchange with bindingKey.
func NewConsumer(conn *amqp091.Connection, exchange, bindingKey string, logger *zap.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, bindingKey, exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("binding_key", bindingKey),
		zap.String("queue", q.Name),
		zap.String("exchange", exchange),
	)

	return &Consumer{
		channel:    ch,
		queue:      q,
		exchange:   exchange,
		bindingKey: bindingKey,
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// Close stops consumption; the exclusive queue goes away with the channel.
func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		if c.channel != nil {
			_ = c.channel.Close()
		}
	})
}

// Done is closed when StartConsuming returns.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// StartConsuming blocks until the channel is closed and should be called in a
// goroutine.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	defer close(c.done)
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"",
		false, // 手动ack
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Debug("Consumer started consuming messages",
		zap.String("binding_key", c.bindingKey),
		zap.String("queue", c.queue.Name),
	)

	// 每条消息都会被 ack 或 nack，失败的消息直接丢弃（不重新入队）
	for msg := range deliveries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Handler panic recovered",
						zap.String("routing_key", msg.RoutingKey),
						zap.Any("panic", r),
					)
					if err := msg.Nack(false, false); err != nil {
						c.logger.Error("Failed to nack message after panic", zap.Error(err))
					}
				}
			}()

			if err := c.handler(ctx, msg.RoutingKey, msg.Body); err != nil {
				c.logger.Warn("Handler error, message dropped",
					zap.String("routing_key", msg.RoutingKey),
					zap.Error(err),
				)
				if err := msg.Nack(false, false); err != nil {
					c.logger.Error("Failed to nack message", zap.Error(err))
				}
				return
			}

			if err := msg.Ack(false); err != nil {
				c.logger.Error("Failed to ack message",
					zap.String("routing_key", msg.RoutingKey),
					zap.Error(err),
				)
			}
		}()
	}

	return nil
}
