// Package pubsub is a fire-and-forget publish/subscribe bus. Delivery is at
// most once per subscriber; messages published while nobody subscribes are
// lost. Order is preserved per channel for a single publisher only.
package pubsub

import (
	"context"
	"fmt"

	"duotime/pkg/config"
	"duotime/pkg/mq"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notification lifecycle channels.
const (
	ChannelNotificationCreated = "notification.created"
	ChannelNotificationRead    = "notification.read"
	ChannelNotificationDeleted = "notification.deleted"
	// PatternNotifications matches every notification channel.
	PatternNotifications = "notification.*"
)

const (
	DriverRedis = "redis"
	DriverAMQP  = "amqp"
)

// Message is one delivery. Pattern is set for pattern subscriptions.
type Message struct {
	Channel string
	Pattern string
	Payload string
}

// Handler consumes a message. Handlers run on the subscription goroutine; a
// slow handler delays later messages of the same subscription.
type Handler func(ctx context.Context, msg Message)

type Subscription interface {
	Close() error
}

type Bus interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
	PSubscribe(ctx context.Context, pattern string, h Handler) (Subscription, error)
	Close() error
}

// New builds the bus selected by cfg.Driver.
func New(cfg config.PubSubConfig, rdb *redis.Client, mqURL string, logger *zap.Logger) (Bus, error) {
	switch cfg.Driver {
	case "", DriverRedis:
		return NewRedisBus(rdb, logger), nil
	case DriverAMQP:
		conn, err := mq.NewConnection(mqURL)
		if err != nil {
			return nil, err
		}
		return NewAMQPBus(conn, logger)
	default:
		return nil, fmt.Errorf("unknown pubsub driver %q", cfg.Driver)
	}
}

// safeCall keeps a panicking handler from killing the subscription.
func safeCall(ctx context.Context, logger *zap.Logger, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Subscriber panic recovered",
				zap.String("channel", msg.Channel),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, msg)
}
