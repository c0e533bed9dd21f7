package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher owns one channel. amqp091 channels must not be used for
// concurrent publishes, so calls are serialized.
type Publisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	owned   bool
}

// NewPublisher dials url and declares the given exchanges.
func NewPublisher(url string, exchanges ...string) (*Publisher, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}
	p, err := NewPublisherOn(conn, exchanges...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// NewPublisherOn opens a channel on an existing connection. Close leaves the
// connection open.
func NewPublisherOn(conn *amqp091.Connection, exchanges ...string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	for _, ex := range exchanges {
		if err := DeclareExchange(ch, ex); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to declare exchange %s: %w", ex, err)
		}
	}

	return &Publisher{
		conn:    conn,
		channel: ch,
	}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.owned && p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected checks if the publisher connection is still alive
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed() && !p.channel.IsClosed()
}

// Ready is IsConnected in the shape of a readiness check.
func (p *Publisher) Ready(context.Context) error {
	if !p.IsConnected() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Publish sends a raw body to exchange with the given routing key.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp091.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
}
