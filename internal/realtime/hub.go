// Package realtime fans notification events out to connected clients. It is
// the only consumer that turns the bus into per-user streams.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"duotime/pkg/pubsub"

	"go.uber.org/zap"
)

// Event names sent to clients.
const (
	EventNotificationReceived = "notificationReceived"
	EventNotificationRead     = "notificationRead"
	EventNotificationDeleted  = "notificationDeleted"
)

const clientBuffer = 16

var eventNames = map[string]string{
	pubsub.ChannelNotificationCreated: EventNotificationReceived,
	pubsub.ChannelNotificationRead:    EventNotificationRead,
	pubsub.ChannelNotificationDeleted: EventNotificationDeleted,
}

// Event is one message for a client stream. Data is the bus payload as is.
type Event struct {
	Name string
	Data json.RawMessage
}

type client struct {
	userID string
	ch     chan Event
}

// Hub keeps the connected clients per user.
type Hub struct {
	bus    pubsub.Bus
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	sub     pubsub.Subscription
}

func NewHub(bus pubsub.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{bus: bus, logger: logger, clients: make(map[string]map[*client]struct{})}
}

// Start subscribes to every notification channel.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sub != nil {
		return nil
	}
	sub, err := h.bus.PSubscribe(ctx, pubsub.PatternNotifications, h.dispatch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pubsub.PatternNotifications, err)
	}
	h.sub = sub
	return nil
}

// Stop unsubscribes and closes every client stream.
func (h *Hub) Stop() {
	h.mu.Lock()
	sub := h.sub
	h.sub = nil
	clients := h.clients
	h.clients = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	for _, set := range clients {
		for c := range set {
			close(c.ch)
		}
	}
}

// Register opens a stream for userID. The channel is closed by the returned
// cancel func or by Stop.
func (h *Hub) Register(userID string) (<-chan Event, func()) {
	c := &client{userID: userID, ch: make(chan Event, clientBuffer)}

	h.mu.Lock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return c.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			set, ok := h.clients[userID]
			if !ok {
				return
			}
			if _, ok := set[c]; !ok {
				return
			}
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, userID)
			}
			close(c.ch)
		})
	}
}

// Connected reports how many streams userID has open.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) dispatch(_ context.Context, msg pubsub.Message) {
	name, ok := eventNames[msg.Channel]
	if !ok {
		return
	}
	var p struct {
		RecipientUserID string `json:"recipient_user_id"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil || p.RecipientUserID == "" {
		h.logger.Warn("Dropping event without recipient", zap.String("channel", msg.Channel))
		return
	}

	ev := Event{Name: name, Data: json.RawMessage(msg.Payload)}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[p.RecipientUserID] {
		select {
		case c.ch <- ev:
		default:
			// 客户端太慢，丢弃
			h.logger.Warn("Client stream full, dropping event",
				zap.String("user_id", c.userID),
				zap.String("event", name),
			)
		}
	}
}
