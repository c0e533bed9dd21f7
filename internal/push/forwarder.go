package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"duotime/contracts/events"
	"duotime/internal/repository"
	"duotime/internal/store"
	"duotime/pkg/circuitbreaker"
	"duotime/pkg/metrics"
	"duotime/pkg/pubsub"

	"go.uber.org/zap"
)

// Forwarder turns notification.created events into device pushes. It runs
// beside the job pipeline; nothing it does can fail a notification job.
type Forwarder struct {
	bus    pubsub.Bus
	users  *repository.UserRepository
	notifs *repository.NotificationRepository
	sender Sender
	logger *zap.Logger

	mu  sync.Mutex
	sub pubsub.Subscription
}

// NewForwarder builds a forwarder. notifs is used for the badge count and
// may be nil.
func NewForwarder(bus pubsub.Bus, users *repository.UserRepository, notifs *repository.NotificationRepository, sender Sender, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{bus: bus, users: users, notifs: notifs, sender: sender, logger: logger}
}

func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		return nil
	}
	sub, err := f.bus.Subscribe(ctx, pubsub.ChannelNotificationCreated, func(ctx context.Context, msg pubsub.Message) {
		var ev events.NotificationCreated
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			f.logger.Error("Invalid notification.created payload", zap.Error(err))
			return
		}
		_ = f.Forward(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pubsub.ChannelNotificationCreated, err)
	}
	f.sub = sub
	f.logger.Info("Push forwarder started")
	return nil
}

func (f *Forwarder) Stop() {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
		f.logger.Info("Push forwarder stopped")
	}
}

// Forward pushes one notification. The returned error is informational; it
// has already been logged and counted.
func (f *Forwarder) Forward(ctx context.Context, ev events.NotificationCreated) error {
	log := f.logger.With(
		zap.String("notification_id", ev.ID),
		zap.String("recipient_user_id", ev.RecipientUserID),
	)

	u, err := f.users.FindByID(ctx, ev.RecipientUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("Push recipient not found")
		} else {
			log.Error("Failed to load push recipient", zap.Error(err))
		}
		metrics.IncrementPush("error")
		return err
	}
	if u.PushToken == nil || *u.PushToken == "" {
		log.Info("Recipient has no push token, skipping push")
		metrics.IncrementPush("no_token")
		return ErrNoDeviceToken
	}

	data := map[string]any{
		"notification_id": ev.ID,
		"kind":            ev.Kind,
	}
	if ev.RelatedReminderID != nil {
		data["related_reminder_id"] = *ev.RelatedReminderID
	}
	for k, v := range ev.Metadata {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}

	msg := Message{
		To:       *u.PushToken,
		Title:    ev.Title,
		Body:     ev.Message,
		Data:     data,
		Sound:    "default",
		Priority: "high",
	}
	if f.notifs != nil {
		if n, err := f.notifs.CountUnread(ctx, ev.RecipientUserID); err == nil {
			badge := int(n)
			msg.Badge = &badge
		}
	}

	if err := f.sender.Send(ctx, msg); err != nil {
		status := "error"
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			status = "breaker_open"
		}
		metrics.IncrementPush(status)
		log.Warn("Push delivery failed", zap.Error(err))
		return err
	}
	metrics.IncrementPush("ok")
	log.Debug("Push delivered")
	return nil
}
