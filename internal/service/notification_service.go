package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"duotime/contracts/events"
	"duotime/internal/model"
	"duotime/internal/repository"
	"duotime/pkg/pubsub"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// NotificationService serves the read side of notifications: listing, the
// cached unread badge count, mark-as-read and delete.
type NotificationService struct {
	repo   *repository.NotificationRepository
	bus    pubsub.Bus
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu  sync.Mutex
	sub pubsub.Subscription
}

// NewNotificationService builds the service. rdb may be nil, which disables
// the unread count cache.
func NewNotificationService(repo *repository.NotificationRepository, bus pubsub.Bus, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, bus: bus, rdb: rdb, ttl: ttl, logger: logger}
}

func unreadKey(userID string) string {
	return "duotime:unread:" + userID
}

// Start subscribes to every notification channel and drops the cached
// unread count of the affected user. Notifications are created by the
// worker process, so this is how the API learns about them.
func (s *NotificationService) Start(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	sub, err := s.bus.PSubscribe(ctx, pubsub.PatternNotifications, func(ctx context.Context, msg pubsub.Message) {
		var p struct {
			RecipientUserID string `json:"recipient_user_id"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil || p.RecipientUserID == "" {
			s.logger.Warn("Ignoring notification event without recipient",
				zap.String("channel", msg.Channel),
				zap.Error(err),
			)
			return
		}
		s.invalidate(ctx, p.RecipientUserID)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pubsub.PatternNotifications, err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *NotificationService) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListForUser(ctx, userID, unreadOnly, limit)
}

// UnreadCount reads through the Redis cache. Cache errors fall back to the
// database.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if s.rdb != nil {
		v, err := s.rdb.Get(ctx, unreadKey(userID)).Result()
		switch {
		case err == nil:
			if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				return n, nil
			}
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("Unread count cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, unreadKey(userID), n, s.ttl).Err(); err != nil {
			s.logger.Warn("Unread count cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return n, nil
}

// MarkRead marks one notification of the user as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (*model.Notification, error) {
	n, err := s.repo.MarkRead(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	s.publish(ctx, pubsub.ChannelNotificationRead, events.NotificationRead{
		RecipientUserID: userID,
		IDs:             []string{id},
	})
	return n, nil
}

// MarkAllRead returns how many notifications changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	count, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, userID)
	if count > 0 {
		s.publish(ctx, pubsub.ChannelNotificationRead, events.NotificationRead{
			RecipientUserID: userID,
			All:             true,
		})
	}
	return count, nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.publish(ctx, pubsub.ChannelNotificationDeleted, events.NotificationDeleted{
		ID:              id,
		RecipientUserID: userID,
	})
	return nil
}

func (s *NotificationService) invalidate(ctx context.Context, userID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, unreadKey(userID)).Err(); err != nil {
		s.logger.Warn("Unread count cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// publish is best effort; the database change already happened.
func (s *NotificationService) publish(ctx context.Context, channel string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to marshal event", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, channel, string(body)); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("channel", channel), zap.Error(err))
	}
}
