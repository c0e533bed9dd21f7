package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"duotime/contracts/events"
	"duotime/contracts/jobs"
	"duotime/internal/model"
	"duotime/internal/repository"
	"duotime/internal/store"
	"duotime/pkg/logger"
	"duotime/pkg/pubsub"
	"duotime/pkg/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deduper remembers which job ids already had their side effect.
// *util.Deduper satisfies it.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
}

var notificationNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("duotime/notification"))

// notificationID is the row id a job writes. A redelivered job hits the
// primary key instead of inserting a second row.
func notificationID(jobID string) string {
	return uuid.NewSHA1(notificationNamespace, []byte(jobID)).String()
}

// NotificationHandler runs send-notification jobs: store the notification,
// then announce it on notification.created. Push delivery and real-time
// clients hang off that event.
type NotificationHandler struct {
	repo   *repository.NotificationRepository
	bus    pubsub.Bus
	dedup  Deduper
	logger *zap.Logger
}

// NewNotificationHandler builds the handler. dedup only guards the
// notification.created publish; it may be nil, in which case a redelivered
// job announces the stored row again.
func NewNotificationHandler(repo *repository.NotificationRepository, bus pubsub.Bus, dedup Deduper, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{repo: repo, bus: bus, dedup: dedup, logger: logger}
}

func (h *NotificationHandler) Handle(ctx context.Context, j *queue.Job) error {
	log := logger.WithTrace(ctx, h.logger).With(zap.String("job_id", j.ID))

	var p jobs.NotificationJob
	if err := j.Decode(&p); err != nil {
		log.Error("Failed to unmarshal notification job", zap.Error(err))
		return queue.Permanent(err)
	}
	if p.RecipientUserID == "" {
		return queue.Permanent(errors.New("notification job without recipient_user_id"))
	}

	n := &model.Notification{
		ID:                notificationID(j.ID),
		Kind:              p.Kind,
		Title:             p.Title,
		Message:           p.Body,
		RecipientUserID:   p.RecipientUserID,
		RelatedReminderID: p.RelatedReminderID,
		Metadata:          p.Metadata,
	}
	err := h.repo.Create(ctx, n)
	switch {
	case errors.Is(err, store.ErrConflict):
		// 上一次投递已经写入
		stored, ferr := h.repo.FindByID(ctx, n.ID)
		if ferr != nil {
			return fmt.Errorf("load stored notification: %w", ferr)
		}
		n = stored
		log.Info("Notification already stored for job", zap.String("notification_id", n.ID))
	case err != nil:
		log.Error("Failed to insert notification",
			zap.String("recipient_user_id", p.RecipientUserID),
			zap.Error(err),
		)
		return fmt.Errorf("persist notification: %w", err)
	default:
		log.Info("Notification created",
			zap.String("notification_id", n.ID),
			zap.String("kind", n.Kind),
			zap.String("recipient_user_id", n.RecipientUserID),
		)
	}

	// 先落库再占用标记
	if h.dedup != nil && !h.dedup.AcquireOnce(ctx, jobs.JobSendNotification, j.ID) {
		return nil
	}
	h.publishCreated(ctx, log, n)
	return nil
}

// publishCreated never fails the job; the notification is already stored.
func (h *NotificationHandler) publishCreated(ctx context.Context, log *zap.Logger, n *model.Notification) {
	body, err := json.Marshal(events.NotificationCreated{
		ID:                n.ID,
		Kind:              n.Kind,
		Title:             n.Title,
		Message:           n.Message,
		IsRead:            false,
		SentAt:            n.SentAt,
		RecipientUserID:   n.RecipientUserID,
		RelatedReminderID: n.RelatedReminderID,
		Metadata:          n.Metadata,
	})
	if err != nil {
		log.Error("Failed to marshal notification.created", zap.Error(err))
		return
	}
	if err := h.bus.Publish(ctx, pubsub.ChannelNotificationCreated, string(body)); err != nil {
		log.Warn("Failed to publish notification.created",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
	}
}
