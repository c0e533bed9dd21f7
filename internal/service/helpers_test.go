package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"duotime/contracts/jobs"
	"duotime/internal/encryption"
	"duotime/internal/model"
	"duotime/internal/repository"
	"duotime/internal/store"
	"duotime/pkg/pubsub"
	"duotime/pkg/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "service-test-secret-service-test-secret"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type env struct {
	raw           *store.Memory
	db            store.Store
	rdb           *redis.Client
	bus           *pubsub.RedisBus
	clock         *clock
	notifications *queue.Queue
	reminders     *queue.Queue
	users         *repository.UserRepository
	reminderRepo  *repository.ReminderRepository
	noteRepo      *repository.LoveNoteRepository
	notifRepo     *repository.NotificationRepository
	scheduler     *ReminderScheduler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	codec, err := encryption.NewCodec(testSecret)
	require.NoError(t, err)

	c := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	raw := store.NewMemory()
	raw.SetClock(c.Now)
	db := store.NewEncrypted(raw, codec, nil)

	nq := queue.New(rdb, jobs.QueueNotifications, queue.Options{}, zap.NewNop())
	nq.SetClock(c.Now)
	rq := queue.New(rdb, jobs.QueueReminders, queue.Options{}, zap.NewNop())
	rq.SetClock(c.Now)

	bus := pubsub.NewRedisBus(rdb, zap.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	sched := NewReminderScheduler(rq, zap.NewNop())
	sched.SetClock(c.Now)

	return &env{
		raw:           raw,
		db:            db,
		rdb:           rdb,
		bus:           bus,
		clock:         c,
		notifications: nq,
		reminders:     rq,
		users:         repository.NewUserRepository(db),
		reminderRepo:  repository.NewReminderRepository(db),
		noteRepo:      repository.NewLoveNoteRepository(db),
		notifRepo:     repository.NewNotificationRepository(db),
		scheduler:     sched,
	}
}

// couple creates two linked users and returns their ids.
func (e *env) couple(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	a := &model.User{ID: "u1", Email: "a@example.com", Name: "Alex"}
	b := &model.User{ID: "u2", Email: "b@example.com", Name: "Sam"}
	require.NoError(t, e.users.CreateUser(ctx, a))
	require.NoError(t, e.users.CreateUser(ctx, b))
	require.NoError(t, e.users.LinkPartners(ctx, a.ID, b.ID))
	return a.ID, b.ID
}

func ptr[T any](v T) *T { return &v }

// capture drains the notifications queue one job at a time.
type capture struct {
	w    *queue.Worker
	last *queue.Job
}

func newCapture(e *env) *capture {
	c := &capture{}
	c.w = queue.NewWorker(e.notifications, queue.WorkerOptions{}, zap.NewNop())
	c.w.Handle(jobs.JobSendNotification, func(_ context.Context, j *queue.Job) error {
		c.last = j
		return nil
	})
	return c
}

func (c *capture) next(ctx context.Context, v any) error {
	ok, err := c.w.ProcessNext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no job queued")
	}
	return c.last.Decode(v)
}
