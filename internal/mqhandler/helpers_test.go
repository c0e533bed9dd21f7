package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"duotime/contracts/jobs"
	"duotime/internal/encryption"
	"duotime/internal/model"
	"duotime/internal/repository"
	"duotime/internal/service"
	"duotime/internal/store"
	"duotime/pkg/pubsub"
	"duotime/pkg/queue"
	"duotime/pkg/util"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyStore fails notification inserts while failing is set. While blocking
// is set, inserts hang until their context is done; entered is signalled
// once the insert is waiting.
type flakyStore struct {
	store.Store
	failing  atomic.Bool
	blocking atomic.Bool
	entered  chan struct{}
}

func (s *flakyStore) Create(ctx context.Context, kind string, data store.Record) (store.Record, error) {
	if kind == store.KindNotification {
		if s.failing.Load() {
			return nil, errors.New("connection refused")
		}
		if s.blocking.Load() {
			s.entered <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}
	return s.Store.Create(ctx, kind, data)
}

type testClock struct{ ns atomic.Int64 }

func newTestClock(at time.Time) *testClock {
	c := &testClock{}
	c.ns.Store(at.UnixNano())
	return c
}

func (c *testClock) Now() time.Time          { return time.Unix(0, c.ns.Load()).UTC() }
func (c *testClock) Advance(d time.Duration) { c.ns.Add(int64(d)) }

type harness struct {
	clock         *testClock
	raw           *store.Memory
	db            *flakyStore
	rdb           *redis.Client
	bus           *pubsub.RedisBus
	notifications *queue.Queue
	reminders     *queue.Queue
	users         *repository.UserRepository
	reminderRepo  *repository.ReminderRepository
	notifRepo     *repository.NotificationRepository
	notifier      *service.Notifier
	scheduler     *service.ReminderScheduler
	notifHandler  *NotificationHandler
	worker        *queue.Worker
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	codec, err := encryption.NewCodec("handler-test-secret-handler-test-secret")
	require.NoError(t, err)
	tc := newTestClock(now)
	clock := tc.Now

	raw := store.NewMemory()
	raw.SetClock(clock)
	db := &flakyStore{Store: store.NewEncrypted(raw, codec, nil), entered: make(chan struct{}, 1)}

	bus := pubsub.NewRedisBus(rdb, zap.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	nq := queue.New(rdb, jobs.QueueNotifications, queue.Options{}, zap.NewNop())
	nq.SetClock(clock)
	rq := queue.New(rdb, jobs.QueueReminders, queue.Options{}, zap.NewNop())
	rq.SetClock(clock)
	sched := service.NewReminderScheduler(rq, zap.NewNop())
	sched.SetClock(clock)

	notifRepo := repository.NewNotificationRepository(db)
	h := &harness{
		clock:         tc,
		raw:           raw,
		db:            db,
		rdb:           rdb,
		bus:           bus,
		notifications: nq,
		reminders:     rq,
		users:         repository.NewUserRepository(db),
		reminderRepo:  repository.NewReminderRepository(db),
		notifRepo:     notifRepo,
		notifier:      service.NewNotifier(nq),
		scheduler:     sched,
	}
	h.notifHandler = NewNotificationHandler(notifRepo, bus, util.NewDeduper(rdb, time.Hour, nil), zap.NewNop())
	h.worker = queue.NewWorker(nq, queue.WorkerOptions{}, zap.NewNop())
	h.worker.Handle(jobs.JobSendNotification, h.notifHandler.Handle)
	return h
}

func (h *harness) couple(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.users.CreateUser(ctx, &model.User{ID: "u1", Email: "a@example.com", Name: "Alex"}))
	require.NoError(t, h.users.CreateUser(ctx, &model.User{ID: "u2", Email: "b@example.com", Name: "Sam"}))
	require.NoError(t, h.users.LinkPartners(ctx, "u1", "u2"))
}

// drain runs notification jobs until the queue is empty and returns how many
// ran.
func (h *harness) drain(t *testing.T) int {
	t.Helper()
	n := 0
	for {
		ran, err := h.worker.ProcessNext(context.Background())
		require.NoError(t, err)
		if !ran {
			return n
		}
		n++
	}
}

func (h *harness) notificationsFor(t *testing.T, user string) []*model.Notification {
	t.Helper()
	got, err := h.notifRepo.ListForUser(context.Background(), user, false, 100)
	require.NoError(t, err)
	return got
}

func jobFor(t *testing.T, id string, payload any) *queue.Job {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: id, Data: data}
}
