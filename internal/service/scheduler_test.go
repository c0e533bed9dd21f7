package service

import (
	"context"
	"testing"
	"time"

	"duotime/contracts/jobs"
	"duotime/internal/model"
	"duotime/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_FutureReminderIsDelayed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	at := e.clock.Now().Add(90 * time.Minute)

	ok, err := e.scheduler.Schedule(ctx, &model.Reminder{ID: "r1", ScheduledAt: at})
	require.NoError(t, err)
	assert.True(t, ok)

	j, err := e.reminders.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, j.State)
	assert.Equal(t, jobs.JobSendReminder, j.Name)
	assert.Equal(t, at, j.RunAt)

	var p jobs.ReminderJob
	require.NoError(t, j.Decode(&p))
	assert.Equal(t, "r1", p.ReminderID)
}

func TestSchedule_PastDueIsNotEnqueued(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, at := range []time.Time{e.clock.Now(), e.clock.Now().Add(-time.Hour)} {
		ok, err := e.scheduler.Schedule(ctx, &model.Reminder{ID: "r1", ScheduledAt: at})
		require.NoError(t, err)
		assert.False(t, ok)
	}
	_, err := e.reminders.Get(ctx, "r1")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestReschedule_ReplacesPendingJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := &model.Reminder{ID: "r1", ScheduledAt: e.clock.Now().Add(time.Hour)}

	_, err := e.scheduler.Schedule(ctx, r)
	require.NoError(t, err)
	r.ScheduledAt = e.clock.Now().Add(3 * time.Hour)
	_, err = e.scheduler.Reschedule(ctx, r)
	require.NoError(t, err)

	counts, err := e.reminders.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)

	j, err := e.reminders.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, r.ScheduledAt, j.RunAt)
}

func TestReschedule_IntoThePastDropsPendingJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := &model.Reminder{ID: "r1", ScheduledAt: e.clock.Now().Add(time.Hour)}
	_, err := e.scheduler.Schedule(ctx, r)
	require.NoError(t, err)

	r.ScheduledAt = e.clock.Now().Add(-time.Minute)
	ok, err := e.scheduler.Reschedule(ctx, r)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.reminders.Get(ctx, "r1")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestCancel_UnknownReminderIsNoop(t *testing.T) {
	e := newEnv(t)
	assert.NoError(t, e.scheduler.Cancel(context.Background(), "missing"))
}
