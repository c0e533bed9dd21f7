package mqhandler

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

func ptr[T any](v T) *T { return &v }

func (h *harness) reminderHandler() *ReminderHandler {
	return NewReminderHandler(h.reminderRepo, h.notifier, h.scheduler, nil)
}

func (h *harness) reminder(t *testing.T, r *model.Reminder) *model.Reminder {
	t.Helper()
	if r.CreatorID == "" {
		r.CreatorID = "u1"
	}
	if r.TargetType == "" {
		r.TargetType = model.TargetForMe
	}
	require.NoError(t, h.reminderRepo.Create(context.Background(), r))
	return r
}

func fire(t *testing.T, h *harness, id string) error {
	t.Helper()
	return h.reminderHandler().Handle(context.Background(), jobFor(t, id, jobs.ReminderJob{ReminderID: id}))
}

func TestRecipients(t *testing.T) {
	tests := []struct {
		target    string
		recipient *string
		want      []string
	}{
		{model.TargetForMe, nil, []string{"u1"}},
		{model.TargetForMe, ptr("u2"), []string{"u1"}},
		{model.TargetForPartner, ptr("u2"), []string{"u2"}},
		{model.TargetForPartner, nil, nil},
		{model.TargetForBoth, ptr("u2"), []string{"u1", "u2"}},
		{model.TargetForBoth, nil, []string{"u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got := Recipients(&model.Reminder{CreatorID: "u1", TargetType: tt.target, RecipientID: tt.recipient})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReminderHandler_ForBothCreatesTwoNotifications(t *testing.T) {
	h := newHarness(t, t0)
	h.couple(t)
	r := h.reminder(t, &model.Reminder{
		ID: "r1", Title: "Anniversary", Description: "book the table",
		ScheduledAt: t0, TargetType: model.TargetForBoth, RecipientID: ptr("u2"),
	})

	require.NoError(t, fire(t, h, r.ID))
	assert.Equal(t, 2, h.drain(t), "one job per party")

	for _, user := range []string{"u1", "u2"} {
		got := h.notificationsFor(t, user)
		require.Len(t, got, 1, user)
		assert.Equal(t, jobs.KindReminder, got[0].Kind)
		assert.Equal(t, "Anniversary", got[0].Title)
		assert.Equal(t, "book the table", got[0].Message)
		require.NotNil(t, got[0].RelatedReminderID)
		assert.Equal(t, "r1", *got[0].RelatedReminderID)
	}
}

func TestReminderHandler_ReadsCurrentState(t *testing.T) {
	h := newHarness(t, t0)
	h.couple(t)
	r := h.reminder(t, &model.Reminder{ID: "r1", Title: "old title", ScheduledAt: t0})

	r.Title = "new title"
	r.TargetType = model.TargetForPartner
	r.RecipientID = ptr("u2")
	require.NoError(t, h.reminderRepo.Update(context.Background(), r))

	require.NoError(t, fire(t, h, r.ID))
	h.drain(t)

	assert.Empty(t, h.notificationsFor(t, "u1"))
	got := h.notificationsFor(t, "u2")
	require.Len(t, got, 1)
	assert.Equal(t, "new title", got[0].Title)
}

func TestReminderHandler_MissingReminderIsPermanent(t *testing.T) {
	h := newHarness(t, t0)
	err := fire(t, h, "gone")
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}

func TestReminderHandler_RedeliveryDoesNotDuplicate(t *testing.T) {
	h := newHarness(t, t0)
	h.couple(t)
	r := h.reminder(t, &model.Reminder{ID: "r1", Title: "x", ScheduledAt: t0})

	require.NoError(t, fire(t, h, r.ID))
	require.NoError(t, fire(t, h, r.ID))
	counts, err := h.notifications.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting, "pending job replaced")

	h.drain(t)
	require.NoError(t, fire(t, h, r.ID))
	h.drain(t)
	assert.Len(t, h.notificationsFor(t, "u1"), 1, "processed job id is skipped")
}

func TestReminderHandler_EditedBackToSameTimeFiresAgain(t *testing.T) {
	h := newHarness(t, t0)
	h.couple(t)
	ctx := context.Background()
	r := h.reminder(t, &model.Reminder{ID: "r1", Title: "call mom", ScheduledAt: t0})

	require.NoError(t, fire(t, h, r.ID))
	assert.Equal(t, 1, h.drain(t))

	h.clock.Advance(time.Minute)
	r.ScheduledAt = t0.Add(time.Hour)
	require.NoError(t, h.reminderRepo.Update(ctx, r))
	r.ScheduledAt = t0
	require.NoError(t, h.reminderRepo.Update(ctx, r))

	require.NoError(t, fire(t, h, r.ID))
	assert.Equal(t, 1, h.drain(t))
	assert.Len(t, h.notificationsFor(t, "u1"), 2)
}

func TestReminderHandler_MonthlySuccessor(t *testing.T) {
	now := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.couple(t)
	r := h.reminder(t, &model.Reminder{
		ID: "r1", Title: "Pay rent", ScheduledAt: now,
		IsRecurring: true, RecurringPattern: ptr(model.PatternMonthly),
	})

	require.NoError(t, fire(t, h, r.ID))

	fired, err := h.reminderRepo.FindByID(context.Background(), r.ID)
	require.NoError(t, err)
	require.NotNil(t, fired.SuccessorID)

	next, err := h.reminderRepo.FindByID(context.Background(), *fired.SuccessorID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC), next.ScheduledAt)
	assert.Equal(t, "Pay rent", next.Title)
	assert.True(t, next.IsRecurring)
	assert.Nil(t, next.SuccessorID)

	j, err := h.reminders.Get(context.Background(), next.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, j.State)
	assert.Equal(t, next.ScheduledAt, j.RunAt)

	// Redelivery of the same firing keeps a single successor.
	require.NoError(t, fire(t, h, r.ID))
	all, err := h.reminderRepo.ListByCreator(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, h.drain(t), "claiming the successor does not change the firing key")
}

func TestReminderHandler_UnknownPatternStopsRecurring(t *testing.T) {
	h := newHarness(t, t0)
	h.couple(t)
	r := h.reminder(t, &model.Reminder{
		ID: "r1", Title: "x", ScheduledAt: t0,
		IsRecurring: true, RecurringPattern: ptr("fortnightly"),
	})

	require.NoError(t, fire(t, h, r.ID))

	all, err := h.reminderRepo.ListByCreator(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, h.drain(t), "the reminder itself still fires")
}
