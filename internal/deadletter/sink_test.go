package deadletter

import (
	"context"
	"errors"
	"testing"

	"duotime/internal/model"
	"duotime/pkg/mq"
	"duotime/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Insert(ctx context.Context, j *model.DeadLetterJob) error {
	return m.Called(ctx, j).Error(0)
}

func (m *mockStore) List(ctx context.Context, status string, limit int) ([]*model.DeadLetterJob, error) {
	args := m.Called(ctx, status, limit)
	rows, _ := args.Get(0).([]*model.DeadLetterJob)
	return rows, args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, id int64) (*model.DeadLetterJob, error) {
	args := m.Called(ctx, id)
	row, _ := args.Get(0).(*model.DeadLetterJob)
	return row, args.Error(1)
}

func (m *mockStore) MarkReplayed(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishToDLQ(ctx context.Context, jobQueue string, payload []byte, h mq.DeadLetterHeaders) error {
	return m.Called(ctx, jobQueue, payload, h).Error(0)
}

func TestSink_StoreFailureStillPublishes(t *testing.T) {
	dbErr := errors.New("connection reset")
	st := &mockStore{}
	st.On("Insert", mock.Anything, mock.MatchedBy(func(j *model.DeadLetterJob) bool {
		return j.JobID == "j9" && j.Error == "boom"
	})).Return(dbErr).Once()

	pub := &mockPublisher{}
	pub.On("PublishToDLQ", mock.Anything, "reminders", []byte(`{}`), mq.DeadLetterHeaders{
		JobID:    "j9",
		JobName:  "send-reminder",
		Attempts: 1,
		Error:    "boom",
	}).Return(nil).Once()

	sink := NewSink(st, pub, nil)
	job := &queue.Job{ID: "j9", Queue: "reminders", Name: "send-reminder", Data: []byte(`{}`), AttemptsMade: 1}
	err := sink.DeadLetter(context.Background(), job, errors.New("boom"))

	assert.ErrorIs(t, err, dbErr)
	st.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestService_ReplayAlreadyReplayed(t *testing.T) {
	st := &mockStore{}
	st.On("Get", mock.Anything, int64(4)).Return(&model.DeadLetterJob{ID: 4, Status: model.DeadLetterReplayed}, nil)

	svc := NewService(st, nil)
	_, err := svc.Replay(context.Background(), 4)

	assert.ErrorIs(t, err, ErrAlreadyReplayed)
	st.AssertNotCalled(t, "MarkReplayed", mock.Anything, mock.Anything)
}
