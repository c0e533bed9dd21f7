// Package queue is a durable, Redis-backed delayed job queue with idempotent
// job ids, retries with exponential backoff, lease-based stalled job recovery
// and a dead-letter hook for jobs that exhaust their attempts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"duotime/pkg/metrics"
	"duotime/pkg/trace"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultPrefix = "duotime:queue"

// versionTTL bounds how long the version counter of an idle job id is kept.
// It only has to outlive any run that could still be in flight.
const versionTTL = 7 * 24 * time.Hour

// Options configure a Queue.
type Options struct {
	Prefix   string
	Attempts int
	Backoff  time.Duration
	Lease    time.Duration
}

// Queue is one named queue. It is safe for concurrent use; producers and
// workers in different processes share state through Redis only.
type Queue struct {
	name   string
	rdb    redis.UniversalClient
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func New(rdb redis.UniversalClient, name string, opts Options, logger *zap.Logger) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	return &Queue{name: name, rdb: rdb, opts: opts, logger: logger, now: time.Now}
}

// SetClock overrides the time source. Scores and deadlines are computed on the
// client so tests can move time without touching Redis.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

func (q *Queue) Name() string { return q.name }

func (q *Queue) key(part string) string  { return q.opts.Prefix + ":" + q.name + ":" + part }
func (q *Queue) jobPrefix() string       { return q.key("job") + ":" }
func (q *Queue) jobKey(id string) string { return q.jobPrefix() + id }

func (q *Queue) versionKey(id string) string { return q.key("ver") + ":" + id }

// Enqueue stores a job and returns its id. With opts.JobID set, an existing
// job that has not started yet is replaced (payload, options and delay). If
// the previous run is in flight, the replacement is queued behind it and the
// in-flight completion leaves it alone.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts JobOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", name, err)
	}

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = q.opts.Attempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = q.opts.Backoff
	}
	_, traceID := trace.Ensure(ctx)

	now := q.now()
	runAt := now
	if opts.Delay > 0 {
		runAt = now.Add(opts.Delay)
	}

	err = enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("delayed"), q.key("wait"), q.key("failed"), q.versionKey(id)},
		id, name, string(data), attempts, backoff.Milliseconds(), now.UnixMilli(), runAt.UnixMilli(), traceID,
		versionTTL.Milliseconds(),
	).Err()
	if err != nil {
		return "", fmt.Errorf("enqueue %s/%s: %w", q.name, name, err)
	}

	metrics.IncrementJobEnqueued(q.name, name)
	q.logger.Debug("Job enqueued",
		zap.String("queue", q.name),
		zap.String("job_id", id),
		zap.String("job_name", name),
		zap.Duration("delay", opts.Delay),
		zap.String("trace_id", traceID),
	)
	return id, nil
}

// Cancel removes a job that has not started yet. It reports whether anything
// was removed; running, failed and unknown jobs are left untouched.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	n, err := cancelScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("delayed"), q.key("wait")}, id,
	).Int()
	if err != nil {
		return false, fmt.Errorf("cancel %s/%s: %w", q.name, id, err)
	}
	return n == 1, nil
}

// Get loads a job that is still known to the queue. Completed jobs are
// removed, so they return ErrJobNotFound.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", q.name, id, err)
	}
	if len(fields) == 0 || fields["state"] == "" {
		return nil, ErrJobNotFound
	}

	j := &Job{
		ID:        id,
		Queue:     q.name,
		Name:      fields["name"],
		Data:      json.RawMessage(fields["data"]),
		State:     fields["state"],
		TraceID:   fields["trace_id"],
		LastError: fields["last_error"],
	}
	j.AttemptsMade, _ = strconv.Atoi(fields["attempts_made"])
	j.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	j.Version, _ = strconv.ParseInt(fields["version"], 10, 64)
	j.Backoff = msDuration(fields["backoff_ms"])
	j.CreatedAt = msTime(fields["created_at"])
	j.RunAt = msTime(fields["run_at"])
	return j, nil
}

// Counts reports how many jobs sit in each state.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	waiting := pipe.LLen(ctx, q.key("wait"))
	active := pipe.ZCard(ctx, q.key("active"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("counts %s: %w", q.name, err)
	}
	return Counts{
		Delayed: delayed.Val(),
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Failed:  failed.Val(),
	}, nil
}

// claim promotes due delayed jobs and takes the oldest waiting one under a
// lease. It returns nil when nothing is runnable.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	now := q.now()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.key("delayed"), q.key("wait"), q.key("active")},
		now.UnixMilli(), now.Add(q.opts.Lease).UnixMilli(), q.jobPrefix(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", q.name, err)
	}
	if len(res) < 10 {
		return nil, fmt.Errorf("claim %s: short reply (%d fields)", q.name, len(res))
	}

	j := &Job{
		ID:      res[0],
		Queue:   q.name,
		Name:    res[1],
		Data:    json.RawMessage(res[2]),
		State:   StateActive,
		TraceID: res[7],
	}
	j.AttemptsMade, _ = strconv.Atoi(res[3])
	j.MaxAttempts, _ = strconv.Atoi(res[4])
	j.Backoff = msDuration(res[5])
	j.Version, _ = strconv.ParseInt(res[6], 10, 64)
	j.CreatedAt = msTime(res[8])
	j.RunAt = msTime(res[9])
	return j, nil
}

// heartbeat pushes the lease deadline of a running job forward.
func (q *Queue) heartbeat(ctx context.Context, id string) error {
	return q.rdb.ZAddArgs(ctx, q.key("active"), redis.ZAddArgs{
		XX:      true,
		Members: []redis.Z{{Score: float64(q.now().Add(q.opts.Lease).UnixMilli()), Member: id}},
	}).Err()
}

// complete removes a finished job, unless it was replaced while running.
func (q *Queue) complete(ctx context.Context, j *Job) (bool, error) {
	n, err := completeScript.Run(ctx, q.rdb,
		[]string{q.jobKey(j.ID), q.key("active"), q.key("delayed"), q.key("wait")},
		j.ID, j.Version,
	).Int()
	if err != nil {
		return false, fmt.Errorf("complete %s/%s: %w", q.name, j.ID, err)
	}
	return n == 1, nil
}

// fail either schedules a retry (retry > 0) or moves the job to failed. The
// returned outcome is one of "retry", "failed" or "stale".
func (q *Queue) fail(ctx context.Context, j *Job, cause error, retry time.Duration) (string, error) {
	now := q.now()
	retryAt := ""
	if retry > 0 {
		retryAt = strconv.FormatInt(now.Add(retry).UnixMilli(), 10)
	}
	out, err := failScript.Run(ctx, q.rdb,
		[]string{q.jobKey(j.ID), q.key("active"), q.key("delayed"), q.key("failed")},
		j.ID, j.Version, now.UnixMilli(), retryAt, cause.Error(),
	).Text()
	if err != nil {
		return "", fmt.Errorf("fail %s/%s: %w", q.name, j.ID, err)
	}
	return out, nil
}

// RecoverStalled returns jobs whose lease ran out to the wait list. Jobs that
// already used all their attempts are moved to failed and returned so the
// caller can dead-letter them.
func (q *Queue) RecoverStalled(ctx context.Context) ([]*Job, error) {
	ids, err := recoverScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("wait"), q.key("failed")},
		q.now().UnixMilli(), q.jobPrefix(),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("recover %s: %w", q.name, err)
	}

	var dead []*Job
	for _, id := range ids {
		j, err := q.Get(ctx, id)
		if err != nil {
			q.logger.Warn("Failed to load stalled job",
				zap.String("queue", q.name),
				zap.String("job_id", id),
				zap.Error(err),
			)
			continue
		}
		dead = append(dead, j)
	}
	return dead, nil
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func msDuration(s string) time.Duration {
	ms, _ := strconv.ParseInt(s, 10, 64)
	return time.Duration(ms) * time.Millisecond
}
