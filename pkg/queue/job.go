package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Job states as stored in the job hash.
const (
	StateDelayed = "delayed"
	StateWaiting = "waiting"
	StateActive  = "active"
	StateFailed  = "failed"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNoHandler   = errors.New("no handler registered for job")
)

// JobOptions control a single enqueue.
type JobOptions struct {
	// Delay before the job becomes runnable. Zero or negative means now.
	Delay time.Duration
	// JobID makes the enqueue idempotent: a pending job with the same id is
	// replaced instead of duplicated. Empty means a generated id.
	JobID string
	// Attempts is the total number of runs, including the first. Zero means
	// DefaultAttempts.
	Attempts int
	// Backoff is the base of the exponential retry delay. Zero means
	// DefaultBackoff.
	Backoff time.Duration
}

// Job is a unit of work as seen by handlers and by Get.
type Job struct {
	ID           string
	Queue        string
	Name         string
	Data         json.RawMessage
	State        string
	AttemptsMade int
	MaxAttempts  int
	Backoff      time.Duration
	Version      int64
	TraceID      string
	CreatedAt    time.Time
	RunAt        time.Time
	LastError    string
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Data, v)
}

// Counts is the number of jobs per state.
type Counts struct {
	Delayed int64
	Waiting int64
	Active  int64
	Failed  int64
}

// RetryDelay is base * 2^(attempt-1) for the attempt that just failed.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	return base * time.Duration(1<<(attempt-1))
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the worker dead-letters the job
// right away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
