package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"duotime/pkg/logger"
	"duotime/pkg/metrics"
	"duotime/pkg/trace"

	"go.uber.org/zap"
)

// Handler processes one job. Returning an error fails the attempt; wrap it
// with Permanent to skip the remaining attempts.
type Handler func(ctx context.Context, job *Job) error

// DeadLetterSink receives jobs that will never run again.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, job *Job, cause error) error
}

// WorkerOptions configure a Worker.
type WorkerOptions struct {
	Concurrency     int
	PollInterval    time.Duration
	RecoverInterval time.Duration
	// IsRetryable classifies handler errors. Nil treats every error except
	// Permanent ones as retryable.
	IsRetryable func(error) bool
	Sink        DeadLetterSink
}

// Worker pulls jobs from one queue and dispatches them by job name.
type Worker struct {
	q        *Queue
	opts     WorkerOptions
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers map[string]Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(q *Queue, opts WorkerOptions, logger *zap.Logger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.RecoverInterval <= 0 {
		opts.RecoverInterval = 30 * time.Second
	}
	return &Worker{
		q:        q,
		opts:     opts,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for jobs named name.
func (w *Worker) Handle(name string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = h
}

// Start launches the polling goroutines and the stalled-job recovery loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.opts.RecoverInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.Recover(ctx); err != nil {
					w.logger.Error("Stalled job recovery failed", zap.String("queue", w.q.name), zap.Error(err))
				}
			}
		}
	}()

	w.logger.Info("Worker started",
		zap.String("queue", w.q.name),
		zap.Int("concurrency", w.opts.Concurrency),
		zap.Duration("poll_interval", w.opts.PollInterval),
	)
}

// Stop cancels polling and the context of running jobs, then waits for them
// to return. An interrupted job is failed like any other attempt, so it is
// retried unless it was on its last one.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("Worker stopped", zap.String("queue", w.q.name))
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("Failed to process job", zap.String("queue", w.q.name), zap.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// Recover requeues jobs whose worker died and dead-letters the ones that
// have no attempts left.
func (w *Worker) Recover(ctx context.Context) error {
	dead, err := w.q.RecoverStalled(ctx)
	if err != nil {
		return err
	}
	for _, j := range dead {
		w.deadLetter(ctx, j, errors.New("lease expired"))
	}
	return nil
}

// ProcessNext claims and runs a single job. It reports false when the queue
// had nothing runnable.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	j, err := w.q.claim(ctx)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, nil
	}
	return true, w.run(ctx, j)
}

func (w *Worker) run(ctx context.Context, j *Job) error {
	start := time.Now()
	jobCtx := trace.WithContext(ctx, j.TraceID)
	log := logger.WithTrace(jobCtx, w.logger).With(
		zap.String("queue", j.Queue),
		zap.String("job_id", j.ID),
		zap.String("job_name", j.Name),
		zap.Int("attempt", j.AttemptsMade),
		zap.Int("max_attempts", j.MaxAttempts),
	)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, j.ID)
	err := w.invoke(jobCtx, j)
	stopHeartbeat()

	// The outcome is recorded even when Stop cancelled the handler, otherwise
	// the job sits in active until its lease runs out.
	ctx = context.WithoutCancel(ctx)
	jobCtx = context.WithoutCancel(jobCtx)

	if err == nil {
		removed, cerr := w.q.complete(ctx, j)
		if cerr != nil {
			return cerr
		}
		if !removed {
			log.Info("Job was replaced while running, keeping the replacement")
		}
		metrics.RecordJob(j.Queue, j.Name, "completed", time.Since(start))
		log.Debug("Job completed", zap.Duration("took", time.Since(start)))
		return nil
	}

	j.LastError = err.Error()
	if w.retryable(err) && j.AttemptsMade < j.MaxAttempts {
		delay := RetryDelay(j.Backoff, j.AttemptsMade)
		if _, ferr := w.q.fail(ctx, j, err, delay); ferr != nil {
			return ferr
		}
		metrics.RecordJob(j.Queue, j.Name, "retried", time.Since(start))
		log.Warn("Job failed, retry scheduled", zap.Duration("retry_in", delay), zap.Error(err))
		return nil
	}

	outcome, ferr := w.q.fail(ctx, j, err, 0)
	if ferr != nil {
		return ferr
	}
	if outcome == "failed" {
		w.deadLetter(jobCtx, j, err)
	}
	return nil
}

func (w *Worker) invoke(ctx context.Context, j *Job) (err error) {
	w.mu.RLock()
	h, ok := w.handlers[j.Name]
	w.mu.RUnlock()
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrNoHandler, j.Name))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, j)
}

func (w *Worker) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if w.opts.IsRetryable != nil {
		return w.opts.IsRetryable(err)
	}
	return true
}

func (w *Worker) heartbeat(ctx context.Context, id string) {
	every := w.q.opts.Lease / 3
	if every <= 0 {
		every = time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.q.heartbeat(ctx, id); err != nil && ctx.Err() == nil {
				w.logger.Warn("Job heartbeat failed", zap.String("job_id", id), zap.Error(err))
			}
		}
	}
}

// deadLetter never drops a job silently: it is logged with everything needed
// to replay it and handed to the sink.
func (w *Worker) deadLetter(ctx context.Context, j *Job, cause error) {
	metrics.RecordJob(j.Queue, j.Name, "dead_lettered", 0)
	logger.WithTrace(ctx, w.logger).Error("Job dead-lettered",
		zap.String("queue", j.Queue),
		zap.String("job_id", j.ID),
		zap.String("job_name", j.Name),
		zap.Int("attempts", j.AttemptsMade),
		zap.ByteString("payload", j.Data),
		zap.Error(cause),
	)
	if w.opts.Sink == nil {
		return
	}
	if err := w.opts.Sink.DeadLetter(ctx, j, cause); err != nil {
		w.logger.Error("Dead-letter sink failed",
			zap.String("queue", j.Queue),
			zap.String("job_id", j.ID),
			zap.Error(err),
		)
	}
}
