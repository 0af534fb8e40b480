package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of background work. Attempt counts completed failed runs;
// the queue bumps it before every retry.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler executes a job. A non-nil return schedules a retry until the job
// runs out of attempts.
type Handler func(context.Context, Job) error

// QueueConfig tunes the worker pool.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = c.Workers * 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Queue is an in-process job dispatcher: a buffered channel fanned out to a
// fixed worker pool, with delayed re-enqueue on failure. It deliberately has
// no persistence; callers that need durable state keep their own job rows
// and reconcile on restart.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig

	pending chan Job

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue builds a stopped queue; call Start before Enqueue.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		pending: make(chan Job, cfg.BufferSize),
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.started = true

	for i := 1; i <= q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.run(i)
	}
	q.cfg.Logger.Info("queue started",
		zap.String("queue", q.name),
		zap.Int("workers", q.cfg.Workers),
		zap.Int("buffer", q.cfg.BufferSize))
}

// Stop cancels the workers and blocks until they exit. Jobs still in the
// buffer are abandoned; persistent callers pick them up again on boot.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
	q.cfg.Logger.Info("queue stopped",
		zap.String("queue", q.name),
		zap.Int("abandoned", len(q.pending)))
}

// Enqueue hands a job to the pool, blocking while the buffer is full.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	started, ctx := q.started, q.ctx
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s: not started", q.name)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case q.pending <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue %s: stopped: %w", q.name, ctx.Err())
	}
}

// Len reports how many jobs sit in the buffer right now.
func (q *Queue) Len() int {
	return len(q.pending)
}

func (q *Queue) run(worker int) {
	defer q.wg.Done()
	log := q.cfg.Logger.With(zap.String("queue", q.name), zap.Int("worker", worker))

	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.pending:
			if err := q.handler(q.ctx, job); err != nil {
				q.retry(log, job, err)
			}
		}
	}
}

// retry bumps the attempt counter and re-enqueues after the configured delay,
// or drops the job once it is out of attempts.
func (q *Queue) retry(log *zap.Logger, job Job, err error) {
	job.Attempt++
	if job.Attempt > q.cfg.MaxRetries {
		log.Error("job dropped after final attempt",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempts", job.Attempt),
			zap.Error(err))
		return
	}

	log.Warn("job failed, scheduling retry",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", q.cfg.RetryDelay),
		zap.Error(err))

	time.AfterFunc(q.cfg.RetryDelay, func() {
		select {
		case <-q.ctx.Done():
			return
		default:
		}
		if err := q.Enqueue(job); err != nil {
			log.Error("requeue failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	})
}
