package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loungehq/curator/internal/config"
)

// JobType names the work a queued job performs.
type JobType string

const (
	JobTypeCollection JobType = "collection"
	JobTypeReconcile  JobType = "reconcile"
	JobTypeRecover    JobType = "recover"
	JobTypeScore      JobType = "score"
	JobTypeAnalyze    JobType = "analyze"
	JobTypeDigest     JobType = "digest"
)

var (
	ErrQueueNotRunning = errors.New("job queue is not running")
	ErrQueueFull       = errors.New("job queue is full")
)

// Job is one unit of queued work. Delivery is at-least-once: handlers must be
// idempotent because a retried or duplicated job re-executes its side effects.
type Job struct {
	ID         uuid.UUID
	Type       JobType
	DedupKey   string
	RetryCount int
	MaxRetries int
	EnqueuedAt time.Time
}

// JobHandler executes one job under the queue's per-job timeout.
type JobHandler func(ctx context.Context) error

// DedupGuard suppresses duplicate execution of externally triggered jobs
// across instances. A nil guard disables dedup (single-instance mode).
type DedupGuard interface {
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// JobQueue is the bounded worker pool executing pipeline jobs with retry and
// per-job timeouts. Submission never blocks the caller.
type JobQueue struct {
	logger   *zap.Logger
	guard    DedupGuard
	handlers map[JobType]JobHandler

	workers    int
	jobTimeout time.Duration
	maxRetries int
	retryDelay time.Duration

	jobs      chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

func NewJobQueue(cfg *config.QueueConfig, guard DedupGuard, logger *zap.Logger) *JobQueue {
	jobTimeout, err := time.ParseDuration(cfg.JobTimeout)
	if err != nil || jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	retryDelay, err := time.ParseDuration(cfg.RetryDelay)
	if err != nil || retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}

	return &JobQueue{
		logger:     logger,
		guard:      guard,
		handlers:   make(map[JobType]JobHandler),
		workers:    cfg.Workers,
		jobTimeout: jobTimeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		jobs:       make(chan *Job, cfg.BufferSize),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (q *JobQueue) Register(jobType JobType, handler JobHandler) {
	q.handlers[jobType] = handler
}

// Start launches the worker pool.
func (q *JobQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = true
	q.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.logger.Info("Job queue started",
		zap.Int("workers", q.workers),
		zap.Duration("job_timeout", q.jobTimeout))

	return nil
}

// Stop drains the pool, waiting for in-flight jobs up to the context deadline.
func (q *JobQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.mu.Unlock()

	// The jobs channel is never closed: a submitter or retry timer that
	// passed the isRunning check while shutdown began must be able to
	// finish its send. Workers exit through the cancelled context instead.
	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Job queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.logger.Warn("Job queue stop timed out")
		return ctx.Err()
	}
}

// Submit enqueues a job and returns immediately. DedupKey, when set, collapses
// duplicate submissions across instances for the guard's TTL.
func (q *JobQueue) Submit(jobType JobType, dedupKey string) (*Job, error) {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil, ErrQueueNotRunning
	}
	q.mu.Unlock()

	if _, ok := q.handlers[jobType]; !ok {
		return nil, fmt.Errorf("no handler registered for job type %s", jobType)
	}

	job := &Job{
		ID:         uuid.New(),
		Type:       jobType,
		DedupKey:   dedupKey,
		MaxRetries: q.maxRetries,
		EnqueuedAt: time.Now(),
	}

	select {
	case q.jobs <- job:
		q.logger.Debug("Job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)))
		return job, nil
	default:
		return nil, ErrQueueFull
	}
}

func (q *JobQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.processJob(ctx, job, workerID)
		}
	}
}

func (q *JobQueue) processJob(ctx context.Context, job *Job, workerID int) {
	if job.DedupKey != "" && q.guard != nil {
		fresh, err := q.guard.MarkProcessed(ctx, job.DedupKey, q.jobTimeout)
		if err != nil {
			q.logger.Warn("Dedup guard unavailable, executing anyway",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
		} else if !fresh {
			q.logger.Info("Duplicate job skipped",
				zap.String("job_id", job.ID.String()),
				zap.String("dedup_key", job.DedupKey))
			return
		}
	}

	handler := q.handlers[job.Type]

	jobCtx, cancel := context.WithTimeout(ctx, q.jobTimeout)
	err := handler(jobCtx)
	cancel()

	if err == nil {
		q.logger.Info("Job completed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)))
		return
	}

	q.logger.Error("Job failed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Int("retry_count", job.RetryCount),
		zap.Error(err))

	if job.RetryCount >= job.MaxRetries {
		q.logger.Error("Job exhausted retries, giving up",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)))
		return
	}

	job.RetryCount++
	delay := q.retryDelay * time.Duration(job.RetryCount)
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		running := q.isRunning
		q.mu.Unlock()
		if !running {
			return
		}

		select {
		case q.jobs <- job:
			q.logger.Info("Job requeued for retry",
				zap.String("job_id", job.ID.String()),
				zap.Int("retry_count", job.RetryCount))
		default:
			q.logger.Warn("Failed to requeue job, queue full",
				zap.String("job_id", job.ID.String()))
		}
	})
}
