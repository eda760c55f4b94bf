package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/codereview-ai/backend/internal/config"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"golang.org/x/sync/semaphore"
)

const (
	TaskTypeAnalyzeReview = "review:analyze"
	defaultQueueName      = "default"
)

var ErrQueueClosed = errors.New("task queue closed")

// JobProcessor runs one delivered attempt.
type JobProcessor func(ctx context.Context, job *ReviewJob) error

// TaskQueue hands review jobs to executors with at-least-once delivery.
type TaskQueue interface {
	Enqueue(ctx context.Context, job *ReviewJob) error
	IsAsync() bool
	Close() error
}

var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue builds the process-wide queue: asynq when Redis is enabled
// and reachable, the in-process pool otherwise.
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		globalTaskQueue = NewTaskQueue(cfg)
	})
	return globalTaskQueue
}

func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

func NewTaskQueue(cfg *config.Config) TaskQueue {
	if cfg.Redis.Enabled {
		queue, err := NewAsyncQueue(&cfg.Redis, &cfg.Queue, cfg.LLM.Timeout)
		if err == nil {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("async task queue initialized")
			return queue
		}
		logger.Warn().Err(err).Msg("redis unavailable, falling back to local queue")
	} else {
		logger.Info().Int("concurrency", cfg.Queue.Concurrency).Msg("local task queue initialized (redis disabled)")
	}
	return NewLocalQueue(cfg.Queue.Concurrency, cfg.Queue.RetryDelay, cfg.Queue.MaxAttempts)
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue on asynq. Redelivery is asynq's retry:
// a task enqueued at attempt a may be retried maxAttempts-a times.
type AsyncQueue struct {
	client      *asynq.Client
	maxAttempts int
	taskTimeout time.Duration
}

func NewAsyncQueue(cfg *config.RedisConfig, queueCfg *config.QueueConfig, llmTimeout time.Duration) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{
		client:      client,
		maxAttempts: queueCfg.MaxAttempts,
		taskTimeout: llmTimeout + 30*time.Second,
	}, nil
}

func newAnalyzeTask(job *ReviewJob) (*asynq.Task, error) {
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAnalyzeReview, payload), nil
}

func (q *AsyncQueue) taskOptions(job *ReviewJob) []asynq.Option {
	maxRetry := q.maxAttempts - job.Attempt
	if maxRetry < 0 {
		maxRetry = 0
	}
	return []asynq.Option{
		asynq.Queue(defaultQueueName),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(q.taskTimeout),
	}
}

func (q *AsyncQueue) Enqueue(ctx context.Context, job *ReviewJob) error {
	task, err := newAnalyzeTask(job)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, task, q.taskOptions(job)...)
	if err != nil {
		return fmt.Errorf("enqueue review %s: %w", job.ReviewID, err)
	}

	logger.Debug().
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Str("review_id", job.ReviewID).
		Int("attempt", job.Attempt).
		Msg("task enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool { return true }

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// LocalQueue runs jobs in-process on a bounded pool. A *RetryableError
// result is redelivered as the next attempt after retryDelay. Jobs are lost
// on restart; the recovery scheduler re-enqueues them from the database.
type LocalQueue struct {
	sem         *semaphore.Weighted
	retryDelay  time.Duration
	maxAttempts int
	processor   JobProcessor

	stopCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalQueue(concurrency int, retryDelay time.Duration, maxAttempts int) *LocalQueue {
	if concurrency <= 0 {
		concurrency = 10
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalQueue{
		sem:         semaphore.NewWeighted(int64(concurrency)),
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
		stopCtx:     ctx,
		stop:        cancel,
	}
}

// SetProcessor sets the function that runs each delivery.
func (q *LocalQueue) SetProcessor(processor JobProcessor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = processor
}

func (q *LocalQueue) Enqueue(ctx context.Context, job *ReviewJob) error {
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	return q.schedule(&ReviewJob{ReviewID: job.ReviewID, Attempt: job.Attempt}, 0)
}

func (q *LocalQueue) schedule(job *ReviewJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.processor == nil {
		return errors.New("local queue has no processor")
	}
	q.wg.Add(1)
	go q.run(q.processor, job, delay)
	return nil
}

func (q *LocalQueue) run(processor JobProcessor, job *ReviewJob, delay time.Duration) {
	defer q.wg.Done()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-q.stopCtx.Done():
			timer.Stop()
			return
		}
	}

	if err := q.sem.Acquire(q.stopCtx, 1); err != nil {
		return
	}
	// Started jobs run to completion; Close waits for them.
	err := processor(context.Background(), job)
	q.sem.Release(1)

	log := logger.ForReview(job.ReviewID, job.Attempt)
	switch {
	case err == nil:
	case IsRetryable(err) && job.Attempt < q.maxAttempts:
		next := &ReviewJob{ReviewID: job.ReviewID, Attempt: job.Attempt + 1}
		if serr := q.schedule(next, q.retryDelay); serr != nil {
			log.Warn().Err(serr).Msg("redelivery not scheduled")
		}
	default:
		log.Error().Err(err).Msg("job finished with error")
	}
}

func (q *LocalQueue) IsAsync() bool { return false }

// Close drops delayed redeliveries and waits for running jobs.
func (q *LocalQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.stop()
	q.wg.Wait()
	return nil
}
