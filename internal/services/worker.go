package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/codereview-ai/backend/internal/config"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"github.com/rs/zerolog"
)

// Worker consumes review tasks from Redis.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor JobProcessor
	running   bool
	mu        sync.Mutex
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig, queueCfg *config.QueueConfig) *Worker {
	if !cfg.Enabled {
		return nil
	}

	concurrency := queueCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	server := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				defaultQueueName: 1,
			},
			RetryDelayFunc: linearRetryDelay(queueCfg.RetryDelay),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn().
					Err(err).
					Str("task", task.Type()).
					Int("retried", retried).
					Int("max_retry", maxRetry).
					Msg("task returned error")
			}),
			Logger:   asynqLogger{log: logger.Component("asynq")},
			LogLevel: asynq.WarnLevel,
		},
	)

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

func (w *Worker) SetProcessor(processor JobProcessor) {
	w.processor = processor
}

func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeAnalyzeReview, w.handleAnalyzeTask)

	// Start returns once the server is processing, so Redis errors surface here.
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.running = true
	logger.Info().Msg("async worker started")
	return nil
}

// Stop waits for in-flight tasks up to asynq's shutdown timeout (8s).
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Info().Msg("async worker shutting down")
	w.server.Shutdown()
	w.running = false
	logger.Info().Msg("async worker stopped")
}

// handleAnalyzeTask maps an asynq delivery onto an explicit attempt number:
// the attempt the task was enqueued at plus asynq's retry count.
func (w *Worker) handleAnalyzeTask(ctx context.Context, t *asynq.Task) error {
	job, err := decodeReviewJob(ctx, t.Payload())
	if err != nil {
		logger.Error().Err(err).Msg("undecodable review task dropped")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if w.processor == nil {
		return fmt.Errorf("no processor set: %w", asynq.SkipRetry)
	}

	err = w.processor(ctx, job)
	switch {
	case err == nil:
		return nil
	case IsRetryable(err):
		return err
	default:
		// The row did not move; the recovery scheduler will redeliver it.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
}

func decodeReviewJob(ctx context.Context, payload []byte) (*ReviewJob, error) {
	var job ReviewJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode review task: %w", err)
	}
	if job.ReviewID == "" {
		return nil, fmt.Errorf("decode review task: missing review_id")
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	if retried, ok := asynq.GetRetryCount(ctx); ok {
		job.Attempt += retried
	}
	return &job, nil
}

func linearRetryDelay(base time.Duration) asynq.RetryDelayFunc {
	if base <= 0 {
		base = 10 * time.Second
	}
	return func(n int, err error, task *asynq.Task) time.Duration {
		if n < 1 {
			n = 1
		}
		return base * time.Duration(n)
	}
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

var (
	globalWorker *Worker
	workerOnce   sync.Once
)

func InitWorker(cfg *config.RedisConfig, queueCfg *config.QueueConfig) *Worker {
	workerOnce.Do(func() {
		globalWorker = NewWorker(cfg, queueCfg)
	})
	return globalWorker
}

func GetWorker() *Worker {
	return globalWorker
}
