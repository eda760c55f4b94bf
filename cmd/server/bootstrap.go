package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/codereview-ai/backend/internal/config"
	"github.com/huangang/codereview-ai/backend/internal/models"
	"github.com/huangang/codereview-ai/backend/internal/services"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"gorm.io/gorm"
)

const shutdownTimeout = 30 * time.Second

// appServices holds all initialized services needed by the application.
type appServices struct {
	cfg       *config.Config
	db        *gorm.DB
	reviews   *services.ReviewService
	stats     *services.StatsService
	systemLog *services.SystemLogService
	hub       *services.SSEHub
	llm       *services.LLMClient
	executor  *services.ReviewExecutor
	taskQueue services.TaskQueue
	worker    *services.Worker
	scheduler *services.Scheduler
}

// bootstrap initializes database, services, queue and schedulers. When
// withWorker is set, the process also executes analysis jobs.
func bootstrap(cfg *config.Config, withWorker bool) (*appServices, error) {
	if err := models.InitDB(&cfg.Database, cfg.Server.Mode == "debug"); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := models.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	db := models.GetDB()

	svc := &appServices{
		cfg:       cfg,
		db:        db,
		reviews:   services.NewReviewService(db),
		stats:     services.NewStatsService(db),
		systemLog: services.NewSystemLogService(db),
		hub:       services.GetSSEHub(),
		llm:       services.NewLLMClient(cfg.LLM),
	}
	svc.executor = services.NewReviewExecutor(svc.reviews, svc.llm, svc.hub, svc.systemLog, cfg.Queue.MaxAttempts)

	// Task queue: asynq when Redis is enabled and reachable, in-process otherwise.
	svc.taskQueue = services.InitTaskQueue(cfg)
	if localQueue, ok := svc.taskQueue.(*services.LocalQueue); ok {
		localQueue.SetProcessor(svc.executor.Execute)
	} else if withWorker {
		svc.worker = services.InitWorker(&cfg.Redis, &cfg.Queue)
		if svc.worker != nil {
			svc.worker.SetProcessor(svc.executor.Execute)
			if err := svc.worker.Start(); err != nil {
				svc.shutdown()
				return nil, fmt.Errorf("start worker: %w", err)
			}
		}
	}

	svc.scheduler = services.NewScheduler(db, svc.reviews, svc.taskQueue, svc.systemLog, svc.hub, cfg)
	if err := svc.scheduler.Start(); err != nil {
		svc.shutdown()
		return nil, fmt.Errorf("start scheduler: %w", err)
	}

	logger.Info().
		Str("llm_provider", svc.llm.Provider()).
		Str("llm_model", cfg.LLM.Model).
		Bool("async_queue", svc.taskQueue.IsAsync()).
		Bool("worker", svc.worker != nil).
		Msg("services initialized")

	return svc, nil
}

// shutdown gracefully stops all services. Order matters: nothing may enqueue
// once the queue is closed.
func (s *appServices) shutdown() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		logger.Info().Msg("scheduler stopped")
	}
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("task queue close")
		}
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := bootstrap(cfg, cfg.Server.RunWorker)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	registerRoutes(r, svc)

	srv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown")
	}

	svc.shutdown()
	logger.Info().Msg("server stopped")
	return serveErr
}

func runWorker() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled {
		return errors.New("worker mode requires redis.enabled or REDIS_URL")
	}

	svc, err := bootstrap(cfg, true)
	if err != nil {
		return err
	}
	if svc.worker == nil {
		svc.shutdown()
		return errors.New("redis unreachable, worker not started")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("shutting down worker")

	svc.shutdown()
	return nil
}
