package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/codereview-ai/backend/internal/config"
	"github.com/huangang/codereview-ai/backend/internal/models"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	recoveryLockName  = "review_recovery"
	cleanupLockName   = "log_cleanup"
	recoveryBatchSize = 100
	recoveryTimeout   = 50 * time.Second
)

var errAttemptLost = errors.New("attempt produced no result before the stale deadline")

// Scheduler redelivers reviews whose job was lost and prunes old system
// logs. Each run is taken by one instance through a scheduler_locks row.
type Scheduler struct {
	db          *gorm.DB
	reviews     *ReviewService
	queue       TaskQueue
	systemLog   *SystemLogService
	events      *SSEHub
	cron        *cron.Cron
	instanceID  string
	staleAfter  time.Duration
	maxAttempts int
	retention   int
	now         func() time.Time
}

func NewScheduler(db *gorm.DB, reviews *ReviewService, queue TaskQueue, systemLog *SystemLogService, events *SSEHub, cfg *config.Config) *Scheduler {
	host, _ := os.Hostname()
	return &Scheduler{
		db:          db,
		reviews:     reviews,
		queue:       queue,
		systemLog:   systemLog,
		events:      events,
		instanceID:  fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		staleAfter:  cfg.Queue.StaleAfter,
		maxAttempts: cfg.Queue.MaxAttempts,
		retention:   cfg.Log.RetentionDays,
		now:         time.Now,
	}
}

func (s *Scheduler) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), recoveryTimeout)
		defer cancel()
		s.RecoverStale(ctx)
	}); err != nil {
		return fmt.Errorf("schedule recovery: %w", err)
	}

	if _, err := s.cron.AddFunc("0 3 * * *", func() {
		s.CleanupLogs(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule log cleanup: %w", err)
	}

	s.cron.Start()
	logger.Info().Str("instance", s.instanceID).Dur("stale_after", s.staleAfter).Msg("scheduler started")
	return nil
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RecoveryReport summarises one recovery run.
type RecoveryReport struct {
	Skipped     bool
	Requeued    int
	Failed      int
	EnqueueErrs int
}

// RecoverStale re-enqueues pending reviews whose first delivery was lost and
// moves stale processing reviews on to their next attempt, failing those
// whose budget is spent.
func (s *Scheduler) RecoverStale(ctx context.Context) RecoveryReport {
	var report RecoveryReport
	log := logger.Component("scheduler")
	now := s.now()

	if !s.tryLock(ctx, recoveryLockName, now.Truncate(time.Minute).Format(time.RFC3339), time.Minute) {
		report.Skipped = true
		return report
	}

	cutoff := now.Add(-s.staleAfter)

	pending, err := s.reviews.ListStale(ctx, models.StatusPending, cutoff, recoveryBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("list stale pending reviews")
	}
	for _, r := range pending {
		s.requeue(ctx, &r, 1, &report)
	}

	processing, err := s.reviews.ListStale(ctx, models.StatusProcessing, cutoff, recoveryBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("list stale processing reviews")
	}
	for _, r := range processing {
		if r.Attempts >= s.maxAttempts {
			s.failExhausted(ctx, &r, &report)
			continue
		}
		s.requeue(ctx, &r, r.Attempts+1, &report)
	}

	if report.Requeued > 0 || report.Failed > 0 || report.EnqueueErrs > 0 {
		log.Info().
			Int("requeued", report.Requeued).
			Int("failed", report.Failed).
			Int("enqueue_errors", report.EnqueueErrs).
			Msg("stale reviews recovered")
	}
	return report
}

func (s *Scheduler) requeue(ctx context.Context, r *models.Review, attempt int, report *RecoveryReport) {
	log := logger.ForReview(r.ID, attempt)

	// Touch first so the next run does not pick the row up again while this
	// delivery is still queued.
	ok, err := s.reviews.Touch(ctx, r.ID, r.Status, r.Attempts)
	if err != nil || !ok {
		return
	}

	if err := s.queue.Enqueue(ctx, &ReviewJob{ReviewID: r.ID, Attempt: attempt}); err != nil {
		report.EnqueueErrs++
		log.Warn().Err(err).Msg("recovery enqueue failed")
		return
	}
	report.Requeued++
	log.Info().Str("status", r.Status).Msg("stale review re-enqueued")
	s.systemLog.Record(ctx, LogEntry{
		Level:    LogLevelWarning,
		Module:   "scheduler",
		Action:   "requeue",
		Message:  fmt.Sprintf("stale %s review re-enqueued", r.Status),
		ReviewID: r.ID,
		Attempt:  attempt,
	})
}

func (s *Scheduler) failExhausted(ctx context.Context, r *models.Review, report *RecoveryReport) {
	log := logger.ForReview(r.ID, r.Attempts)
	if err := s.reviews.Fail(ctx, r.ID, r.Attempts, TerminalFailureMessage, errAttemptLost); err != nil {
		if !errors.Is(err, ErrReviewGone) {
			log.Error().Err(err).Msg("failing exhausted review")
		}
		return
	}
	report.Failed++
	log.Error().Msg("stale review failed: attempt budget spent")
	s.systemLog.Record(ctx, LogEntry{
		Level:    LogLevelError,
		Module:   "scheduler",
		Action:   "failed",
		Message:  errAttemptLost.Error(),
		ReviewID: r.ID,
		Attempt:  r.Attempts,
	})
	if s.events != nil {
		s.events.Publish(ReviewEvent{ID: r.ID, UserName: r.UserName, Status: models.StatusFailed, Attempt: r.Attempts})
	}
}

// CleanupLogs removes system logs past retention and expired locks.
func (s *Scheduler) CleanupLogs(ctx context.Context) {
	log := logger.Component("scheduler")
	now := s.now()
	if !s.tryLock(ctx, cleanupLockName, now.Format("2006-01-02"), 24*time.Hour) {
		return
	}

	deleted, err := s.systemLog.CleanupOldLogs(ctx, s.retention)
	if err != nil {
		log.Error().Err(err).Msg("system log cleanup failed")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Int("retention_days", s.retention).Msg("old system logs removed")
	}

	if err := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.SchedulerLock{}).Error; err != nil {
		log.Warn().Err(err).Msg("expired scheduler lock cleanup failed")
	}
}

// tryLock takes the (name, key) run. The unique index turns a concurrent
// insert from another instance into an error.
func (s *Scheduler) tryLock(ctx context.Context, name, key string, ttl time.Duration) bool {
	now := s.now()
	lock := &models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  s.instanceID,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(lock).Error; err != nil {
		logger.Debug().Err(err).Str("lock", name).Str("key", key).Msg("scheduler run taken elsewhere")
		return false
	}
	return true
}
