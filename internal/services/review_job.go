package services

import (
	"context"
	"errors"
	"time"

	"github.com/huangang/codereview-ai/backend/internal/models"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxAttempts = 3

	// TerminalFailureMessage is what a failed review shows instead of the
	// technical cause.
	TerminalFailureMessage = "Analysis failed after multiple retries. Please try again."

	// persistTimeout bounds the final writes when the job context has
	// already expired.
	persistTimeout = 15 * time.Second
)

// ReviewJob is one delivery of the analysis pipeline for a review.
type ReviewJob struct {
	ReviewID string `json:"review_id"`
	Attempt  int    `json:"attempt"`
}

// ReviewExecutor runs one attempt of a review's analysis.
type ReviewExecutor struct {
	reviews     *ReviewService
	client      AnalysisClient
	events      *SSEHub
	systemLog   *SystemLogService
	maxAttempts int
}

func NewReviewExecutor(reviews *ReviewService, client AnalysisClient, events *SSEHub, systemLog *SystemLogService, maxAttempts int) *ReviewExecutor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &ReviewExecutor{
		reviews:     reviews,
		client:      client,
		events:      events,
		systemLog:   systemLog,
		maxAttempts: maxAttempts,
	}
}

func (e *ReviewExecutor) MaxAttempts() int { return e.maxAttempts }

// Execute runs attempt job.Attempt. It returns nil when the attempt reached a
// terminal state or was a no-op, *RetryableError when the queue should deliver
// the next attempt, and any other error when the row could not be claimed
// (recovery picks those up).
func (e *ReviewExecutor) Execute(ctx context.Context, job *ReviewJob) error {
	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}
	log := logger.ForReview(job.ReviewID, attempt)

	review, err := e.reviews.Claim(ctx, job.ReviewID, attempt)
	if errors.Is(err, ErrNotClaimable) || errors.Is(err, ErrReviewGone) {
		log.Info().Msg("delivery skipped: review not claimable for this attempt")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("claim failed")
		return err
	}

	log.Info().
		Str("filename", review.Filename).
		Str("language", review.Language).
		Int("max_attempts", e.maxAttempts).
		Msg("analysis started")
	e.record(ctx, LogLevelInfo, "claim", "analysis started", review.ID, attempt, nil)
	e.publish(review, models.StatusProcessing, attempt, nil)

	start := time.Now()
	raw, err := e.client.Analyze(ctx, review.OriginalCode, review.Language, review.Filename)
	if err != nil {
		return e.handleFailure(ctx, log, review, attempt, err)
	}

	result, err := ParseAnalysis(raw)
	if err != nil {
		log.Warn().Err(err).Str("response_preview", preview(raw, 500)).Msg("analysis response rejected")
		return e.handleFailure(ctx, log, review, attempt, err)
	}

	pctx, cancel := persistContext(ctx)
	defer cancel()
	err = e.reviews.Complete(pctx, review.ID, attempt, result)
	if errors.Is(err, ErrReviewGone) {
		log.Info().Msg("completion dropped: review deleted or superseded")
		return nil
	}
	if err != nil {
		return e.handleFailure(ctx, log, review, attempt, err)
	}

	log.Info().
		Int("total_issues", result.TotalIssues).
		Int("high", result.HighSeverity).
		Int("medium", result.MediumSeverity).
		Int("low", result.LowSeverity).
		Dur("elapsed", time.Since(start)).
		Msg("analysis completed")
	e.record(ctx, LogLevelInfo, "complete", "analysis completed", review.ID, attempt, map[string]int{
		"total_issues": result.TotalIssues,
	})
	total := result.TotalIssues
	e.publish(review, models.StatusCompleted, attempt, &total)
	return nil
}

func (e *ReviewExecutor) handleFailure(ctx context.Context, log zerolog.Logger, review *models.Review, attempt int, cause error) error {
	kind := errorKind(cause)
	pctx, cancel := persistContext(ctx)
	defer cancel()

	if attempt < e.maxAttempts {
		log.Warn().Err(cause).Str("kind", kind).Msg("attempt failed, will retry")
		if err := e.reviews.RecordAttemptError(pctx, review.ID, attempt, cause); err != nil {
			if errors.Is(err, ErrReviewGone) {
				log.Info().Msg("retry dropped: review deleted or superseded")
				return nil
			}
			log.Error().Err(err).Msg("recording attempt error failed")
		}
		e.record(ctx, LogLevelWarning, "attempt_failed", cause.Error(), review.ID, attempt, map[string]string{"kind": kind})
		return &RetryableError{Attempt: attempt, Err: cause}
	}

	err := e.reviews.Fail(pctx, review.ID, attempt, TerminalFailureMessage, cause)
	if errors.Is(err, ErrReviewGone) {
		log.Info().Msg("failure dropped: review deleted or superseded")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("marking review failed did not persist")
		return err
	}

	log.Error().Err(cause).Str("kind", kind).Msg("analysis failed permanently")
	e.record(ctx, LogLevelError, "failed", cause.Error(), review.ID, attempt, map[string]string{"kind": kind})
	e.publish(review, models.StatusFailed, attempt, nil)
	return nil
}

func (e *ReviewExecutor) record(ctx context.Context, level, action, message, reviewID string, attempt int, extra interface{}) {
	e.systemLog.Record(ctx, LogEntry{
		Level:    level,
		Module:   "executor",
		Action:   action,
		Message:  message,
		ReviewID: reviewID,
		Attempt:  attempt,
		Extra:    extra,
	})
}

func (e *ReviewExecutor) publish(review *models.Review, status string, attempt int, totalIssues *int) {
	if e.events == nil {
		return
	}
	e.events.Publish(ReviewEvent{
		ID:          review.ID,
		UserName:    review.UserName,
		Status:      status,
		Attempt:     attempt,
		TotalIssues: totalIssues,
	})
}

// persistContext keeps the caller's values but not its cancellation, so a
// job whose deadline fired during the provider call can still record it.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
