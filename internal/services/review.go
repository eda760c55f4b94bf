package services

import (
	"context"
	"errors"
	"time"

	"github.com/huangang/codereview-ai/backend/internal/models"
	"gorm.io/gorm"
)

const (
	DefaultReviewPageSize = 15
	maxReviewPageSize     = 100
)

// ReviewService is the durable store for reviews and their issues. Every
// pipeline write is fenced on (status, attempts) so that only the attempt
// that owns the row can move it.
type ReviewService struct {
	db *gorm.DB
}

func NewReviewService(db *gorm.DB) *ReviewService {
	return &ReviewService{db: db}
}

type CreateReviewRequest struct {
	UserName string `json:"user_name" binding:"required,max=100"`
	Filename string `json:"filename" binding:"required,max=255,filename"`
	Language string `json:"language" binding:"required,supported_language"`
	Code     string `json:"code" binding:"required,min=10,max=50000"`
}

type ReviewListRequest struct {
	UserName string `form:"user_name" binding:"required"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

type ReviewListResponse struct {
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	LastPage int             `json:"last_page"`
	Items    []models.Review `json:"items"`
}

// Create stores a new review in pending status.
func (s *ReviewService) Create(ctx context.Context, req *CreateReviewRequest) (*models.Review, error) {
	review := &models.Review{
		UserName:     req.UserName,
		Filename:     req.Filename,
		Language:     req.Language,
		OriginalCode: req.Code,
		Status:       models.StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(review).Error; err != nil {
		return nil, &PersistenceError{Op: "create review", Err: err}
	}
	return review, nil
}

// GetByID returns a review with its issues ordered by line.
func (s *ReviewService) GetByID(ctx context.Context, id string) (*models.Review, error) {
	var review models.Review
	err := s.db.WithContext(ctx).
		Preload("Issues", orderIssues).
		Where("id = ?", id).
		First(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReviewNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load review", Err: err}
	}
	return &review, nil
}

// List returns one page of a submitter's reviews, newest first.
func (s *ReviewService) List(ctx context.Context, req *ReviewListRequest) (*ReviewListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = DefaultReviewPageSize
	}
	if req.PageSize > maxReviewPageSize {
		req.PageSize = maxReviewPageSize
	}

	var reviews []models.Review
	var total int64

	if err := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("user_name = ?", req.UserName).
		Count(&total).Error; err != nil {
		return nil, &PersistenceError{Op: "count reviews", Err: err}
	}

	offset := (req.Page - 1) * req.PageSize
	if err := s.db.WithContext(ctx).
		Where("user_name = ?", req.UserName).
		Preload("Issues", orderIssues).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(req.PageSize).
		Find(&reviews).Error; err != nil {
		return nil, &PersistenceError{Op: "list reviews", Err: err}
	}

	lastPage := int((total + int64(req.PageSize) - 1) / int64(req.PageSize))
	if lastPage < 1 {
		lastPage = 1
	}

	return &ReviewListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		LastPage: lastPage,
		Items:    reviews,
	}, nil
}

// Delete removes a review and all of its issues. It does not coordinate
// with an in-flight attempt; that attempt's fenced writes will match no row.
func (s *ReviewService) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("review_id = ?", id).Delete(&models.Issue{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Review{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrReviewNotFound
		}
		return nil
	})
	if err == nil || errors.Is(err, ErrReviewNotFound) {
		return err
	}
	return &PersistenceError{Op: "delete review", Err: err}
}

// Claim moves the review into processing for the given attempt. Attempt 1
// takes a pending review; attempt n takes a review left in processing by
// attempt n-1. Anything else returns ErrNotClaimable.
func (s *ReviewService) Claim(ctx context.Context, id string, attempt int) (*models.Review, error) {
	from := models.StatusProcessing
	if attempt <= 1 {
		attempt = 1
		from = models.StatusPending
	}

	res := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("id = ? AND status = ? AND attempts = ?", id, from, attempt-1).
		Updates(map[string]interface{}{
			"status":     models.StatusProcessing,
			"attempts":   attempt,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, &PersistenceError{Op: "claim review", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotClaimable
	}

	var review models.Review
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&review).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewGone
		}
		return nil, &PersistenceError{Op: "load claimed review", Err: err}
	}
	return &review, nil
}

// RecordAttemptError keeps the last failure on the row while the review
// stays in processing awaiting the next attempt.
func (s *ReviewService) RecordAttemptError(ctx context.Context, id string, attempt int, cause error) error {
	res := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("id = ? AND status = ? AND attempts = ?", id, models.StatusProcessing, attempt).
		Updates(map[string]interface{}{
			"error_message": cause.Error(),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return &PersistenceError{Op: "record attempt error", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrReviewGone
	}
	return nil
}

// Complete stores the analysis and its issues in one transaction together
// with the transition to completed.
func (s *ReviewService) Complete(ctx context.Context, id string, attempt int, result *AnalysisResult) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Review{}).
			Where("id = ? AND status = ? AND attempts = ?", id, models.StatusProcessing, attempt).
			Updates(map[string]interface{}{
				"ai_analysis":       result.Summary,
				"total_issues":      result.TotalIssues,
				"high_severity":     result.HighSeverity,
				"medium_severity":   result.MediumSeverity,
				"low_severity":      result.LowSeverity,
				"suggestions_count": len(result.Issues),
				"status":            models.StatusCompleted,
				"error_message":     "",
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrReviewGone
		}

		if len(result.Issues) == 0 {
			return nil
		}
		issues := make([]models.Issue, 0, len(result.Issues))
		for _, is := range result.Issues {
			issues = append(issues, models.Issue{
				ReviewID:    id,
				LineNumber:  is.Line,
				Severity:    is.Severity,
				Type:        is.Type,
				Message:     is.Message,
				Suggestion:  is.Suggestion,
				CodeSnippet: is.CodeSnippet,
			})
		}
		return tx.CreateInBatches(issues, 100).Error
	})
	if err == nil || errors.Is(err, ErrReviewGone) {
		return err
	}
	return &PersistenceError{Op: "complete review", Err: err}
}

// Fail moves the review to failed with a user-facing message. The technical
// cause is kept in error_message and never shown.
func (s *ReviewService) Fail(ctx context.Context, id string, attempt int, message string, cause error) error {
	updates := map[string]interface{}{
		"status":      models.StatusFailed,
		"ai_analysis": message,
		"updated_at":  time.Now(),
	}
	if cause != nil {
		updates["error_message"] = cause.Error()
	}

	res := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("id = ? AND status = ? AND attempts = ?", id, models.StatusProcessing, attempt).
		Updates(updates)
	if res.Error != nil {
		return &PersistenceError{Op: "fail review", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrReviewGone
	}
	return nil
}

// ListStale returns reviews in status that have not been touched since
// before. Only the columns recovery needs are loaded.
func (s *ReviewService) ListStale(ctx context.Context, status string, before time.Time, limit int) ([]models.Review, error) {
	var reviews []models.Review
	err := s.db.WithContext(ctx).
		Select("id", "status", "attempts", "created_at", "updated_at").
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&reviews).Error
	if err != nil {
		return nil, &PersistenceError{Op: "list stale reviews", Err: err}
	}
	return reviews, nil
}

// Touch refreshes updated_at if the review is still in the given state.
// It reports whether the row matched.
func (s *ReviewService) Touch(ctx context.Context, id, status string, attempts int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("id = ? AND status = ? AND attempts = ?", id, status, attempts).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return false, &PersistenceError{Op: "touch review", Err: res.Error}
	}
	return res.RowsAffected > 0, nil
}

// CountByStatus returns the number of reviews per status.
func (s *ReviewService) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Review{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, &PersistenceError{Op: "count by status", Err: err}
	}

	counts := map[string]int64{
		models.StatusPending:    0,
		models.StatusProcessing: 0,
		models.StatusCompleted:  0,
		models.StatusFailed:     0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func orderIssues(db *gorm.DB) *gorm.DB {
	return db.Order("line_number ASC").Order("created_at ASC")
}
