package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/huangang/codereview-ai/backend/internal/models"
	"github.com/huangang/codereview-ai/backend/internal/services"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"github.com/huangang/codereview-ai/backend/pkg/response"
)

const timestampLayout = "2006-01-02 15:04:05"

type ReviewHandler struct {
	reviews   *services.ReviewService
	queue     services.TaskQueue
	systemLog *services.SystemLogService
}

func NewReviewHandler(reviews *services.ReviewService, queue services.TaskQueue, systemLog *services.SystemLogService) *ReviewHandler {
	RegisterValidators()
	return &ReviewHandler{
		reviews:   reviews,
		queue:     queue,
		systemLog: systemLog,
	}
}

type issueResource struct {
	ID          string  `json:"id"`
	LineNumber  int     `json:"line_number"`
	Severity    string  `json:"severity"`
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Suggestion  string  `json:"suggestion"`
	CodeSnippet *string `json:"code_snippet"`
}

type reviewResource struct {
	ID               string          `json:"id"`
	UserName         string          `json:"user_name"`
	Filename         string          `json:"filename"`
	Language         string          `json:"language"`
	Status           string          `json:"status"`
	OriginalCode     string          `json:"original_code"`
	AIAnalysis       *string         `json:"ai_analysis"`
	TotalIssues      int             `json:"total_issues"`
	HighSeverity     int             `json:"high_severity"`
	MediumSeverity   int             `json:"medium_severity"`
	LowSeverity      int             `json:"low_severity"`
	SuggestionsCount int             `json:"suggestions_count"`
	Issues           []issueResource `json:"issues"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

func newReviewResource(r *models.Review) reviewResource {
	issues := make([]issueResource, 0, len(r.Issues))
	for _, is := range r.Issues {
		issues = append(issues, issueResource{
			ID:          is.ID,
			LineNumber:  is.LineNumber,
			Severity:    is.Severity,
			Type:        is.Type,
			Message:     is.Message,
			Suggestion:  is.Suggestion,
			CodeSnippet: is.CodeSnippet,
		})
	}
	return reviewResource{
		ID:               r.ID,
		UserName:         r.UserName,
		Filename:         r.Filename,
		Language:         r.Language,
		Status:           r.Status,
		OriginalCode:     r.OriginalCode,
		AIAnalysis:       r.AIAnalysis,
		TotalIssues:      r.TotalIssues,
		HighSeverity:     r.HighSeverity,
		MediumSeverity:   r.MediumSeverity,
		LowSeverity:      r.LowSeverity,
		SuggestionsCount: r.SuggestionsCount,
		Issues:           issues,
		CreatedAt:        r.CreatedAt.Format(timestampLayout),
		UpdatedAt:        r.UpdatedAt.Format(timestampLayout),
	}
}

// List returns a submitter's reviews, newest first
// GET /api/reviews
func (h *ReviewHandler) List(c *gin.Context) {
	var req services.ReviewListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.reviews.List(c.Request.Context(), &req)
	if err != nil {
		serviceError(c, err)
		return
	}

	items := make([]reviewResource, 0, len(resp.Items))
	for i := range resp.Items {
		items = append(items, newReviewResource(&resp.Items[i]))
	}
	response.Page(c, items, response.Meta{
		CurrentPage: resp.Page,
		LastPage:    resp.LastPage,
		PerPage:     resp.PageSize,
		Total:       resp.Total,
	})
}

// Create stores a submission and queues its first analysis attempt
// POST /api/reviews
func (h *ReviewHandler) Create(c *gin.Context) {
	var req services.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	review, err := h.reviews.Create(c.Request.Context(), &req)
	if err != nil {
		serviceError(c, err)
		return
	}

	// The review is durable at this point; a lost enqueue is picked up by
	// the recovery scheduler once the row goes stale.
	job := &services.ReviewJob{ReviewID: review.ID, Attempt: 1}
	if err := h.queue.Enqueue(context.WithoutCancel(c.Request.Context()), job); err != nil {
		logger.Warn().Err(err).Str("review_id", review.ID).Msg("enqueue failed, leaving review for recovery")
		h.systemLog.Record(c.Request.Context(), services.LogEntry{
			Level:    services.LogLevelWarning,
			Module:   "api",
			Action:   "enqueue_failed",
			Message:  err.Error(),
			ReviewID: review.ID,
			Attempt:  1,
		})
	}

	response.Created(c, "Code submitted successfully. Analysis in progress.", newReviewResource(review))
}

// Get returns one review with its issues
// GET /api/reviews/:id
func (h *ReviewHandler) Get(c *gin.Context) {
	id, ok := reviewID(c)
	if !ok {
		return
	}

	review, err := h.reviews.GetByID(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, newReviewResource(review))
}

// Delete removes a review and its issues
// DELETE /api/reviews/:id
func (h *ReviewHandler) Delete(c *gin.Context) {
	id, ok := reviewID(c)
	if !ok {
		return
	}

	if err := h.reviews.Delete(c.Request.Context(), id); err != nil {
		serviceError(c, err)
		return
	}

	response.Message(c, "Review deleted successfully.")
}

type systemLogResource struct {
	Level     string `json:"level"`
	Module    string `json:"module"`
	Action    string `json:"action"`
	Message   string `json:"message"`
	Attempt   int    `json:"attempt"`
	CreatedAt string `json:"created_at"`
}

// Logs returns the pipeline history of one review
// GET /api/reviews/:id/logs
func (h *ReviewHandler) Logs(c *gin.Context) {
	id, ok := reviewID(c)
	if !ok {
		return
	}

	if _, err := h.reviews.GetByID(c.Request.Context(), id); err != nil {
		serviceError(c, err)
		return
	}

	logs, err := h.systemLog.ListForReview(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}

	items := make([]systemLogResource, 0, len(logs))
	for _, l := range logs {
		items = append(items, systemLogResource{
			Level:     l.Level,
			Module:    l.Module,
			Action:    l.Action,
			Message:   l.Message,
			Attempt:   l.Attempt,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
		})
	}
	response.Success(c, items)
}

// reviewID reads the :id param. Anything that is not a UUID cannot name a
// review, so it is reported as not found.
func reviewID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.NotFound(c, "Review not found.")
		return "", false
	}
	return id, true
}

func bindError(c *gin.Context, err error) {
	if fields, ok := validationErrors(err); ok {
		response.Error(c, response.NewValidation(fields))
		return
	}
	response.BadRequest(c, "Malformed request body.")
}

func serviceError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrReviewNotFound) {
		response.NotFound(c, "Review not found.")
		return
	}
	logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	response.Error(c, err)
}
