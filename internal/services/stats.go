package services

import (
	"context"
	"math"

	"github.com/huangang/codereview-ai/backend/internal/models"
	"gorm.io/gorm"
)

const commonIssueLimit = 5

// StatsService aggregates a submitter's review history.
type StatsService struct {
	db *gorm.DB
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{db: db}
}

type StatsRequest struct {
	UserName string `form:"user_name" binding:"required"`
}

type SeverityBreakdown struct {
	High   int64 `json:"high"`
	Medium int64 `json:"medium"`
	Low    int64 `json:"low"`
}

type IssueTypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type UserStats struct {
	TotalReviews       int64             `json:"total_reviews"`
	TotalIssues        int64             `json:"total_issues"`
	AvgIssuesPerReview float64           `json:"avg_issues_per_review"`
	IssuesBySeverity   SeverityBreakdown `json:"issues_by_severity"`
	CommonIssues       []IssueTypeCount  `json:"common_issues"`
}

func (s *StatsService) ForUser(ctx context.Context, userName string) (*UserStats, error) {
	db := s.db.WithContext(ctx)
	stats := &UserStats{CommonIssues: []IssueTypeCount{}}

	var totals struct {
		Reviews int64
		Issues  int64
		High    int64
		Medium  int64
		Low     int64
	}
	if err := db.Model(&models.Review{}).
		Select(`COUNT(*) AS reviews,
			COALESCE(SUM(total_issues), 0) AS issues,
			COALESCE(SUM(high_severity), 0) AS high,
			COALESCE(SUM(medium_severity), 0) AS medium,
			COALESCE(SUM(low_severity), 0) AS low`).
		Where("user_name = ?", userName).
		Scan(&totals).Error; err != nil {
		return nil, &PersistenceError{Op: "review totals", Err: err}
	}

	stats.TotalReviews = totals.Reviews
	stats.TotalIssues = totals.Issues
	stats.IssuesBySeverity = SeverityBreakdown{High: totals.High, Medium: totals.Medium, Low: totals.Low}
	if totals.Reviews > 0 {
		stats.AvgIssuesPerReview = math.Round(float64(totals.Issues)/float64(totals.Reviews)*10) / 10
	}

	if err := db.Table("code_issues").
		Select("code_issues.type AS type, COUNT(*) AS count").
		Joins("JOIN code_reviews ON code_reviews.id = code_issues.review_id").
		Where("code_reviews.user_name = ?", userName).
		Group("code_issues.type").
		Order("count DESC").Order("code_issues.type ASC").
		Limit(commonIssueLimit).
		Scan(&stats.CommonIssues).Error; err != nil {
		return nil, &PersistenceError{Op: "common issues", Err: err}
	}

	return stats, nil
}
