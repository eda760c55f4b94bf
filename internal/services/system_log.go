package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/huangang/codereview-ai/backend/internal/models"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"gorm.io/gorm"
)

const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// SystemLogService persists operational events. Writes are best effort: a
// failure is logged and swallowed so it can never block a transition.
type SystemLogService struct {
	db *gorm.DB
}

func NewSystemLogService(db *gorm.DB) *SystemLogService {
	return &SystemLogService{db: db}
}

// LogEntry describes one operational event.
type LogEntry struct {
	Level    string
	Module   string
	Action   string
	Message  string
	ReviewID string
	Attempt  int
	Extra    interface{}
}

func (s *SystemLogService) Record(ctx context.Context, entry LogEntry) {
	if s == nil || s.db == nil {
		return
	}

	var extraStr string
	if entry.Extra != nil {
		if b, err := json.Marshal(entry.Extra); err == nil {
			extraStr = string(b)
		}
	}

	row := &models.SystemLog{
		Level:     entry.Level,
		Module:    entry.Module,
		Action:    entry.Action,
		Message:   entry.Message,
		ReviewID:  entry.ReviewID,
		Attempt:   entry.Attempt,
		Extra:     extraStr,
		CreatedAt: time.Now(),
	}
	// A cancelled job context must not drop the record.
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(row).Error; err != nil {
		logger.Warn().Err(err).Str("module", entry.Module).Str("action", entry.Action).Msg("system log write failed")
	}
}

// CleanupOldLogs deletes logs older than retentionDays and returns how many
// rows were removed. A non-positive retention disables cleanup.
func (s *SystemLogService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ListForReview returns the operational history of one review, oldest first.
func (s *SystemLogService) ListForReview(ctx context.Context, reviewID string) ([]models.SystemLog, error) {
	var logs []models.SystemLog
	err := s.db.WithContext(ctx).
		Where("review_id = ?", reviewID).
		Order("created_at ASC").Order("id ASC").
		Find(&logs).Error
	return logs, err
}
