package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Review statuses. pending is the only initial state; completed and failed
// are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Issue severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// SupportedLanguages is the closed set of language tags a submission may carry.
var SupportedLanguages = []string{
	"javascript", "php", "python", "java", "csharp",
	"ruby", "go", "typescript", "swift", "kotlin",
}

// IsSupportedLanguage reports whether tag is in SupportedLanguages.
func IsSupportedLanguage(tag string) bool {
	for _, l := range SupportedLanguages {
		if l == tag {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further transitions can happen.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Review is one submitted source file and its analysis lifecycle.
// Counters and AIAnalysis stay zero/nil until the completion transition.
type Review struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	UserName         string    `gorm:"size:100;not null;index:idx_reviews_user_created,priority:1" json:"user_name"`
	Filename         string    `gorm:"size:255;not null" json:"filename"`
	Language         string    `gorm:"size:20;not null" json:"language"`
	OriginalCode     string    `gorm:"type:text;not null" json:"original_code"`
	AIAnalysis       *string   `gorm:"type:text" json:"ai_analysis"`
	TotalIssues      int       `gorm:"default:0" json:"total_issues"`
	HighSeverity     int       `gorm:"default:0" json:"high_severity"`
	MediumSeverity   int       `gorm:"default:0" json:"medium_severity"`
	LowSeverity      int       `gorm:"default:0" json:"low_severity"`
	SuggestionsCount int       `gorm:"default:0" json:"suggestions_count"`
	Status           string    `gorm:"size:20;not null;default:pending;index" json:"status"`
	Attempts         int       `gorm:"default:0" json:"attempts"`
	ErrorMessage     string    `gorm:"type:text" json:"-"`
	Issues           []Issue   `gorm:"foreignKey:ReviewID;constraint:OnDelete:CASCADE" json:"issues,omitempty"`
	CreatedAt        time.Time `gorm:"index:idx_reviews_user_created,priority:2" json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Review) TableName() string { return "code_reviews" }

func (r *Review) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	return nil
}

// Issue is one finding attached to a completed Review.
type Issue struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	ReviewID    string    `gorm:"size:36;not null;index:idx_issues_review_severity,priority:1" json:"-"`
	LineNumber  int       `gorm:"not null;default:0" json:"line_number"`
	Severity    string    `gorm:"size:10;not null;index:idx_issues_review_severity,priority:2" json:"severity"`
	Type        string    `gorm:"size:100;not null" json:"type"`
	Message     string    `gorm:"type:text" json:"message"`
	Suggestion  string    `gorm:"type:text" json:"suggestion"`
	CodeSnippet *string   `gorm:"type:text" json:"code_snippet"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Issue) TableName() string { return "code_issues" }

func (i *Issue) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
