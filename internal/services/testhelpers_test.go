package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/huangang/codereview-ai/backend/internal/config"
	"github.com/huangang/codereview-ai/backend/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := models.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	}, false)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createTestReview(t *testing.T, reviews *ReviewService, userName string) *models.Review {
	t.Helper()
	review, err := reviews.Create(context.Background(), &CreateReviewRequest{
		UserName: userName,
		Filename: "handler.go",
		Language: "go",
		Code:     "package main\n\nfunc main() {}\n",
	})
	require.NoError(t, err)
	return review
}

type fakeResponse struct {
	text string
	err  error
}

// fakeAnalysisClient replays responses in order, repeating the last one.
type fakeAnalysisClient struct {
	mu        sync.Mutex
	calls     int
	responses []fakeResponse
	onCall    func(call int)
}

func (f *fakeAnalysisClient) Analyze(ctx context.Context, code, language, filename string) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	if len(f.responses) == 0 {
		return "", &TransportError{Provider: "fake", Err: errEmptyResponse}
	}
	idx := call - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx].text, f.responses[idx].err
}

func (f *fakeAnalysisClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const twoIssueAnalysis = "```json\n" + `{
  "summary": "Two problems found.",
  "issues": [
    {"line": 3, "severity": "High", "type": "Security", "message": "unchecked input", "suggestion": "validate it"},
    {"line": 1, "severity": "low", "type": "Style", "message": "naming", "suggestion": "rename", "code_snippet": "package main"}
  ]
}` + "\n```"

func transportFailure(status int) fakeResponse {
	return fakeResponse{err: &TransportError{Provider: "fake", StatusCode: status, Err: fmt.Errorf("status %d", status)}}
}
