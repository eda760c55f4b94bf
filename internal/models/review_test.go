package models

import (
	"fmt"
	"testing"

	"github.com/huangang/codereview-ai/backend/internal/config"
)

func TestIsSupportedLanguage(t *testing.T) {
	tests := []struct {
		tag      string
		expected bool
	}{
		{"go", true},
		{"csharp", true},
		{"kotlin", true},
		{"Go", false},
		{"cobol", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			if got := IsSupportedLanguage(tt.tag); got != tt.expected {
				t.Errorf("IsSupportedLanguage(%q) = %v, expected %v", tt.tag, got, tt.expected)
			}
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	tests := []struct {
		status   string
		expected bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		if got := IsTerminalStatus(tt.status); got != tt.expected {
			t.Errorf("IsTerminalStatus(%q) = %v, expected %v", tt.status, got, tt.expected)
		}
	}
}

func TestSqliteDSN(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"codereview.db", "codereview.db?_foreign_keys=on"},
		{"file:x?mode=memory", "file:x?mode=memory&_foreign_keys=on"},
		{"file:x?_foreign_keys=on", "file:x?_foreign_keys=on"},
	}

	for _, tt := range tests {
		if got := sqliteDSN(tt.in); got != tt.expected {
			t.Errorf("sqliteDSN(%q) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}

func TestCreateAssignsIDAndCascadeDelete(t *testing.T) {
	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	review := Review{UserName: "alice", Filename: "main.go", Language: "go", OriginalCode: "package main"}
	if err := db.Create(&review).Error; err != nil {
		t.Fatalf("create review: %v", err)
	}
	if review.ID == "" {
		t.Fatal("expected BeforeCreate to assign an ID")
	}
	if review.Status != StatusPending {
		t.Errorf("Status = %q, expected %q", review.Status, StatusPending)
	}

	issue := Issue{ReviewID: review.ID, Severity: SeverityHigh, Type: "Security"}
	if err := db.Create(&issue).Error; err != nil {
		t.Fatalf("create issue: %v", err)
	}

	if err := db.Delete(&Review{}, "id = ?", review.ID).Error; err != nil {
		t.Fatalf("delete review: %v", err)
	}

	var count int64
	db.Model(&Issue{}).Where("review_id = ?", review.ID).Count(&count)
	if count != 0 {
		t.Errorf("expected issues to cascade, %d left", count)
	}
}
