package services

import (
	"regexp"
	"strings"

	"github.com/huangang/codereview-ai/backend/internal/models"
	"github.com/tidwall/gjson"
)

const defaultIssueType = "General"

var (
	leadingFenceRegex  = regexp.MustCompile("^```[A-Za-z]*\\s*")
	trailingFenceRegex = regexp.MustCompile("\\s*```$")
)

// AnalysisIssue is one normalised finding.
type AnalysisIssue struct {
	Line        int
	Severity    string
	Type        string
	Message     string
	Suggestion  string
	CodeSnippet *string
}

// AnalysisResult is the validated form of a provider response. The counters
// are always recomputed from Issues.
type AnalysisResult struct {
	Summary        string
	Issues         []AnalysisIssue
	TotalIssues    int
	HighSeverity   int
	MediumSeverity int
	LowSeverity    int
}

// ParseAnalysis turns raw provider text into an AnalysisResult. It is pure:
// the same input always yields the same result.
func ParseAnalysis(raw string) (*AnalysisResult, error) {
	text := stripCodeFence(raw)

	if text == "" || !gjson.Valid(text) {
		return nil, &ParseError{Kind: MalformedJSON, Detail: "response is not valid JSON"}
	}

	doc := gjson.Parse(text)
	if !doc.IsObject() {
		return nil, &ParseError{Kind: InvalidStructure, Detail: "response is not a JSON object"}
	}

	summary := doc.Get("summary")
	if !summary.Exists() || summary.Type == gjson.Null {
		return nil, &ParseError{Kind: InvalidStructure, Detail: "missing summary"}
	}
	issuesField := doc.Get("issues")
	if !issuesField.Exists() || issuesField.Type == gjson.Null {
		return nil, &ParseError{Kind: InvalidStructure, Detail: "missing issues"}
	}

	result := &AnalysisResult{
		Summary: summary.String(),
		Issues:  []AnalysisIssue{},
	}

	if issuesField.IsArray() {
		for _, entry := range issuesField.Array() {
			result.Issues = append(result.Issues, normalizeIssue(entry))
		}
	}

	result.TotalIssues = len(result.Issues)
	for _, issue := range result.Issues {
		switch issue.Severity {
		case models.SeverityHigh:
			result.HighSeverity++
		case models.SeverityMedium:
			result.MediumSeverity++
		default:
			result.LowSeverity++
		}
	}

	return result, nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	text = leadingFenceRegex.ReplaceAllString(text, "")
	text = trailingFenceRegex.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func normalizeIssue(entry gjson.Result) AnalysisIssue {
	issue := AnalysisIssue{
		Severity: models.SeverityLow,
		Type:     defaultIssueType,
	}
	if !entry.IsObject() {
		return issue
	}

	if line := entry.Get("line"); line.Type == gjson.Number || line.Type == gjson.String {
		if n := line.Int(); n > 0 {
			issue.Line = int(n)
		}
	}

	issue.Severity = normalizeSeverity(entry.Get("severity").String())

	if t := strings.TrimSpace(entry.Get("type").String()); t != "" {
		issue.Type = t
	}

	issue.Message = entry.Get("message").String()
	issue.Suggestion = entry.Get("suggestion").String()

	if snippet := entry.Get("code_snippet"); snippet.Exists() && snippet.Type != gjson.Null && snippet.String() != "" {
		s := snippet.String()
		issue.CodeSnippet = &s
	}

	return issue
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case models.SeverityHigh:
		return models.SeverityHigh
	case models.SeverityMedium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
