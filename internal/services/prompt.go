package services

import "strings"

const analysisPromptTemplate = "You are an expert code reviewer. Analyze the following {{language}} code from file \"{{filename}}\" and provide a detailed code review.\n" +
	"\n" +
	"CODE:\n" +
	"```{{language}}\n" +
	"{{code}}\n" +
	"```\n" +
	`
Please analyze this code and respond ONLY with a valid JSON object in this exact format (no markdown, no backticks, just raw JSON):

{
  "summary": "Brief overall analysis of the code quality and main concerns",
  "issues": [
    {
      "line": <line_number>,
      "severity": "high|medium|low",
      "type": "Security|Performance|Code Quality|Best Practices|Maintainability",
      "message": "Clear description of the issue",
      "suggestion": "Specific recommendation to fix the issue",
      "code_snippet": "The problematic code snippet if applicable"
    }
  ]
}

Focus on:
1. Security vulnerabilities (SQL injection, XSS, authentication issues, etc.)
2. Performance problems (N+1 queries, inefficient algorithms, memory leaks)
3. Code quality issues (naming conventions, code duplication, complexity)
4. Best practices violations (error handling, validation, design patterns)
5. Maintainability concerns (documentation, testability, modularity)

Severity levels:
- HIGH: Critical security vulnerabilities, data loss risks, performance bottlenecks
- MEDIUM: Important issues that should be addressed but aren't critical
- LOW: Minor improvements, style issues, optional optimizations
{{language_hints}}
Provide at least 3-10 issues if found. Be thorough but practical.`

const pingPrompt = `Say "API connection successful"`

// BuildAnalysisPrompt renders the review instruction for one source file.
func BuildAnalysisPrompt(code, language, filename string) string {
	hints := LanguageHint(language)
	if hints != "" {
		hints = "\n" + hints + "\n"
	}

	// code goes in last so placeholders inside the submission stay literal.
	prompt := strings.ReplaceAll(analysisPromptTemplate, "{{language_hints}}", hints)
	prompt = strings.ReplaceAll(prompt, "{{language}}", language)
	prompt = strings.ReplaceAll(prompt, "{{filename}}", filename)
	return strings.Replace(prompt, "{{code}}", code, 1)
}
