package services

import "strings"

// languageHints maps a submission language tag to extra review focus points
// appended to the analysis prompt.
var languageHints = map[string]string{
	"go": `Go-specific checks:
- Unhandled errors and swallowed err values
- Missing defer/Close on files, bodies and rows
- Goroutine leaks and data races on shared state
- context.Context not propagated to blocking calls`,

	"python": `Python-specific checks:
- Bare except clauses and swallowed exceptions
- Mutable default arguments
- Resources opened without a with statement
- Injection through string-formatted SQL or shell commands`,

	"javascript": `JavaScript-specific checks:
- XSS through innerHTML or unescaped templates
- Unhandled Promise rejections and missing await
- Leaked event listeners and intervals
- Loose equality and unchecked null/undefined`,

	"typescript": `TypeScript-specific checks:
- Use of any and unchecked type assertions
- Unhandled Promise rejections and missing await
- Non-null assertions hiding undefined values
- Leaked event listeners and intervals`,

	"java": `Java-specific checks:
- Resources not closed with try-with-resources
- NullPointerException risks and Optional misuse
- Thread safety of shared mutable fields
- SQL built by string concatenation`,

	"csharp": `C#-specific checks:
- IDisposable objects not wrapped in using
- async void methods and blocking on .Result/.Wait()
- Null reference risks with nullable reference types disabled
- SQL built by string interpolation`,

	"ruby": `Ruby-specific checks:
- eval/send with user-controlled input
- N+1 queries in ActiveRecord associations
- Mass assignment without strong parameters
- Rescuing Exception instead of StandardError`,

	"php": `PHP-specific checks:
- SQL injection through unprepared queries
- XSS from unescaped output
- Missing input validation and sanitization
- Loose comparisons (==) on security-sensitive values`,

	"swift": `Swift-specific checks:
- Force unwrapping and force try
- Retain cycles in closures (missing weak/unowned)
- UI updates off the main thread
- Errors ignored with try?`,

	"kotlin": `Kotlin-specific checks:
- !! operator on nullable values
- Coroutines launched in GlobalScope or without cancellation
- Non-exhaustive when over sealed types
- Java interop platform types treated as non-null`,
}

// LanguageHint returns the review guideline block for a language tag, or an
// empty string when the tag has none.
func LanguageHint(language string) string {
	return languageHints[strings.ToLower(language)]
}
