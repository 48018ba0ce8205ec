// Package redact scrubs credentials and internal details from text before it
// is persisted as a task error message, written to logs, or returned over HTTP.
package redact

import "regexp"

const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedDataPlaceholder       = "[REDACTED_DATA]"
)

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// secretRules cover credentials that engine and driver errors tend to echo.
var secretRules = []rule{
	{regexp.MustCompile(`(?i)\b(postgres(?:ql)?|mysql|sqlite)://[^@\s]+@`), `${1}://` + RedactedCredentialPlaceholder + `@`},
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-.~+/=]{8,}`), `${1}` + RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)((?:api[_-]?key|access[_-]?token|token|secret|key|password)["']?\s*[:=]\s*["']?)[A-Za-z0-9_\-.~+/]{6,}`), `${1}` + RedactedKeyPlaceholder},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9]{16,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{20,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`data:[a-z]+/[a-z0-9.+-]+;base64,[A-Za-z0-9+/=]{16,}`), RedactedDataPlaceholder},
}

// internalRules additionally hide layout details that are fine in stored
// task errors but should not leave the process over HTTP.
var internalRules = []rule{
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), "[STACK_TRACE_REDACTED]"},
	{regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE)\b[^;]*?\b(FROM|INTO|SET)\b\s+\w+`), "[REDACTED_SQL]"},
	{regexp.MustCompile(`(/[\w.\-]+){2,}`), RedactedPathPlaceholder},
}

func apply(rules []rule, s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Secrets removes credentials from s and leaves everything else intact.
func Secrets(s string) string {
	if s == "" {
		return s
	}
	return apply(secretRules, s)
}

// String removes credentials, file paths, SQL fragments and stack traces.
func String(s string) string {
	if s == "" {
		return s
	}
	return apply(internalRules, apply(secretRules, s))
}

// Error redacts err.Error() with String. A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
