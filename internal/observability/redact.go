package observability

import "regexp"

var (
	authorizationBearerPattern = regexp.MustCompile(
		`(?i)((?:"|')?authorization(?:"|')?\s*(?:=|:)\s*)(bearer\s+)([^"'\s,;]+)`,
	)
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|access[_-]?token|token|secret|password|credential)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
	bearerTokenPattern   = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	browserUseKeyPattern = regexp.MustCompile(`\bbu_[A-Za-z0-9\-_]{12,}`)
)

const redacted = "[REDACTED]"

// Redact masks bearer tokens, API keys and similar secrets in s.
func Redact(s string) string {
	if s == "" {
		return s
	}
	out := authorizationBearerPattern.ReplaceAllString(s, "${1}${2}"+redacted)
	out = sensitiveKeyValuePattern.ReplaceAllString(out, "${1}"+redacted+"${3}")
	out = bearerTokenPattern.ReplaceAllString(out, "${1}"+redacted)
	return browserUseKeyPattern.ReplaceAllString(out, redacted)
}
