package policy

import "regexp"

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: keys before cards so long digit runs inside keys are not
// reported as cards, and cards before phones.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`\b(?:sk-(?:ant-)?[A-Za-z0-9_\-]{16,}|AIza[0-9A-Za-z_\-]{35}|xi-[A-Za-z0-9]{20,})\b`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks API keys and common high-risk PII patterns in spoken or
// typed text before it is persisted.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range redactionRules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
