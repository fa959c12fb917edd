package policy

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// ToolDecision is the verdict for a model-requested tool call.
type ToolDecision struct {
	Blocked bool
	Reason  string
}

var blockedToolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/(?:\s|$)`),
	regexp.MustCompile(`(?i)\b(sudo\s+)?cat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json)`),
	regexp.MustCompile(`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`),
	regexp.MustCompile(`(?i)\b(mkfs|dd\s+if=|shutdown|reboot)\b`),
	regexp.MustCompile(`(?i)ai_virtual_assistant_settings\.json`),
}

// DecideToolCall refuses tool calls whose name or arguments look destructive
// or try to read credentials, including the assistant's own settings file.
func DecideToolCall(name string, args map[string]any) ToolDecision {
	text := strings.TrimSpace(name + " " + flattenArgs(args))
	for _, re := range blockedToolPatterns {
		if re.MatchString(text) {
			return ToolDecision{
				Blocked: true,
				Reason:  "tool call appears destructive or touches credentials",
			}
		}
	}
	return ToolDecision{}
}

func flattenArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := args[k].(type) {
		case string:
			parts = append(parts, v)
		default:
			raw, err := json.Marshal(v)
			if err == nil {
				parts = append(parts, string(raw))
			}
		}
	}
	return strings.Join(parts, " ")
}
