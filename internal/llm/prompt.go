package llm

import "strings"

// SystemPrompt steers every backend toward short spoken answers.
const SystemPrompt = "You are a desktop voice assistant. Reply in a few plain, conversational sentences suitable for reading aloud. Do not use markdown, lists or code blocks unless asked."

// BuildPrompt flattens a request for backends that take a single text input.
// A window holding only the current command is sent as-is.
func BuildPrompt(req Request) string {
	latest := req.Latest()
	if latest == "" {
		return ""
	}
	earlier := req.History
	if n := len(earlier); n > 0 && earlier[n-1].Role == RoleUser {
		earlier = earlier[:n-1]
	}
	if len(earlier) == 0 {
		return latest
	}

	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range earlier {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if m.Role == RoleAssistant {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	b.WriteString("User message:\n")
	b.WriteString(latest)
	return b.String()
}
