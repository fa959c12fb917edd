package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no backend is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	text := buildMockReply(req)
	var out strings.Builder
	for _, frag := range splitWords(text) {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		default:
		}
		out.WriteString(frag)
		if onDelta != nil {
			if err := onDelta(frag); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{Text: out.String()}, nil
}

func buildMockReply(req Request) string {
	base := req.Latest()
	if base == "" {
		base = "nothing yet"
	}
	turns := 0
	for _, m := range req.History {
		if m.Role == RoleUser {
			turns++
		}
	}
	if turns <= 1 {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("I heard you: %s (that's %d things you've asked me)", base, turns)
}

// splitWords cuts text into word fragments that keep their trailing space,
// so concatenating them restores the input exactly.
func splitWords(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' {
			out = append(out, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
