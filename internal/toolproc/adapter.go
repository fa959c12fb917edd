package toolproc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/antoniostano/heygemini/internal/llm"
)

// Adapter answers commands by calling the best question-answering tool the
// server exposes. The whole answer arrives as one fragment.
type Adapter struct {
	tools llm.ToolProvider
}

func NewAdapter(tools llm.ToolProvider) *Adapter {
	return &Adapter{tools: tools}
}

func (a *Adapter) Name() string { return "mcp" }

func (a *Adapter) StreamResponse(ctx context.Context, req llm.Request, onDelta llm.DeltaHandler) (llm.Response, error) {
	prompt := llm.BuildPrompt(req)
	if prompt == "" {
		return llm.Response{}, errors.New("mcp: empty prompt")
	}
	tools, err := a.tools.Tools(ctx)
	if err != nil {
		return llm.Response{}, err
	}
	tool, ok := selectAnswerTool(tools)
	if !ok {
		return llm.Response{}, errors.New("mcp: server exposes no tools")
	}

	text, err := a.tools.CallTool(ctx, tool.Name, buildAnswerArgs(tool.InputSchema, prompt))
	if err != nil {
		if ctx.Err() != nil {
			return llm.Response{}, ctx.Err()
		}
		return llm.Response{}, fmt.Errorf("mcp: %w", err)
	}
	text = strings.TrimSpace(text)
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return llm.Response{}, err
		}
	}
	return llm.Response{Text: text}, nil
}

func selectAnswerTool(tools []llm.Tool) (llm.Tool, bool) {
	if len(tools) == 0 {
		return llm.Tool{}, false
	}
	best := tools[0]
	bestScore := scoreAnswerTool(best.Name)
	for _, t := range tools[1:] {
		if s := scoreAnswerTool(t.Name); s > bestScore {
			best, bestScore = t, s
		}
	}
	return best, true
}

func scoreAnswerTool(toolName string) int {
	name := strings.ToLower(strings.TrimSpace(toolName))
	switch {
	case name == "ask" || name == "chat":
		return 100
	case strings.Contains(name, "ask") || strings.Contains(name, "chat"):
		return 90
	case strings.Contains(name, "answer") || strings.Contains(name, "query"):
		return 80
	case strings.Contains(name, "generate") || strings.Contains(name, "complete"):
		return 70
	}
	return 0
}

var promptKeys = []string{"prompt", "query", "question", "message", "input", "text"}

// buildAnswerArgs places the prompt in the schema property that looks most
// like a prompt, falling back to the first required string property.
func buildAnswerArgs(schema map[string]any, prompt string) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	for _, k := range promptKeys {
		if _, ok := props[k]; ok {
			return map[string]any{k: prompt}
		}
	}

	var required []string
	switch r := schema["required"].(type) {
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	case []string:
		required = r
	}
	for _, k := range required {
		if p, ok := props[k].(map[string]any); ok && p["type"] == "string" {
			return map[string]any{k: prompt}
		}
	}

	names := make([]string, 0, len(props))
	for k := range props {
		if p, ok := props[k].(map[string]any); ok && p["type"] == "string" {
			names = append(names, k)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		return map[string]any{names[0]: prompt}
	}
	return map[string]any{"prompt": prompt}
}
