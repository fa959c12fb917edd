package llm

import "context"

// Tool describes one callable tool exposed to a backend.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolProvider lists and runs tools, typically hosted by an external process.
type ToolProvider interface {
	Tools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}
