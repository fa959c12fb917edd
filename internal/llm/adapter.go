// Package llm streams assistant replies from language-model backends.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn as seen by a backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request carries the recent conversation window. The last message is the
// command being answered.
type Request struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	History        []Message `json:"history"`
}

// Latest returns the newest user message text.
func (r Request) Latest() string {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Role == RoleUser {
			return strings.TrimSpace(r.History[i].Content)
		}
	}
	return ""
}

// Response is the final reply after streaming.
type Response struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments in order.
type DeltaHandler func(delta string) error

// Adapter produces a streamed reply for a conversation window.
type Adapter interface {
	StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode  string
	Model string

	GoogleAPIKey    string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string

	HTTPURL string
	CLIPath string

	// Tools is offered to backends that support tool calling.
	Tools      ToolProvider
	ToolRounds int
}

// NewAdapter builds the adapter for cfg.Mode. The "mcp" mode is assembled by
// the caller since it needs a running tool process.
func NewAdapter(ctx context.Context, cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(ctx, cfg), nil
	case "gemini":
		return NewGeminiAdapter(ctx, cfg.GoogleAPIKey, cfg.Model)
	case "openai":
		return NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.Tools, cfg.ToolRounds)
	case "anthropic":
		return NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.Model)
	case "cli":
		if strings.TrimSpace(cfg.CLIPath) == "" {
			return nil, errors.New("llm CLI path is required for cli mode")
		}
		return NewCLIAdapter(cfg.CLIPath), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

// newAutoAdapter prefers hosted backends with credentials, in the order
// Gemini, OpenAI, Anthropic, and keeps the deterministic mock as last resort.
func newAutoAdapter(ctx context.Context, cfg Config) Adapter {
	var chain []Adapter
	if strings.TrimSpace(cfg.GoogleAPIKey) != "" {
		if a, err := NewGeminiAdapter(ctx, cfg.GoogleAPIKey, cfg.Model); err == nil {
			chain = append(chain, a)
		}
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		if a, err := NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.Tools, cfg.ToolRounds); err == nil {
			chain = append(chain, a)
		}
	}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		if a, err := NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.Model); err == nil {
			chain = append(chain, a)
		}
	}
	if httpURL := strings.TrimSpace(cfg.HTTPURL); httpURL != "" {
		chain = append(chain, NewHTTPAdapter(httpURL))
	}
	if cliPath := strings.TrimSpace(cfg.CLIPath); cliPath != "" {
		if _, err := exec.LookPath(cliPath); err == nil {
			chain = append(chain, NewCLIAdapter(cliPath))
		}
	}

	switch len(chain) {
	case 0:
		return NewMockAdapter()
	case 1:
		return chain[0]
	}
	out := chain[len(chain)-1]
	for i := len(chain) - 2; i >= 0; i-- {
		out = NewFallbackAdapter(chain[i], out)
	}
	return out
}

// Describe names the backend behind a, for logs.
func Describe(a Adapter) string {
	switch v := a.(type) {
	case *FallbackAdapter:
		return Describe(v.primary) + "->" + Describe(v.fallback)
	case *GeminiAdapter:
		return "gemini"
	case *OpenAIAdapter:
		return "openai"
	case *AnthropicAdapter:
		return "anthropic"
	case *HTTPAdapter:
		return "http"
	case *CLIAdapter:
		return "cli"
	case *MockAdapter:
		return "mock"
	case interface{ Name() string }:
		return v.Name()
	default:
		return fmt.Sprintf("%T", a)
	}
}
