package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicAdapter streams replies from the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
	model  string
}

func NewAnthropicAdapter(apiKey, model string) (*AnthropicAdapter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is required for the anthropic backend")
	}
	if model = strings.TrimSpace(model); !strings.HasPrefix(model, "claude") {
		model = defaultAnthropicModel
	}
	return &AnthropicAdapter{
		client: anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (a *AnthropicAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	history := alternating(req.History)
	if len(history) == 0 {
		return Response{}, errors.New("anthropic: empty conversation")
	}
	msgs := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	stream := a.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  msgs,
		MaxTokens: defaultAnthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: SystemPrompt}},
	})
	defer stream.Close()

	var out strings.Builder
	for stream.Next() {
		event := stream.Current()
		variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		d, ok := variant.Delta.AsAny().(anthropic.TextDelta)
		if !ok || d.Text == "" {
			continue
		}
		out.WriteString(d.Text)
		if onDelta != nil {
			if err := onDelta(d.Text); err != nil {
				return Response{}, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("anthropic stream: %w", err)
	}
	return Response{Text: out.String()}, nil
}
