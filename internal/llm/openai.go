package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIAdapter streams replies from any OpenAI-compatible chat completions
// API. When a ToolProvider is set, tool calls requested by the model are run
// and their results fed back for up to maxRounds rounds.
type OpenAIAdapter struct {
	client    openai.Client
	model     string
	tools     ToolProvider
	maxRounds int
}

func NewOpenAIAdapter(apiKey, baseURL, model string, tools ToolProvider, maxRounds int) (*OpenAIAdapter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required for the openai backend")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	model = strings.TrimSpace(model)
	if model == "" || strings.HasPrefix(model, "gemini") || strings.HasPrefix(model, "claude") {
		model = defaultOpenAIModel
	}
	return &OpenAIAdapter{
		client:    openai.NewClient(opts...),
		model:     model,
		tools:     tools,
		maxRounds: maxRounds,
	}, nil
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (a *OpenAIAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(SystemPrompt)}
	for _, m := range req.History {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	var toolParams []openai.ChatCompletionToolParam
	if a.tools != nil && a.maxRounds > 0 {
		tools, err := a.tools.Tools(ctx)
		if err != nil {
			log.Printf("llm: tool listing failed, answering without tools: %v", err)
		}
		toolParams = buildOpenAITools(tools)
	}

	var out strings.Builder
	for round := 0; ; round++ {
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(a.model),
			Messages: msgs,
		}
		if len(toolParams) > 0 && round < a.maxRounds {
			params.Tools = toolParams
		}

		text, calls, err := a.streamOnce(ctx, params, onDelta)
		out.WriteString(text)
		if err != nil {
			return Response{}, err
		}
		if len(calls) == 0 || a.tools == nil {
			return Response{Text: out.String()}, nil
		}

		assistant := openai.ChatCompletionAssistantMessageParam{}
		if text != "" {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
		}
		for _, c := range calls {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   c.id,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      c.name,
					Arguments: c.args.String(),
				},
			})
		}
		msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		for _, c := range calls {
			msgs = append(msgs, openai.ToolMessage(a.runTool(ctx, c), c.id))
		}
	}
}

func (a *OpenAIAdapter) streamOnce(ctx context.Context, params openai.ChatCompletionNewParams, onDelta DeltaHandler) (string, []*pendingToolCall, error) {
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text    strings.Builder
		pending = map[int64]*pendingToolCall{}
		order   []int64
	)
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if onDelta != nil {
				if err := onDelta(delta.Content); err != nil {
					return text.String(), nil, err
				}
			}
		}
		for _, tc := range delta.ToolCalls {
			pc, ok := pending[tc.Index]
			if !ok {
				pc = &pendingToolCall{}
				pending[tc.Index] = pc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return text.String(), nil, ctx.Err()
		}
		return text.String(), nil, fmt.Errorf("openai stream: %w", err)
	}
	calls := make([]*pendingToolCall, 0, len(order))
	for _, idx := range order {
		calls = append(calls, pending[idx])
	}
	return text.String(), calls, nil
}

func (a *OpenAIAdapter) runTool(ctx context.Context, c *pendingToolCall) string {
	args := map[string]any{}
	if raw := strings.TrimSpace(c.args.String()); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fmt.Sprintf("error: invalid tool arguments: %v", err)
		}
	}
	result, err := a.tools.CallTool(ctx, c.name, args)
	if err != nil {
		log.Printf("llm: tool %s failed: %v", c.name, err)
		return fmt.Sprintf("error: %v", err)
	}
	return result
}

func buildOpenAITools(tools []Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		schema := shared.FunctionParameters{"type": "object", "properties": map[string]any{}}
		for k, v := range t.InputSchema {
			schema[k] = v
		}
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schema,
			},
		})
	}
	return out
}
