package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiAdapter streams replies from the Gemini API.
type GeminiAdapter struct {
	client *genai.Client
	model  string
}

func NewGeminiAdapter(ctx context.Context, apiKey, model string) (*GeminiAdapter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GOOGLE_API_KEY not found; set it in the environment or the settings file")
	}
	if strings.TrimSpace(model) == "" || !strings.HasPrefix(model, "gemini") {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiAdapter{client: client, model: model}, nil
}

func (a *GeminiAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	history := alternating(req.History)
	if len(history) == 0 {
		return Response{}, errors.New("gemini: empty conversation")
	}
	contents := geminiContents(history)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
	}

	var out strings.Builder
	for resp, err := range a.client.Models.GenerateContentStream(ctx, a.model, contents, config) {
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			return Response{}, fmt.Errorf("gemini stream: %w", err)
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{Text: out.String()}, nil
}

// alternating drops blank turns and leading assistant turns and merges
// consecutive same-role turns, which chat APIs with strict role ordering require.
func alternating(history []Message) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if len(out) == 0 && m.Role != RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n" + content
			continue
		}
		out = append(out, Message{Role: m.Role, Content: content})
	}
	return out
}

func geminiContents(history []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}
