package toolproc

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/antoniostano/heygemini/internal/llm"
)

func TestSelectAnswerToolPrefersAsk(t *testing.T) {
	got, ok := selectAnswerTool([]llm.Tool{
		{Name: "list_files"},
		{Name: "generate_text"},
		{Name: "ask"},
	})
	if !ok {
		t.Fatal("expected a tool")
	}
	if got.Name != "ask" {
		t.Fatalf("selected %q, want ask", got.Name)
	}

	got, _ = selectAnswerTool([]llm.Tool{{Name: "weather"}, {Name: "time"}})
	if got.Name != "weather" {
		t.Fatalf("selected %q, want first tool", got.Name)
	}

	if _, ok := selectAnswerTool(nil); ok {
		t.Fatal("expected no tool for empty list")
	}
}

func TestBuildAnswerArgs(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string"},
			"limit":    map[string]any{"type": "integer"},
		},
	}
	args := buildAnswerArgs(schema, "hi")
	if args["question"] != "hi" || len(args) != 1 {
		t.Fatalf("args = %#v", args)
	}

	required := map[string]any{
		"properties": map[string]any{
			"body": map[string]any{"type": "string"},
			"zeta": map[string]any{"type": "string"},
		},
		"required": []any{"zeta"},
	}
	if args := buildAnswerArgs(required, "hi"); args["zeta"] != "hi" {
		t.Fatalf("args = %#v, want zeta", args)
	}

	if args := buildAnswerArgs(map[string]any{}, "hi"); args["prompt"] != "hi" {
		t.Fatalf("args = %#v, want prompt", args)
	}
}

func TestAdapterCallsSelectedTool(t *testing.T) {
	tp := &fakeTools{
		tools: []llm.Tool{{
			Name:        "chat",
			InputSchema: map[string]any{"properties": map[string]any{"message": map[string]any{"type": "string"}}},
		}},
		reply: "  four  ",
	}
	var deltas []string
	resp, err := NewAdapter(tp).StreamResponse(context.Background(), llm.Request{
		History: []llm.Message{{Role: llm.RoleUser, Content: "two plus two"}},
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.Text != "four" || len(deltas) != 1 {
		t.Fatalf("resp = %q deltas = %q", resp.Text, deltas)
	}
	if tp.calledName != "chat" || tp.calledArgs["message"] != "two plus two" {
		t.Fatalf("called %q with %#v", tp.calledName, tp.calledArgs)
	}
}

func TestAdapterPropagatesToolError(t *testing.T) {
	tp := &fakeTools{tools: []llm.Tool{{Name: "ask"}}, err: errors.New("backend down")}
	_, err := NewAdapter(tp).StreamResponse(context.Background(), llm.Request{
		History: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestExtractContentJoinsText(t *testing.T) {
	got := extractContent(&mcp.CallToolResult{Content: []mcp.Content{
		&mcp.TextContent{Text: "one"},
		&mcp.TextContent{Text: "two"},
	}})
	if got != "one\ntwo" {
		t.Fatalf("extractContent() = %q", got)
	}
	if extractContent(nil) != "" {
		t.Fatal("extractContent(nil) should be empty")
	}
}

func TestSchemaMapNormalises(t *testing.T) {
	type schema struct {
		Type string `json:"type"`
	}
	if got := schemaMap(schema{Type: "object"}); got["type"] != "object" {
		t.Fatalf("schemaMap() = %#v", got)
	}
	if got := schemaMap(nil); len(got) != 0 {
		t.Fatalf("schemaMap(nil) = %#v", got)
	}
}

func TestManagerWithoutCommandFails(t *testing.T) {
	m := NewManager(ServerConfig{})
	defer m.Close()
	if _, err := m.Tools(context.Background()); err == nil {
		t.Fatal("Tools() expected error without command")
	}
}

type fakeTools struct {
	tools      []llm.Tool
	reply      string
	err        error
	calledName string
	calledArgs map[string]any
}

func (f *fakeTools) Tools(context.Context) ([]llm.Tool, error) { return f.tools, nil }

func (f *fakeTools) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	f.calledName = name
	f.calledArgs = args
	return f.reply, f.err
}

func TestManagerRefusesDestructiveCall(t *testing.T) {
	m := NewManager(ServerConfig{Command: "/definitely/missing/server"})
	defer m.Close()
	_, err := m.CallTool(context.Background(), "shell", map[string]any{"command": "rm -rf / "})
	if !errors.Is(err, ErrToolRefused) {
		t.Fatalf("CallTool() error = %v, want ErrToolRefused", err)
	}
}
