package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestNewAdapterAutoFallsBackToMockWithoutBackends(t *testing.T) {
	a, err := NewAdapter(context.Background(), Config{
		Mode:    "auto",
		CLIPath: "/definitely/missing/llm",
	})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if got := Describe(a); got != "mock" {
		t.Fatalf("Describe() = %q, want mock", got)
	}

	resp, err := a.StreamResponse(context.Background(), Request{
		History: []Message{{Role: RoleUser, Content: "hello"}},
	}, nil)
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.Text != "I heard you: hello" {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
}

func TestNewAdapterRejectsUnknownMode(t *testing.T) {
	if _, err := NewAdapter(context.Background(), Config{Mode: "telepathy"}); err == nil {
		t.Fatalf("NewAdapter() expected error for unknown mode")
	}
	if _, err := NewAdapter(context.Background(), Config{Mode: "gemini"}); err == nil {
		t.Fatalf("NewAdapter() expected error for gemini without key")
	}
}

func TestMockAdapterStreamsWordsAndCountsTurns(t *testing.T) {
	req := Request{History: []Message{
		{Role: RoleUser, Content: "what time is it"},
		{Role: RoleAssistant, Content: "noon"},
		{Role: RoleUser, Content: "and the date"},
	}}
	var deltas []string
	resp, err := NewMockAdapter().StreamResponse(context.Background(), req, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	want := "I heard you: and the date (that's 2 things you've asked me)"
	if resp.Text != want {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, want)
	}
	if len(deltas) < 2 {
		t.Fatalf("expected several fragments, got %d", len(deltas))
	}
	if strings.Join(deltas, "") != want {
		t.Fatalf("joined deltas = %q", strings.Join(deltas, ""))
	}
}

func TestMockAdapterHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockAdapter().StreamResponse(ctx, Request{History: []Message{{Role: RoleUser, Content: "hi"}}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestFallbackAdapterUsesFallback(t *testing.T) {
	a := NewFallbackAdapter(errAdapter{}, okAdapter{text: "fallback"})
	resp, err := a.StreamResponse(context.Background(), Request{}, nil)
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.Text != "fallback" {
		t.Fatalf("resp.Text = %q, want fallback", resp.Text)
	}
}

func TestFallbackAdapterSkipsFallbackOnCanceledContext(t *testing.T) {
	fb := &countingAdapter{text: "fallback"}
	a := NewFallbackAdapter(cancelAdapter{}, fb)
	_, err := a.StreamResponse(context.Background(), Request{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fb.calls != 0 {
		t.Fatalf("fallback should not be called, calls = %d", fb.calls)
	}
}

func TestFallbackAdapterKeepsPartialReplyError(t *testing.T) {
	fb := &countingAdapter{text: "fallback"}
	a := NewFallbackAdapter(partialAdapter{}, fb)
	var got strings.Builder
	_, err := a.StreamResponse(context.Background(), Request{}, func(d string) error {
		got.WriteString(d)
		return nil
	})
	if err == nil {
		t.Fatalf("StreamResponse() expected error after partial stream")
	}
	if fb.calls != 0 {
		t.Fatalf("fallback should not be called after streaming, calls = %d", fb.calls)
	}
	if got.String() != "Hel" {
		t.Fatalf("streamed = %q, want Hel", got.String())
	}
}

func TestBuildPrompt(t *testing.T) {
	single := Request{History: []Message{{Role: RoleUser, Content: " hi "}}}
	if got := BuildPrompt(single); got != "hi" {
		t.Fatalf("BuildPrompt(single) = %q", got)
	}

	multi := Request{History: []Message{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "uno"},
		{Role: RoleUser, Content: "two"},
	}}
	want := "Conversation so far:\nUser: one\nAssistant: uno\nUser message:\ntwo"
	if got := BuildPrompt(multi); got != want {
		t.Fatalf("BuildPrompt(multi) = %q, want %q", got, want)
	}

	if got := BuildPrompt(Request{}); got != "" {
		t.Fatalf("BuildPrompt(empty) = %q", got)
	}
}

func TestAlternatingMergesAndTrims(t *testing.T) {
	got := alternating([]Message{
		{Role: RoleAssistant, Content: "stray"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
		{Role: RoleAssistant, Content: "  "},
		{Role: RoleAssistant, Content: "c"},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %#v", len(got), got)
	}
	if got[0].Role != RoleUser || got[0].Content != "a\nb" {
		t.Fatalf("got[0] = %#v", got[0])
	}
	if got[1].Role != RoleAssistant || got[1].Content != "c" {
		t.Fatalf("got[1] = %#v", got[1])
	}
}

func TestGeminiContentsMapsRoles(t *testing.T) {
	got := geminiContents([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Role != string(genai.RoleUser) || got[1].Role != string(genai.RoleModel) {
		t.Fatalf("roles = %q, %q", got[0].Role, got[1].Role)
	}
	if len(got[1].Parts) != 1 || got[1].Parts[0].Text != "hello" {
		t.Fatalf("parts = %#v", got[1].Parts)
	}
}

func TestHTTPAdapterConsumeSSE(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		"event: delta",
		"data: {\"delta\":\"Hel\"}",
		"",
		"data: {\"delta\":\"lo\"}",
		"",
		"data: [DONE]",
		"data: {\"delta\":\"ignored\"}",
	}, "\n"))

	var deltas []string
	resp, err := consumeStreaming(stream, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if resp.Text != "Hello" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "Hello")
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %q, want two fragments", deltas)
	}
}

func TestHTTPAdapterConsumeStreamingError(t *testing.T) {
	stream := strings.NewReader("{\"text\":\"Hi\"}\n{\"error\":\"quota exceeded\"}\n")
	var got string
	_, err := consumeStreaming(stream, func(d string) error {
		got += d
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("consumeStreaming() error = %v, want quota error", err)
	}
	if got != "Hi" {
		t.Fatalf("streamed = %q, want Hi", got)
	}
}

func TestHTTPAdapterPostsHistory(t *testing.T) {
	var payload httpPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  sure thing  "}`))
	}))
	defer srv.Close()

	var deltas []string
	resp, err := NewHTTPAdapter(srv.URL).StreamResponse(context.Background(), Request{
		ConversationID: "c1",
		History: []Message{
			{Role: RoleUser, Content: "first"},
			{Role: RoleAssistant, Content: "ok"},
			{Role: RoleUser, Content: "second"},
		},
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.Text != "sure thing" || len(deltas) != 1 {
		t.Fatalf("resp.Text = %q deltas = %q", resp.Text, deltas)
	}
	if payload.InputText != "second" || payload.ConversationID != "c1" || len(payload.History) != 3 {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestHTTPAdapterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPAdapter(srv.URL).StreamResponse(context.Background(), Request{
		History: []Message{{Role: RoleUser, Content: "x"}},
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("StreamResponse() error = %v, want status 502", err)
	}
}

func TestCLIAdapterStreamsStdout(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	a := NewCLIAdapter("echo")
	var got strings.Builder
	resp, err := a.StreamResponse(context.Background(), Request{
		History: []Message{{Role: RoleUser, Content: "ping"}},
	}, func(d string) error {
		got.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if !strings.HasSuffix(resp.Text, "ping") || !strings.HasPrefix(resp.Text, SystemPrompt) {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
	if !strings.Contains(got.String(), "ping") {
		t.Fatalf("streamed = %q", got.String())
	}
}

func TestCLIAdapterFailure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	_, err := NewCLIAdapter("false").StreamResponse(context.Background(), Request{
		History: []Message{{Role: RoleUser, Content: "ping"}},
	}, nil)
	if err == nil {
		t.Fatalf("StreamResponse() expected error from failing command")
	}
}

func TestValidUTF8Prefix(t *testing.T) {
	full := []byte("héllo")
	if got := validUTF8Prefix(full); got != len(full) {
		t.Fatalf("validUTF8Prefix(full) = %d, want %d", got, len(full))
	}
	cut := []byte("h\xc3")
	if got := validUTF8Prefix(cut); got != 1 {
		t.Fatalf("validUTF8Prefix(cut) = %d, want 1", got)
	}
}

func TestOpenAIToolDefinitionsKeepSchema(t *testing.T) {
	tools := buildOpenAITools([]Tool{{
		Name:        "weather",
		Description: "look up weather",
		InputSchema: map[string]any{"type": "object", "required": []string{"city"}},
	}})
	if len(tools) != 1 {
		t.Fatalf("len = %d, want 1", len(tools))
	}
	params := tools[0].Function.Parameters
	if _, ok := params["properties"]; !ok {
		t.Fatalf("parameters missing properties: %#v", params)
	}
	if _, ok := params["required"]; !ok {
		t.Fatalf("parameters missing required: %#v", params)
	}
}

type errAdapter struct{}

func (errAdapter) StreamResponse(context.Context, Request, DeltaHandler) (Response, error) {
	return Response{}, errors.New("boom")
}

type okAdapter struct {
	text string
}

func (a okAdapter) StreamResponse(_ context.Context, _ Request, onDelta DeltaHandler) (Response, error) {
	if onDelta != nil {
		if err := onDelta(a.text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: a.text}, nil
}

type cancelAdapter struct{}

func (cancelAdapter) StreamResponse(context.Context, Request, DeltaHandler) (Response, error) {
	return Response{}, context.Canceled
}

type partialAdapter struct{}

func (partialAdapter) StreamResponse(_ context.Context, _ Request, onDelta DeltaHandler) (Response, error) {
	if onDelta != nil {
		_ = onDelta("Hel")
	}
	return Response{}, errors.New("connection reset")
}

type countingAdapter struct {
	text  string
	calls int
}

func (a *countingAdapter) StreamResponse(_ context.Context, _ Request, onDelta DeltaHandler) (Response, error) {
	a.calls++
	return okAdapter{text: a.text}.StreamResponse(context.Background(), Request{}, onDelta)
}
