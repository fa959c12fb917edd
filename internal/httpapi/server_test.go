package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/heygemini/internal/config"
	"github.com/antoniostano/heygemini/internal/conversation"
	"github.com/antoniostano/heygemini/internal/memory"
	"github.com/antoniostano/heygemini/internal/observability"
	"github.com/antoniostano/heygemini/internal/tts"
	"github.com/antoniostano/heygemini/internal/ui"
)

var metricsSeq atomic.Int64

func newTestMetrics(prefix string) *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("test_httpapi_%s_%d_%d", prefix, time.Now().UnixNano(), metricsSeq.Add(1)))
}

type fakeSession struct {
	name  string
	woken atomic.Int32
}

func (f *fakeSession) State() conversation.State { return conversation.Idle }

func (f *fakeSession) History() []conversation.Turn {
	return []conversation.Turn{
		{ID: "t1", Role: conversation.RoleUser, Content: "hello"},
		{ID: "t2", Role: conversation.RoleAssistant, Content: "hi there"},
	}
}

func (f *fakeSession) ActivationName() string { return f.name }

func (f *fakeSession) OnWakeWord() { f.woken.Add(1) }

type fakeMic struct {
	mu    sync.Mutex
	pcm   [][]byte
	typed []string
}

func (f *fakeMic) Feed(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pcm = append(f.pcm, pcm)
}

func (f *fakeMic) FeedText(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed = append(f.typed, text)
	return true
}

func (f *fakeMic) SampleRate() int { return 16000 }

func (f *fakeMic) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcm), len(f.typed)
}

func TestUIRoutes(t *testing.T) {
	srv := New(Options{Metrics: newTestMetrics("ui")})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rootRes, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer rootRes.Body.Close()
	if rootRes.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("GET / status = %d, want %d", rootRes.StatusCode, http.StatusTemporaryRedirect)
	}
	if got := rootRes.Header.Get("Location"); got != "/ui/" {
		t.Fatalf("GET / location = %q, want %q", got, "/ui/")
	}

	uiRes, err := http.Get(ts.URL + "/ui/")
	if err != nil {
		t.Fatalf("GET /ui/ error = %v", err)
	}
	defer uiRes.Body.Close()
	if uiRes.StatusCode != http.StatusOK {
		t.Fatalf("GET /ui/ status = %d, want %d", uiRes.StatusCode, http.StatusOK)
	}
	var body bytes.Buffer
	if _, err := body.ReadFrom(uiRes.Body); err != nil {
		t.Fatalf("reading /ui/ body failed: %v", err)
	}
	if !strings.Contains(body.String(), "id=\"chat\"") {
		t.Fatalf("GET /ui/ body missing expected content")
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := New(Options{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", res.StatusCode)
	}

	res, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz without session status = %d, want 503", res.StatusCode)
	}
}

func TestSessionEndpoint(t *testing.T) {
	srv := New(Options{Session: &fakeSession{name: "gemini"}})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/session")
	if err != nil {
		t.Fatalf("GET /v1/session error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		State          string     `json:"state"`
		ActivationName string     `json:"activation_name"`
		History        []turnView `json:"history"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.State != "idle" || payload.ActivationName != "gemini" {
		t.Fatalf("payload = %+v", payload)
	}
	if len(payload.History) != 2 || payload.History[1].Role != "assistant" {
		t.Fatalf("history = %+v", payload.History)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	srv := New(Options{SettingsPath: path, Session: &fakeSession{name: "gemini"}})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/settings")
	if err != nil {
		t.Fatalf("GET /v1/settings error = %v", err)
	}
	var got settingsResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	res.Body.Close()
	if got.AssistantName != "gemini" || got.RestartRequired || got.HasGoogleAPIKey {
		t.Fatalf("defaults = %+v", got)
	}

	body := strings.NewReader(`{"assistant_name":"Jarvis","GOOGLE_API_KEY":"AIzaSecret"}`)
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/settings", body)
	req.Header.Set("Content-Type", "application/json")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /v1/settings error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if got.AssistantName != "Jarvis" || !got.RestartRequired || !got.HasGoogleAPIKey {
		t.Fatalf("updated = %+v", got)
	}

	saved, err := config.LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if saved.ActivationName() != "jarvis" || saved.GoogleAPIKey != "AIzaSecret" {
		t.Fatalf("saved = %+v", saved)
	}
}

func TestSettingsRejectsBlankName(t *testing.T) {
	srv := New(Options{SettingsPath: filepath.Join(t.TempDir(), "settings.json")})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/settings", strings.NewReader(`{"assistant_name":"  "}`))
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /v1/settings error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, content := range []string{"one", "two", "three"} {
		if err := store.SaveTurn(ctx, memory.TurnRecord{
			ID:             fmt.Sprintf("r%d", i),
			ConversationID: "c1",
			Role:           "user",
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}
	srv := New(Options{History: store})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/history?conversation_id=c1&limit=2")
	if err != nil {
		t.Fatalf("GET /v1/history error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		Turns []memory.TurnRecord `json:"turns"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(payload.Turns) != 2 || payload.Turns[0].Content != "two" || payload.Turns[1].Content != "three" {
		t.Fatalf("turns = %+v", payload.Turns)
	}

	bad, err := http.Get(ts.URL + "/v1/history?limit=zero")
	if err != nil {
		t.Fatalf("GET /v1/history error = %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", bad.StatusCode)
	}
}

func TestWindowWebSocket(t *testing.T) {
	d := ui.NewDispatcher()
	defer d.Stop()
	window := ui.NewWindow(d)
	window.SetStatus("Listening for 'gemini'")
	window.AddMessage("You", "earlier")

	sess := &fakeSession{name: "gemini"}
	mic := &fakeMic{}
	srv := New(Options{Window: window, Session: sess, Mic: mic, Metrics: newTestMetrics("ws")})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial /ws error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	first := readJSON(t, conn)
	if first["type"] != "window_snapshot" || first["status"] != "Listening for 'gemini'" || first["activation_name"] != "gemini" {
		t.Fatalf("first message = %#v", first)
	}
	if msgs, _ := first["messages"].([]any); len(msgs) != 1 {
		t.Fatalf("snapshot messages = %#v", first["messages"])
	}

	window.StartAssistantMessage()
	window.UpdateAssistantMessage("Hi")
	window.EndAssistantMessage()
	for _, want := range []string{"assistant_start", "assistant_delta", "assistant_end"} {
		if got := readJSON(t, conn); got["type"] != want {
			t.Fatalf("event = %#v, want %s", got, want)
		}
	}

	send := func(v any) {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
	}
	send(map[string]any{"type": "client_text", "text": "gemini what time is it"})
	send(map[string]any{"type": "client_audio_chunk", "seq": 0, "pcm16_base64": "AAABAA==", "sample_rate": 16000})
	send(map[string]any{"type": "client_control", "action": "wake"})
	waitFor(t, func() bool {
		pcm, typed := mic.counts()
		return pcm == 1 && typed == 1 && sess.woken.Load() == 1
	})

	send(map[string]any{"type": "client_audio_chunk", "seq": 1, "pcm16_base64": "AAAA", "sample_rate": 44100})
	if got := readJSON(t, conn); got["type"] != "error_event" || got["code"] != "unsupported_sample_rate" {
		t.Fatalf("event = %#v, want unsupported_sample_rate", got)
	}
	send(map[string]any{"type": "bogus"})
	if got := readJSON(t, conn); got["type"] != "error_event" || got["code"] != "invalid_client_message" {
		t.Fatalf("event = %#v, want invalid_client_message", got)
	}

	srv.PlayAudio(tts.Chunk{UtteranceID: "u1", Seq: 0, Format: "pcm_16000", AudioBase64: "AAAA"})
	got := readJSON(t, conn)
	if got["type"] != "assistant_audio_chunk" || got["utterance_id"] != "u1" {
		t.Fatalf("event = %#v, want assistant_audio_chunk", got)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := New(Options{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, res, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	if err == nil {
		t.Fatal("expected dial to fail for foreign origin")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v, want 403", res)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var out map[string]any
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPerfLatencyIncludesState(t *testing.T) {
	metrics := newTestMetrics("perf")
	metrics.ObserveStage("reply_stream", 40*time.Millisecond)
	srv := New(Options{Metrics: metrics, Session: &fakeSession{name: "gemini"}})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	var payload latencyResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.State != "idle" {
		t.Fatalf("state = %q, want idle", payload.State)
	}
	if len(payload.Stages) != 1 || payload.Stages[0].Stage != "reply_stream" || payload.Stages[0].LastMS != 40 {
		t.Fatalf("stages = %+v", payload.Stages)
	}
}

func TestChatWindowIsNotCached(t *testing.T) {
	ts := httptest.NewServer(New(Options{}).Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/ui/")
	if err != nil {
		t.Fatalf("GET /ui/ error = %v", err)
	}
	res.Body.Close()
	if got := res.Header.Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("Cache-Control = %q, want no-cache", got)
	}
}
