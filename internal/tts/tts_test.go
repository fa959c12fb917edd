package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

type fakeSpeechServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	conns    atomic.Int32
	// failFirst makes the first connection report a retryable error.
	failFirst bool

	mu       sync.Mutex
	received []map[string]any
	path     string
	query    string
	apiKey   string
}

func (f *fakeSpeechServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := f.conns.Add(1)
	f.mu.Lock()
	f.path = r.URL.Path
	f.query = r.URL.RawQuery
	f.apiKey = r.Header.Get("xi-api-key")
	f.mu.Unlock()

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, msg)
		f.mu.Unlock()
	}
	if f.failFirst && n == 1 {
		_ = conn.WriteJSON(map[string]any{"error": "slow down", "message_type": "rate_limited"})
		return
	}
	_ = conn.WriteJSON(map[string]any{"audio": "AAAA"})
	_ = conn.WriteJSON(map[string]any{"audio": "BBBB"})
	_ = conn.WriteJSON(map[string]any{"isFinal": true})
}

type sinkRecorder struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (s *sinkRecorder) PlayAudio(c Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, c)
}

func newSpeaker(t *testing.T, srv *httptest.Server, sink AudioSink, retries int) *ElevenLabs {
	t.Helper()
	sp, err := NewElevenLabs(ElevenLabsConfig{
		APIKey:     "xi-test",
		WSBaseURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		VoiceID:    "21m00Tcm4TlvDq8ikWAM",
		MaxRetries: retries,
	}, sink)
	if err != nil {
		t.Fatalf("NewElevenLabs() error = %v", err)
	}
	return sp
}

func TestElevenLabsSpeakStreamsAudioToSink(t *testing.T) {
	fake := &fakeSpeechServer{t: t}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	sink := &sinkRecorder{}
	if err := newSpeaker(t, srv, sink, 0).Speak(context.Background(), "hello there"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	if len(sink.chunks) != 2 {
		t.Fatalf("chunks = %#v, want 2", sink.chunks)
	}
	if sink.chunks[0].AudioBase64 != "AAAA" || sink.chunks[1].Seq != 1 || sink.chunks[0].Format != "pcm_16000" {
		t.Fatalf("chunks = %#v", sink.chunks)
	}
	if sink.chunks[0].UtteranceID == "" || sink.chunks[0].UtteranceID != sink.chunks[1].UtteranceID {
		t.Fatalf("utterance ids = %q, %q", sink.chunks[0].UtteranceID, sink.chunks[1].UtteranceID)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.path != "/v1/text-to-speech/21m00Tcm4TlvDq8ikWAM/stream-input" {
		t.Fatalf("path = %q", fake.path)
	}
	if !strings.Contains(fake.query, "output_format=pcm_16000") {
		t.Fatalf("query = %q", fake.query)
	}
	if fake.apiKey != "xi-test" {
		t.Fatalf("api key = %q", fake.apiKey)
	}
	if len(fake.received) != 3 || fake.received[1]["text"] != "hello there " || fake.received[2]["text"] != "" {
		t.Fatalf("received = %#v", fake.received)
	}
}

func TestElevenLabsRetriesRetryableErrorBeforeAudio(t *testing.T) {
	fake := &fakeSpeechServer{t: t, failFirst: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	sink := &sinkRecorder{}
	if err := newSpeaker(t, srv, sink, 1).Speak(context.Background(), "again"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got := fake.conns.Load(); got != 2 {
		t.Fatalf("connections = %d, want 2", got)
	}
	if len(sink.chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(sink.chunks))
	}
}

func TestElevenLabsReportsErrorWithoutRetries(t *testing.T) {
	fake := &fakeSpeechServer{t: t, failFirst: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	err := newSpeaker(t, srv, nil, 0).Speak(context.Background(), "again")
	if err == nil || !strings.Contains(err.Error(), "rate_limited") {
		t.Fatalf("Speak() error = %v, want rate_limited", err)
	}
}

func TestElevenLabsSkipsBlankText(t *testing.T) {
	sp, err := NewElevenLabs(ElevenLabsConfig{APIKey: "k", VoiceID: "v", WSBaseURL: "ws://127.0.0.1:1"}, nil)
	if err != nil {
		t.Fatalf("NewElevenLabs() error = %v", err)
	}
	if err := sp.Speak(context.Background(), "   "); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
}

func TestNewElevenLabsRequiresKey(t *testing.T) {
	if _, err := NewElevenLabs(ElevenLabsConfig{VoiceID: "v"}, nil); err != ErrNoAPIKey {
		t.Fatalf("NewElevenLabs() error = %v, want ErrNoAPIKey", err)
	}
}

func TestClampOr(t *testing.T) {
	if got := clampOr(0, 1.0, 0.7, 1.2); got != 1.0 {
		t.Fatalf("clampOr(0) = %v", got)
	}
	if got := clampOr(5, 1.0, 0.7, 1.2); got != 1.2 {
		t.Fatalf("clampOr(5) = %v", got)
	}
}

func TestLogSpeaker(t *testing.T) {
	if err := (LogSpeaker{}).Speak(context.Background(), "hi"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
}
