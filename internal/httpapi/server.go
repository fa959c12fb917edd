package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/heygemini/internal/config"
	"github.com/antoniostano/heygemini/internal/conversation"
	"github.com/antoniostano/heygemini/internal/memory"
	"github.com/antoniostano/heygemini/internal/observability"
	"github.com/antoniostano/heygemini/internal/protocol"
	"github.com/antoniostano/heygemini/internal/tts"
	"github.com/antoniostano/heygemini/internal/ui"
)

// SessionView is the part of the conversation session the chat window uses.
type SessionView interface {
	State() conversation.State
	History() []conversation.Turn
	ActivationName() string
	OnWakeWord()
}

// MicInput receives the browser microphone and typed utterances.
type MicInput interface {
	Feed(pcm []byte)
	FeedText(text string) bool
	SampleRate() int
}

type Options struct {
	Config       config.Config
	SettingsPath string
	Window       *ui.Window
	Session      SessionView
	Mic          MicInput
	History      memory.Store
	Metrics      *observability.Metrics
}

// Server hosts the chat window: static page, WebSocket and JSON endpoints.
type Server struct {
	cfg          config.Config
	settingsPath string
	window       *ui.Window
	session      SessionView
	mic          MicInput
	history      memory.Store
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
	static       http.Handler

	settingsMu sync.Mutex

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

var _ tts.AudioSink = (*Server)(nil)

func New(opts Options) *Server {
	cfg := opts.Config
	return &Server{
		cfg:          cfg,
		settingsPath: opts.SettingsPath,
		window:       opts.Window,
		session:      opts.Session,
		mic:          opts.Mic,
		history:      opts.History,
		metrics:      opts.Metrics,
		static:       newStaticHandler(),
		clients:      make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only the page served from this origin may drive the microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws", s.handleWindowWS)
	r.Get("/v1/session", s.handleSession)
	r.Get("/v1/history", s.handleHistory)
	r.Get("/v1/settings", s.handleGetSettings)
	r.Put("/v1/settings", s.handlePutSettings)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"history_enabled": s.history != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.session == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "conversation session not running")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"state":  s.session.State().String(),
	})
}

type turnView struct {
	ID      string    `json:"id"`
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	if s.session == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "conversation session not running")
		return
	}
	history := s.session.History()
	turns := make([]turnView, 0, len(history))
	for _, t := range history {
		turns = append(turns, turnView{ID: t.ID, Role: string(t.Role), Content: t.Content, At: t.At})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"state":           s.session.State().String(),
		"activation_name": s.session.ActivationName(),
		"history":         turns,
	})
}

// handleWindowWS streams chat window events to the browser and feeds its
// microphone, typed text and controls back into the assistant.
func (s *Server) handleWindowWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	context.AfterFunc(ctx, func() { _ = conn.Close() })

	c := &client{outbound: make(chan any, 256), metrics: s.metrics}
	if s.window != nil {
		detach := s.window.Attach(ui.RendererFunc(func(ev ui.Event) {
			c.send(windowEvent(ev))
		}), func(snap ui.Snapshot) {
			c.send(s.windowSnapshot(snap))
		})
		defer detach()
	}
	s.addClient(c)
	defer s.removeClient(c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveIndicator("ws_write_error")
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.send(clientError("invalid_client_message", err.Error()))
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		if ev, ok := s.handleClientMessage(parsed); !ok {
			c.send(ev)
		}
	}

	cancel()
	<-writerDone
}

// handleClientMessage applies one inbound message. It returns an error event
// for the sender when the message could not be applied.
func (s *Server) handleClientMessage(msg any) (protocol.ErrorEvent, bool) {
	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		if s.mic == nil {
			return clientError("mic_unavailable", "browser microphone input is disabled"), false
		}
		if m.SampleRate != s.mic.SampleRate() {
			return clientError("unsupported_sample_rate", "expected PCM16 mono audio at the server sample rate"), false
		}
		pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
		if err != nil {
			return clientError("invalid_audio", err.Error()), false
		}
		s.mic.Feed(pcm)
	case protocol.ClientText:
		if s.mic == nil {
			return clientError("mic_unavailable", "typed input is disabled"), false
		}
		if !s.mic.FeedText(m.Text) {
			return clientError("input_queue_full", "too many pending utterances"), false
		}
	case protocol.ClientControl:
		if s.session == nil {
			return clientError("unavailable", "conversation session not running"), false
		}
		if m.Action == protocol.ActionWake {
			s.session.OnWakeWord()
		}
	}
	return protocol.ErrorEvent{}, true
}

func clientError(code, detail string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:   protocol.TypeErrorEvent,
		Code:   code,
		Source: "gateway",
		Detail: detail,
	}
}

func windowEvent(ev ui.Event) protocol.WindowEvent {
	t := protocol.MessageType(ev.Type)
	return protocol.WindowEvent{
		Type:   t,
		Sender: ev.Sender,
		Text:   ev.Text,
		TSMs:   ev.At.UnixMilli(),
	}
}

func (s *Server) windowSnapshot(snap ui.Snapshot) protocol.WindowSnapshot {
	out := protocol.WindowSnapshot{
		Type:     protocol.TypeWindowSnapshot,
		Status:   snap.Status,
		Messages: make([]protocol.WindowMessage, 0, len(snap.Messages)),
	}
	if s.session != nil {
		out.ActivationName = s.session.ActivationName()
		out.State = s.session.State().String()
	}
	for _, m := range snap.Messages {
		out.Messages = append(out.Messages, protocol.WindowMessage{Sender: m.Sender, Text: m.Text, Streaming: m.Streaming})
	}
	return out
}

// PlayAudio forwards synthesised speech to every connected chat window.
func (s *Server) PlayAudio(chunk tts.Chunk) {
	msg := protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudio,
		UtteranceID: chunk.UtteranceID,
		Seq:         chunk.Seq,
		Format:      chunk.Format,
		AudioBase64: chunk.AudioBase64,
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		c.send(msg)
	}
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

// client is one connected chat window. Only the connection's writer
// goroutine drains outbound.
type client struct {
	outbound chan any
	metrics  *observability.Metrics
}

// send never blocks; the message is dropped when the queue is full.
func (c *client) send(msg any) {
	select {
	case c.outbound <- msg:
	default:
		c.metrics.ObserveIndicator("ws_drop_full")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
