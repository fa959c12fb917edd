package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/heygemini/internal/reliability"
)

var ErrNoAPIKey = errors.New("elevenlabs api key is required")

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	VoiceID      string
	ModelID      string
	OutputFormat string
	// MaxRetries applies only while no audio has been delivered.
	MaxRetries int

	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// ElevenLabs streams replies through the ElevenLabs text-to-speech websocket.
// Replies are spoken one at a time, in the order Speak was called.
type ElevenLabs struct {
	cfg    ElevenLabsConfig
	sink   AudioSink
	dialer *websocket.Dialer
	turn   chan struct{}
}

func NewElevenLabs(cfg ElevenLabsConfig, sink AudioSink) (*ElevenLabs, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.Stability = clampOr(cfg.Stability, 0.42, 0, 1)
	cfg.SimilarityBoost = clampOr(cfg.SimilarityBoost, 0.85, 0, 1)
	cfg.Speed = clampOr(cfg.Speed, 1.0, 0.7, 1.2)
	return &ElevenLabs{
		cfg:    cfg,
		sink:   sink,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		turn:   make(chan struct{}, 1),
	}, nil
}

func clampOr(v, fallback, lo, hi float64) float64 {
	if v <= 0 {
		v = fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *ElevenLabs) Speak(ctx context.Context, text string) error {
	text = Speakable(text)
	if text == "" {
		return nil
	}
	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.turn }()

	utteranceID := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := reliability.Backoff(ctx, attempt-1, 250*time.Millisecond, 2*time.Second); err != nil {
				return err
			}
		}
		delivered, retryable, err := e.speakOnce(ctx, utteranceID, text)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if delivered > 0 || !retryable {
			break
		}
		log.Printf("tts: attempt %d failed, retrying: %v", attempt+1, err)
	}
	return lastErr
}

func (e *ElevenLabs) streamURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(e.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(e.cfg.VoiceID) + "/stream-input")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model_id", e.cfg.ModelID)
	q.Set("output_format", e.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// speakOnce runs one websocket session and reports how many chunks reached
// the sink.
func (e *ElevenLabs) speakOnce(ctx context.Context, utteranceID, text string) (delivered int, retryable bool, err error) {
	endpoint, err := e.streamURL()
	if err != nil {
		return 0, false, err
	}
	headers := http.Header{}
	headers.Set("xi-api-key", e.cfg.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return 0, reliability.IsRetryableHTTPStatus(resp.StatusCode), fmt.Errorf("dial tts websocket: HTTP %d: %w", resp.StatusCode, err)
		}
		return 0, true, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        e.cfg.Stability,
				"similarity_boost": e.cfg.SimilarityBoost,
				"speed":            e.cfg.Speed,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(m); err != nil {
			return 0, true, fmt.Errorf("write tts websocket: %w", err)
		}
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && delivered > 0 {
				return delivered, false, nil
			}
			return delivered, true, fmt.Errorf("read tts websocket: %w", err)
		}
		msg, ok := parseSpeechMessage(data)
		if !ok {
			continue
		}
		if msg.Error != "" {
			return delivered, reliability.IsRetryableSpeechMessageType(msg.MessageType),
				fmt.Errorf("tts %s: %s", msg.MessageType, msg.Error)
		}
		if msg.Audio != "" && e.sink != nil {
			e.sink.PlayAudio(Chunk{
				UtteranceID: utteranceID,
				Seq:         delivered,
				Format:      e.cfg.OutputFormat,
				AudioBase64: msg.Audio,
			})
			delivered++
		}
		if msg.Final {
			return delivered, false, nil
		}
	}
}

type speechMessage struct {
	Audio       string
	Final       bool
	Error       string
	MessageType string
}

func parseSpeechMessage(data []byte) (speechMessage, bool) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return speechMessage{}, false
	}
	msg := speechMessage{
		Audio:       asString(raw["audio"]),
		Final:       asBool(raw["isFinal"]) || asBool(raw["is_final"]),
		Error:       asString(raw["error"]),
		MessageType: asString(raw["message_type"]),
	}
	if msg.Error != "" && msg.MessageType == "" {
		msg.MessageType = "error"
	}
	return msg, true
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
