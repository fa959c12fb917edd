package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/heygemini/internal/audio"
	"github.com/antoniostano/heygemini/internal/reliability"
)

// ElevenLabsConfig configures the batch speech-to-text endpoint.
type ElevenLabsConfig struct {
	APIKey     string
	BaseURL    string
	ModelID    string
	Language   string
	HTTPClient *http.Client
	MaxRetries int
}

// ElevenLabs transcribes one utterance per request against
// POST /v1/speech-to-text.
type ElevenLabs struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

// NewElevenLabs fills defaults for cfg.
func NewElevenLabs(cfg ElevenLabsConfig) (*ElevenLabs, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("ELEVENLABS_API_KEY is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "scribe_v1"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ElevenLabs{cfg: cfg, client: client}, nil
}

type elevenSTTResponse struct {
	Text string `json:"text"`
}

// Transcribe implements Transcriber.
func (e *ElevenLabs) Transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	if text, ok := typedText(seg); ok {
		return text, nil
	}
	if len(seg.PCM) == 0 {
		return "", ErrNotUnderstood
	}
	wav, err := audio.EncodeWAV(seg)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := reliability.Backoff(ctx, attempt-1, 200*time.Millisecond, 2*time.Second); err != nil {
				return "", err
			}
		}
		text, retry, err := e.once(ctx, wav)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return "", lastErr
}

func (e *ElevenLabs) once(ctx context.Context, wav []byte) (text string, retry bool, err error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("model_id", e.cfg.ModelID)
	if lang := strings.TrimSpace(e.cfg.Language); lang != "" {
		_ = mw.WriteField("language_code", lang)
	}
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", false, err
	}
	if _, err := fw.Write(wav); err != nil {
		return "", false, err
	}
	if err := mw.Close(); err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.cfg.BaseURL, "/")+"/v1/speech-to-text", &body)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", true, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", reliability.IsRetryableHTTPStatus(resp.StatusCode),
			fmt.Errorf("%w: elevenlabs stt HTTP %d: %s", ErrServiceUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out elevenSTTResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("%w: decode elevenlabs stt: %v", ErrServiceUnavailable, err)
	}
	text = strings.TrimSpace(out.Text)
	if text == "" {
		return "", false, ErrNotUnderstood
	}
	return text, false, nil
}

var _ Transcriber = (*ElevenLabs)(nil)
