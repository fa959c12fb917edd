// Package protocol defines the JSON messages exchanged with the chat window
// over its WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientText       MessageType = "client_text"
	TypeClientControl    MessageType = "client_control"

	TypeWindowSnapshot MessageType = "window_snapshot"
	TypeStatus         MessageType = "status"
	TypeMessage        MessageType = "message"
	TypeAssistantStart MessageType = "assistant_start"
	TypeAssistantDelta MessageType = "assistant_delta"
	TypeAssistantEnd   MessageType = "assistant_end"
	TypeAssistantAudio MessageType = "assistant_audio_chunk"
	TypeErrorEvent     MessageType = "error_event"
)

// Client control actions.
const (
	// ActionWake behaves as if the activation name had been heard.
	ActionWake = "wake"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries browser microphone audio as base64 PCM16LE mono.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientText is a typed utterance, heard by whichever capture listens next.
type ClientText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type WindowMessage struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Streaming bool   `json:"streaming,omitempty"`
}

// WindowSnapshot is sent once per connection, before any other event.
type WindowSnapshot struct {
	Type           MessageType     `json:"type"`
	ActivationName string          `json:"activation_name"`
	State          string          `json:"state"`
	Status         string          `json:"status"`
	Messages       []WindowMessage `json:"messages"`
}

// WindowEvent is one chat window change: status, message, assistant_start,
// assistant_delta or assistant_end.
type WindowEvent struct {
	Type   MessageType `json:"type"`
	Sender string      `json:"sender,omitempty"`
	Text   string      `json:"text,omitempty"`
	TSMs   int64       `json:"ts_ms"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	UtteranceID string      `json:"utterance_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.Text == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionWake:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the type of a known message value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientAudioChunk:
		return m.Type, true
	case ClientText:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case WindowSnapshot:
		return m.Type, true
	case WindowEvent:
		return m.Type, true
	case AssistantAudioChunk:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
