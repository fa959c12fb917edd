// Package tts speaks assistant replies.
package tts

import (
	"context"
	"log"
)

// Speaker speaks one reply. Speak returns once the whole reply has been
// synthesised and handed to the sink, or ctx is done.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Chunk is one piece of synthesised audio.
type Chunk struct {
	UtteranceID string
	Seq         int
	Format      string
	AudioBase64 string
}

// AudioSink plays synthesised audio, usually by forwarding it to the chat
// window. PlayAudio must not block.
type AudioSink interface {
	PlayAudio(chunk Chunk)
}

// LogSpeaker only logs what it would say.
type LogSpeaker struct{}

func (LogSpeaker) Speak(_ context.Context, text string) error {
	text = Speakable(text)
	if text == "" {
		return nil
	}
	log.Printf("tts: speech output disabled, skipping %d chars", len(text))
	return nil
}

// SinkFunc adapts a function to AudioSink.
type SinkFunc func(chunk Chunk)

func (f SinkFunc) PlayAudio(chunk Chunk) { f(chunk) }
