// Package stt turns captured utterances into text.
package stt

import (
	"context"
	"errors"
	"strings"

	"github.com/antoniostano/heygemini/internal/audio"
)

var (
	// ErrNotUnderstood means the audio held no intelligible speech.
	ErrNotUnderstood = errors.New("speech not understood")
	// ErrServiceUnavailable means the recognizer could not be reached or failed.
	ErrServiceUnavailable = errors.New("speech service unavailable")
)

// Transcriber converts one utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, seg audio.Segment) (string, error)
}

// typedText short-circuits segments that carry text but no audio.
func typedText(seg audio.Segment) (string, bool) {
	if len(seg.PCM) > 0 {
		return "", false
	}
	text := strings.TrimSpace(seg.Hint)
	return text, text != ""
}

// Mock transcribes from segment hints only.
type Mock struct{}

// Transcribe returns the segment hint, or ErrNotUnderstood when it is blank.
func (Mock) Transcribe(_ context.Context, seg audio.Segment) (string, error) {
	text := strings.TrimSpace(seg.Hint)
	if text == "" {
		return "", ErrNotUnderstood
	}
	return text, nil
}
