// Package listener turns microphone captures into wake-word detections and
// spoken commands.
package listener

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/antoniostano/heygemini/internal/audio"
	"github.com/antoniostano/heygemini/internal/mic"
	"github.com/antoniostano/heygemini/internal/observability"
	"github.com/antoniostano/heygemini/internal/stt"
)

// Matches reports whether text contains the activation name, ignoring case.
func Matches(text, activationName string) bool {
	name := strings.ToLower(strings.TrimSpace(activationName))
	if name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), name)
}

// WakeWordListener runs background capture and fires a callback whenever an
// utterance contains the activation name. It never stops on its own.
type WakeWordListener struct {
	guard       *mic.Guard
	transcriber stt.Transcriber
	opts        mic.ListenOptions
	metrics     *observability.Metrics
	debug       bool

	mu     sync.Mutex
	handle *mic.BackgroundHandle
}

// NewWakeWordListener builds a listener over guard. opts bounds each
// background phrase.
func NewWakeWordListener(guard *mic.Guard, transcriber stt.Transcriber, opts mic.ListenOptions, metrics *observability.Metrics, debug bool) *WakeWordListener {
	return &WakeWordListener{
		guard:       guard,
		transcriber: transcriber,
		opts:        opts,
		metrics:     metrics,
		debug:       debug,
	}
}

// Start begins background capture. Starting an already running listener is
// a no-op. onDetected runs on the capture goroutine and must not block on Stop.
func (l *WakeWordListener) Start(activationName string, onDetected func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle != nil {
		return nil
	}
	name := strings.ToLower(strings.TrimSpace(activationName))
	h, err := l.guard.AcquireBackground(l.opts, func(ctx context.Context, seg audio.Segment) {
		l.handleSegment(ctx, seg, name, onDetected)
	})
	if err != nil {
		return err
	}
	l.handle = h
	log.Printf("listener: listening in the background for %q", name)
	return nil
}

func (l *WakeWordListener) handleSegment(ctx context.Context, seg audio.Segment, name string, onDetected func()) {
	text, err := l.transcriber.Transcribe(ctx, seg)
	switch {
	case err == nil:
	case errors.Is(err, stt.ErrNotUnderstood), ctx.Err() != nil:
		return
	default:
		log.Printf("listener: wake word recognition failed: %v", err)
		return
	}
	if l.debug {
		log.Printf("listener: heard %q", text)
	}
	if !Matches(text, name) {
		return
	}
	l.metrics.ObserveWakeWord()
	onDetected()
}

// Stop releases the microphone and returns once background capture has
// fully ended. Stopping a stopped listener is a no-op.
func (l *WakeWordListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == nil {
		return
	}
	l.guard.Release(l.handle)
	l.handle = nil
	log.Printf("listener: background listening stopped")
}

// Active reports whether background capture is running.
func (l *WakeWordListener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}
