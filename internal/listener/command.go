package listener

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/antoniostano/heygemini/internal/mic"
	"github.com/antoniostano/heygemini/internal/observability"
	"github.com/antoniostano/heygemini/internal/stt"
)

// CommandCapture listens once for a spoken command in the foreground.
type CommandCapture struct {
	guard       *mic.Guard
	transcriber stt.Transcriber
	opts        mic.ListenOptions
	metrics     *observability.Metrics
}

// NewCommandCapture builds a capture over guard. opts.StartTimeout bounds the
// wait for speech to begin and opts.PauseThreshold ends the command.
func NewCommandCapture(guard *mic.Guard, transcriber stt.Transcriber, opts mic.ListenOptions, metrics *observability.Metrics) *CommandCapture {
	return &CommandCapture{guard: guard, transcriber: transcriber, opts: opts, metrics: metrics}
}

// Capture records and transcribes one command. ok is false when nothing
// usable was heard: no speech before the timeout, unintelligible speech, an
// unreachable recognizer, or a cancelled ctx.
func (c *CommandCapture) Capture(ctx context.Context) (text string, ok bool) {
	seg, err := c.guard.AcquireForeground(ctx, c.opts)
	if err != nil {
		switch {
		case errors.Is(err, mic.ErrWaitTimeout):
			log.Printf("listener: no command heard (timeout)")
			c.metrics.ObserveCapture("timeout")
		case errors.Is(err, mic.ErrResourceBusy):
			log.Printf("listener: BUG: microphone still held by background capture")
			c.metrics.ObserveInvariantViolation("mic_busy")
			c.metrics.ObserveCapture("busy")
		case ctx.Err() != nil:
			c.metrics.ObserveCapture("cancelled")
		default:
			log.Printf("listener: command capture failed: %v", err)
			c.metrics.ObserveCapture("device_error")
		}
		return "", false
	}

	text, err = c.transcriber.Transcribe(ctx, seg)
	if err != nil {
		switch {
		case errors.Is(err, stt.ErrNotUnderstood):
			log.Printf("listener: could not understand the command")
			c.metrics.ObserveCapture("not_understood")
		case ctx.Err() != nil:
			c.metrics.ObserveCapture("cancelled")
		default:
			log.Printf("listener: speech recognition request failed: %v", err)
			c.metrics.ObserveCapture("unavailable")
		}
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.metrics.ObserveCapture("not_understood")
		return "", false
	}
	log.Printf("listener: command transcribed: %q", text)
	c.metrics.ObserveCapture("ok")
	return text, true
}
