package mic

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/antoniostano/heygemini/internal/audio"
)

// ScriptedDevice replays queued utterances. Each Listen consumes one queued
// utterance, or times out after StartTimeout when the queue stays empty. It
// also records how many captures overlapped, which must never exceed one.
type ScriptedDevice struct {
	queue chan audio.Segment

	active       atomic.Int32
	maxActive    atomic.Int32
	listens      atomic.Int32
	calibrations atomic.Int32

	// TimeoutScale shrinks StartTimeout for fast tests; 0 means 1. Set it
	// before the device is shared.
	TimeoutScale float64
}

// NewScriptedDevice returns an empty scripted device.
func NewScriptedDevice() *ScriptedDevice {
	return &ScriptedDevice{queue: make(chan audio.Segment, 64)}
}

// Say queues a spoken utterance whose transcript is text.
func (d *ScriptedDevice) Say(text string) {
	d.queue <- audio.Segment{SampleRate: audio.DefaultSampleRate, Hint: text}
}

// FeedText satisfies the chat window's typed-input hook.
func (d *ScriptedDevice) FeedText(text string) bool {
	select {
	case d.queue <- audio.Segment{SampleRate: audio.DefaultSampleRate, Hint: text}:
		return true
	default:
		return false
	}
}

// Calibrate counts calibrations.
func (d *ScriptedDevice) Calibrate(context.Context, time.Duration) error {
	d.calibrations.Add(1)
	return nil
}

// Listen returns the next queued utterance.
func (d *ScriptedDevice) Listen(ctx context.Context, opts ListenOptions) (audio.Segment, error) {
	n := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		peak := d.maxActive.Load()
		if n <= peak || d.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	d.listens.Add(1)

	var timeout <-chan time.Time
	if opts.StartTimeout > 0 {
		wait := opts.StartTimeout
		if d.TimeoutScale > 0 {
			wait = time.Duration(float64(wait) * d.TimeoutScale)
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
		return audio.Segment{}, ctx.Err()
	case <-timeout:
		return audio.Segment{}, ErrWaitTimeout
	case seg := <-d.queue:
		return seg, nil
	}
}

// MaxConcurrent reports the largest number of overlapping Listen calls seen.
func (d *ScriptedDevice) MaxConcurrent() int { return int(d.maxActive.Load()) }

// Listens reports how many Listen calls were made.
func (d *ScriptedDevice) Listens() int { return int(d.listens.Load()) }

// Calibrations reports how many times Calibrate ran.
func (d *ScriptedDevice) Calibrations() int { return int(d.calibrations.Load()) }

// Pending reports queued utterances not yet consumed.
func (d *ScriptedDevice) Pending() int { return len(d.queue) }
