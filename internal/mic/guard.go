// Package mic arbitrates the single microphone between the background
// wake-word capture and foreground command capture.
package mic

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/antoniostano/heygemini/internal/audio"
)

var (
	// ErrResourceBusy means the microphone is already held.
	ErrResourceBusy = errors.New("microphone busy")
	// ErrWaitTimeout means no speech started within the listen timeout.
	ErrWaitTimeout = errors.New("timed out waiting for speech")
)

// ListenOptions bounds one capture.
type ListenOptions struct {
	// StartTimeout bounds the wait for speech to begin; zero waits forever.
	StartTimeout time.Duration
	// PhraseLimit caps a phrase once it has started; zero means no cap.
	PhraseLimit time.Duration
	// PauseThreshold is the trailing silence that ends a phrase.
	PauseThreshold time.Duration
}

// Device is a microphone source. Listen must return promptly when ctx ends.
type Device interface {
	Calibrate(ctx context.Context, d time.Duration) error
	Listen(ctx context.Context, opts ListenOptions) (audio.Segment, error)
}

// SegmentHandler receives background phrases. It runs on the capture
// goroutine, so it must not call Release.
type SegmentHandler func(ctx context.Context, seg audio.Segment)

// BackgroundHandle is the ownership token for a background capture.
type BackgroundHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Guard grants exclusive access to a Device.
type Guard struct {
	dev         Device
	calibration time.Duration

	mu         sync.Mutex
	background *BackgroundHandle
	foreground bool

	calibrateOnce sync.Once
}

// NewGuard wraps dev. calibration is the ambient-noise sample length used on
// the first acquisition.
func NewGuard(dev Device, calibration time.Duration) *Guard {
	if calibration <= 0 {
		calibration = time.Second
	}
	return &Guard{dev: dev, calibration: calibration}
}

func (g *Guard) calibrate(ctx context.Context) {
	g.calibrateOnce.Do(func() {
		log.Printf("mic: calibrating for ambient noise (%s)", g.calibration)
		if err := g.dev.Calibrate(ctx, g.calibration); err != nil {
			log.Printf("mic: calibration failed: %v", err)
			return
		}
		log.Printf("mic: calibration complete")
	})
}

// AcquireBackground starts continuous capture, calling onSegment for every
// phrase until the handle is released.
func (g *Guard) AcquireBackground(opts ListenOptions, onSegment SegmentHandler) (*BackgroundHandle, error) {
	g.mu.Lock()
	if g.background != nil || g.foreground {
		g.mu.Unlock()
		return nil, ErrResourceBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &BackgroundHandle{cancel: cancel, done: make(chan struct{})}
	g.background = h
	g.mu.Unlock()

	go g.runBackground(ctx, h, opts, onSegment)
	return h, nil
}

func (g *Guard) runBackground(ctx context.Context, h *BackgroundHandle, opts ListenOptions, onSegment SegmentHandler) {
	defer close(h.done)
	g.calibrate(ctx)

	backoff := 100 * time.Millisecond
	for ctx.Err() == nil {
		seg, err := g.dev.Listen(ctx, opts)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrWaitTimeout) {
			continue
		}
		if err != nil {
			log.Printf("mic: background listen failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 2*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = 100 * time.Millisecond
		if seg.Empty() {
			continue
		}
		onSegment(ctx, seg)
	}
}

// Release stops the background capture and returns once the capture
// goroutine has exited and no longer reads the device. Releasing a nil or
// already released handle is a no-op.
func (g *Guard) Release(h *BackgroundHandle) {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done

	g.mu.Lock()
	if g.background == h {
		g.background = nil
	}
	g.mu.Unlock()
}

// AcquireForeground performs one bounded capture. It fails with
// ErrResourceBusy while a background handle is outstanding.
func (g *Guard) AcquireForeground(ctx context.Context, opts ListenOptions) (audio.Segment, error) {
	g.mu.Lock()
	if g.background != nil || g.foreground {
		g.mu.Unlock()
		return audio.Segment{}, ErrResourceBusy
	}
	g.foreground = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.foreground = false
		g.mu.Unlock()
	}()

	g.calibrate(ctx)
	return g.dev.Listen(ctx, opts)
}

// Busy reports whether any capture holds the device.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.background != nil || g.foreground
}
