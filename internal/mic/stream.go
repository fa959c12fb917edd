package mic

import (
	"context"
	"sync"
	"time"

	"github.com/antoniostano/heygemini/internal/audio"
)

const (
	streamQueueFrames = 256
	preRollDuration   = 300 * time.Millisecond
)

// StreamDevice is a Device fed with PCM16LE frames pushed from elsewhere,
// typically the chat window's browser microphone. Frames are only consumed
// while a capture is listening; anything queued before a capture starts is
// discarded so stale speech is never attributed to the new capture.
type StreamDevice struct {
	sampleRate int
	frames     chan []byte
	typed      chan string

	mu        sync.Mutex
	threshold float64
}

// NewStreamDevice returns a device expecting audio at sampleRate.
func NewStreamDevice(sampleRate int) *StreamDevice {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &StreamDevice{
		sampleRate: sampleRate,
		frames:     make(chan []byte, streamQueueFrames),
		typed:      make(chan string, 8),
		threshold:  audio.MinSpeechThreshold,
	}
}

// SampleRate reports the expected input rate.
func (d *StreamDevice) SampleRate() int { return d.sampleRate }

// Feed queues one frame. When the queue is full the oldest frame is dropped.
func (d *StreamDevice) Feed(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	frame := append([]byte(nil), pcm...)
	for {
		select {
		case d.frames <- frame:
			return
		default:
		}
		select {
		case <-d.frames:
		default:
		}
	}
}

// FeedText queues a typed utterance. The next Listen returns it as a
// segment hint instead of waiting for audio. Returns false when the queue is full.
func (d *StreamDevice) FeedText(text string) bool {
	select {
	case d.typed <- text:
		return true
	default:
		return false
	}
}

// Threshold reports the current speech threshold.
func (d *StreamDevice) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

func (d *StreamDevice) drain() {
	for {
		select {
		case <-d.frames:
		default:
			return
		}
	}
}

// Calibrate samples ambient noise for dur and sets the speech threshold.
func (d *StreamDevice) Calibrate(ctx context.Context, dur time.Duration) error {
	d.drain()
	var (
		frames [][]byte
		got    time.Duration
	)
	deadline := time.NewTimer(dur + 500*time.Millisecond)
	defer deadline.Stop()
	for got < dur {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			got = dur
		case f := <-d.frames:
			frames = append(frames, f)
			got += audio.PCMDuration(len(f), d.sampleRate)
		}
	}
	th := audio.CalibrateThreshold(frames)
	d.mu.Lock()
	d.threshold = th
	d.mu.Unlock()
	return nil
}

// Listen waits for speech, then records until PauseThreshold of trailing
// silence or PhraseLimit of phrase audio.
func (d *StreamDevice) Listen(ctx context.Context, opts ListenOptions) (audio.Segment, error) {
	d.drain()
	det := audio.NewEnergyDetector(d.Threshold())

	var startC <-chan time.Time
	if opts.StartTimeout > 0 {
		t := time.NewTimer(opts.StartTimeout)
		defer t.Stop()
		startC = t.C
	}

	preRollBytes := audio.BytesFor(preRollDuration, d.sampleRate)
	var (
		pre     []byte
		phrase  []byte
		started bool
		silence time.Duration
		typedC  = d.typed
	)
	for {
		select {
		case <-ctx.Done():
			return audio.Segment{}, ctx.Err()
		case <-startC:
			return audio.Segment{}, ErrWaitTimeout
		case text := <-typedC:
			return audio.Segment{SampleRate: d.sampleRate, Hint: text}, nil
		case f := <-d.frames:
			speaking := det.Push(f)
			if !started {
				pre = append(pre, f...)
				if len(pre) > preRollBytes {
					pre = pre[len(pre)-preRollBytes:]
				}
				if !speaking {
					continue
				}
				started = true
				startC = nil
				typedC = nil
				phrase = append(phrase, pre...)
				pre = nil
				continue
			}

			phrase = append(phrase, f...)
			if speaking {
				silence = 0
			} else {
				silence += audio.PCMDuration(len(f), d.sampleRate)
			}
			if opts.PauseThreshold > 0 && silence >= opts.PauseThreshold {
				return audio.Segment{PCM: phrase, SampleRate: d.sampleRate}, nil
			}
			if opts.PhraseLimit > 0 && audio.PCMDuration(len(phrase), d.sampleRate) >= opts.PhraseLimit {
				return audio.Segment{PCM: phrase, SampleRate: d.sampleRate}, nil
			}
		}
	}
}
