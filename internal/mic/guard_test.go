package mic

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/heygemini/internal/audio"
)

func TestGuardRejectsForegroundWhileBackgroundHeld(t *testing.T) {
	dev := NewScriptedDevice()
	g := NewGuard(dev, 10*time.Millisecond)

	h, err := g.AcquireBackground(ListenOptions{}, func(context.Context, audio.Segment) {})
	if err != nil {
		t.Fatalf("AcquireBackground() error = %v", err)
	}
	if _, err := g.AcquireForeground(context.Background(), ListenOptions{StartTimeout: 10 * time.Millisecond}); !errors.Is(err, ErrResourceBusy) {
		t.Fatalf("AcquireForeground() error = %v, want ErrResourceBusy", err)
	}
	if _, err := g.AcquireBackground(ListenOptions{}, func(context.Context, audio.Segment) {}); !errors.Is(err, ErrResourceBusy) {
		t.Fatalf("second AcquireBackground() error = %v, want ErrResourceBusy", err)
	}

	g.Release(h)
	g.Release(h)
	if g.Busy() {
		t.Fatalf("Busy() = true after Release")
	}
	if _, err := g.AcquireForeground(context.Background(), ListenOptions{StartTimeout: 10 * time.Millisecond}); !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("AcquireForeground() error = %v, want ErrWaitTimeout", err)
	}
	if dev.MaxConcurrent() != 1 {
		t.Fatalf("MaxConcurrent() = %d, want 1", dev.MaxConcurrent())
	}
	if dev.Calibrations() != 1 {
		t.Fatalf("Calibrations() = %d, want 1", dev.Calibrations())
	}
}

func TestReleaseWaitsForSegmentHandler(t *testing.T) {
	dev := NewScriptedDevice()
	g := NewGuard(dev, time.Millisecond)

	entered := make(chan struct{})
	var finished atomic.Bool
	h, err := g.AcquireBackground(ListenOptions{}, func(ctx context.Context, seg audio.Segment) {
		close(entered)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})
	if err != nil {
		t.Fatalf("AcquireBackground() error = %v", err)
	}
	dev.Say("hello")
	<-entered

	g.Release(h)
	if !finished.Load() {
		t.Fatalf("Release() returned before the capture goroutine exited")
	}
}

func TestBackgroundDeliversSegmentsInOrder(t *testing.T) {
	dev := NewScriptedDevice()
	g := NewGuard(dev, time.Millisecond)

	got := make(chan string, 4)
	h, err := g.AcquireBackground(ListenOptions{PhraseLimit: 5 * time.Second}, func(_ context.Context, seg audio.Segment) {
		got <- seg.Hint
	})
	if err != nil {
		t.Fatalf("AcquireBackground() error = %v", err)
	}
	defer g.Release(h)

	dev.Say("one")
	dev.Say("two")
	for _, want := range []string{"one", "two"} {
		select {
		case text := <-got:
			if text != want {
				t.Fatalf("segment = %q, want %q", text, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func pcmFrame(samples int, amp int16) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestStreamDeviceEndsPhraseOnPause(t *testing.T) {
	dev := NewStreamDevice(16000)
	frame := 320 // 20ms

	done := make(chan audio.Segment, 1)
	errs := make(chan error, 1)
	go func() {
		seg, err := dev.Listen(context.Background(), ListenOptions{
			StartTimeout:   2 * time.Second,
			PauseThreshold: 200 * time.Millisecond,
		})
		if err != nil {
			errs <- err
			return
		}
		done <- seg
	}()

	// Let Listen drain its queue before speech arrives.
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 10; i++ {
		dev.Feed(pcmFrame(frame, 8000))
	}
	for i := 0; i < 12; i++ {
		dev.Feed(pcmFrame(frame, 0))
	}

	select {
	case err := <-errs:
		t.Fatalf("Listen() error = %v", err)
	case seg := <-done:
		if seg.Duration() < 200*time.Millisecond {
			t.Fatalf("segment duration = %s, want speech plus pause", seg.Duration())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Listen() did not return")
	}
}

func TestStreamDeviceStartTimeout(t *testing.T) {
	dev := NewStreamDevice(16000)
	dev.Feed(pcmFrame(320, 8000))

	_, err := dev.Listen(context.Background(), ListenOptions{StartTimeout: 30 * time.Millisecond})
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("Listen() error = %v, want ErrWaitTimeout", err)
	}
}

func TestStreamDeviceTypedText(t *testing.T) {
	dev := NewStreamDevice(16000)
	if !dev.FeedText("what time is it") {
		t.Fatalf("FeedText() = false")
	}
	seg, err := dev.Listen(context.Background(), ListenOptions{StartTimeout: time.Second})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if seg.Hint != "what time is it" {
		t.Fatalf("Hint = %q", seg.Hint)
	}
}
