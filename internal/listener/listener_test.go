package listener

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/heygemini/internal/mic"
	"github.com/antoniostano/heygemini/internal/stt"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"hey gemini", true},
		{"Hey GEMINI what's up", true},
		{"geminis are twins", true},
		{"hey jim", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := Matches(tc.text, "Gemini"); got != tc.want {
			t.Fatalf("Matches(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
	if Matches("anything", "  ") {
		t.Fatalf("Matches() with blank name = true")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestWakeWordListenerFiresOncePerMatchingUtterance(t *testing.T) {
	dev := mic.NewScriptedDevice()
	guard := mic.NewGuard(dev, time.Millisecond)
	l := NewWakeWordListener(guard, stt.Mock{}, mic.ListenOptions{PhraseLimit: 5 * time.Second}, nil, false)

	var fired atomic.Int32
	if err := l.Start("gemini", func() { fired.Add(1) }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := l.Start("gemini", func() { fired.Add(100) }); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	dev.Say("hey jim")
	dev.Say("hey gemini")
	dev.Say("")
	dev.Say("okay Gemini, lights")
	waitFor(t, func() bool { return dev.Pending() == 0 && fired.Load() == 2 })

	l.Stop()
	if l.Active() {
		t.Fatalf("Active() = true after Stop")
	}
	if guard.Busy() {
		t.Fatalf("guard still busy after Stop")
	}
	l.Stop()

	if fired.Load() != 2 {
		t.Fatalf("detections = %d, want 2", fired.Load())
	}
}

func TestStopThenCaptureSharesDevice(t *testing.T) {
	dev := mic.NewScriptedDevice()
	guard := mic.NewGuard(dev, time.Millisecond)
	l := NewWakeWordListener(guard, stt.Mock{}, mic.ListenOptions{}, nil, false)
	c := NewCommandCapture(guard, stt.Mock{}, mic.ListenOptions{StartTimeout: 50 * time.Millisecond}, nil)

	detected := make(chan struct{}, 1)
	if err := l.Start("gemini", func() { detected <- struct{}{} }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	dev.Say("gemini")
	<-detected
	l.Stop()

	dev.Say("what time is it")
	text, ok := c.Capture(context.Background())
	if !ok || text != "what time is it" {
		t.Fatalf("Capture() = %q, %v", text, ok)
	}
	if dev.MaxConcurrent() != 1 {
		t.Fatalf("MaxConcurrent() = %d, want 1", dev.MaxConcurrent())
	}
}

func TestCaptureReportsNoCommand(t *testing.T) {
	dev := mic.NewScriptedDevice()
	guard := mic.NewGuard(dev, time.Millisecond)
	c := NewCommandCapture(guard, stt.Mock{}, mic.ListenOptions{StartTimeout: 20 * time.Millisecond}, nil)

	if text, ok := c.Capture(context.Background()); ok {
		t.Fatalf("Capture() on silence = %q, true", text)
	}

	dev.Say("   ")
	if text, ok := c.Capture(context.Background()); ok {
		t.Fatalf("Capture() on unintelligible speech = %q, true", text)
	}
}

func TestCaptureWhileBackgroundHeldIsNoCommand(t *testing.T) {
	dev := mic.NewScriptedDevice()
	guard := mic.NewGuard(dev, time.Millisecond)
	l := NewWakeWordListener(guard, stt.Mock{}, mic.ListenOptions{}, nil, false)
	c := NewCommandCapture(guard, stt.Mock{}, mic.ListenOptions{StartTimeout: 20 * time.Millisecond}, nil)

	if err := l.Start("gemini", func() {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer l.Stop()

	if _, ok := c.Capture(context.Background()); ok {
		t.Fatalf("Capture() succeeded while background capture held the microphone")
	}
}
