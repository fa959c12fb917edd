package ui

import (
	"strings"
	"time"
)

type EventType string

const (
	EventStatus         EventType = "status"
	EventMessage        EventType = "message"
	EventAssistantStart EventType = "assistant_start"
	EventAssistantDelta EventType = "assistant_delta"
	EventAssistantEnd   EventType = "assistant_end"
)

// Event is one change to the chat window, as delivered to renderers.
type Event struct {
	Type   EventType `json:"type"`
	Sender string    `json:"sender,omitempty"`
	Text   string    `json:"text,omitempty"`
	At     time.Time `json:"at"`
}

// Message is one line of the transcript.
type Message struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Streaming bool      `json:"streaming,omitempty"`
	At        time.Time `json:"at"`
}

// Snapshot is the whole window state.
type Snapshot struct {
	Status   string    `json:"status"`
	Messages []Message `json:"messages"`
}

// Renderer draws events. Render is always called on the dispatcher goroutine
// and must not block for long.
type Renderer interface {
	Render(ev Event)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ev Event)

func (f RendererFunc) Render(ev Event) { f(ev) }

const assistantSender = "Assistant"

// Window is the chat window model. All methods are safe from any goroutine.
type Window struct {
	d *Dispatcher

	// Owned by the dispatcher goroutine.
	status    string
	messages  []Message
	streaming int
	renderers map[int]Renderer
	nextID    int
}

func NewWindow(d *Dispatcher) *Window {
	return &Window{d: d, streaming: -1, renderers: map[int]Renderer{}}
}

// Subscribe adds r and returns a function that removes it.
func (w *Window) Subscribe(r Renderer) (unsubscribe func()) {
	var id int
	w.d.Call(func() {
		id = w.nextID
		w.nextID++
		w.renderers[id] = r
	})
	return func() {
		w.d.Dispatch(func() { delete(w.renderers, id) })
	}
}

// Attach subscribes r after handing the current state to init. Both run on
// the dispatcher goroutine, so r sees every event after the snapshot and none
// before it.
func (w *Window) Attach(r Renderer, init func(Snapshot)) (detach func()) {
	var id int
	w.d.Call(func() {
		init(w.snapshotLocked())
		id = w.nextID
		w.nextID++
		w.renderers[id] = r
	})
	return func() {
		w.d.Dispatch(func() { delete(w.renderers, id) })
	}
}

func (w *Window) Snapshot() Snapshot {
	var snap Snapshot
	w.d.Call(func() { snap = w.snapshotLocked() })
	return snap
}

func (w *Window) snapshotLocked() Snapshot {
	return Snapshot{
		Status:   w.status,
		Messages: append([]Message(nil), w.messages...),
	}
}

func (w *Window) emit(ev Event) {
	ev.At = time.Now().UTC()
	for _, r := range w.renderers {
		r.Render(ev)
	}
}

func (w *Window) SetStatus(text string) {
	w.d.Dispatch(func() {
		w.status = text
		w.emit(Event{Type: EventStatus, Text: text})
	})
}

func (w *Window) AddMessage(sender, text string) {
	w.d.Dispatch(func() {
		w.messages = append(w.messages, Message{Sender: sender, Text: text, At: time.Now().UTC()})
		w.emit(Event{Type: EventMessage, Sender: sender, Text: text})
	})
}

func (w *Window) StartAssistantMessage() {
	w.d.Dispatch(func() {
		w.endStreamingLocked()
		w.messages = append(w.messages, Message{Sender: assistantSender, Streaming: true, At: time.Now().UTC()})
		w.streaming = len(w.messages) - 1
		w.emit(Event{Type: EventAssistantStart, Sender: assistantSender})
	})
}

// UpdateAssistantMessage appends to the open assistant message. Fragments
// arriving with no message open are dropped.
func (w *Window) UpdateAssistantMessage(fragment string) {
	w.d.Dispatch(func() {
		if w.streaming < 0 || fragment == "" {
			return
		}
		w.messages[w.streaming].Text += fragment
		w.emit(Event{Type: EventAssistantDelta, Sender: assistantSender, Text: fragment})
	})
}

func (w *Window) EndAssistantMessage() {
	w.d.Dispatch(w.endStreamingLocked)
}

func (w *Window) endStreamingLocked() {
	if w.streaming < 0 {
		return
	}
	m := &w.messages[w.streaming]
	m.Streaming = false
	m.Text = strings.TrimSpace(m.Text)
	w.streaming = -1
	w.emit(Event{Type: EventAssistantEnd, Sender: assistantSender, Text: m.Text})
}
