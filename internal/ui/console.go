package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// ConsoleRenderer prints the chat window to a terminal.
type ConsoleRenderer struct {
	mu  sync.Mutex
	out io.Writer

	status    *color.Color
	user      *color.Color
	assistant *color.Color
}

func NewConsoleRenderer(out io.Writer, noColor bool) *ConsoleRenderer {
	r := &ConsoleRenderer{
		out:       out,
		status:    color.New(color.FgHiBlack),
		user:      color.New(color.FgCyan, color.Bold),
		assistant: color.New(color.FgGreen, color.Bold),
	}
	if noColor {
		for _, c := range []*color.Color{r.status, r.user, r.assistant} {
			c.DisableColor()
		}
	}
	return r
}

func (r *ConsoleRenderer) Render(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Type {
	case EventStatus:
		fmt.Fprintf(r.out, "%s\n", r.status.Sprintf("[%s]", ev.Text))
	case EventMessage:
		c := r.assistant
		if ev.Sender != assistantSender {
			c = r.user
		}
		fmt.Fprintf(r.out, "%s %s\n", c.Sprintf("%s:", ev.Sender), ev.Text)
	case EventAssistantStart:
		fmt.Fprintf(r.out, "%s ", r.assistant.Sprintf("%s:", ev.Sender))
	case EventAssistantDelta:
		fmt.Fprint(r.out, ev.Text)
	case EventAssistantEnd:
		fmt.Fprintln(r.out)
	}
}
