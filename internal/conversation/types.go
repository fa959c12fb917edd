// Package conversation holds the session state machine that moves between
// wake-word listening, single command capture and continuous conversation.
package conversation

import (
	"context"
	"time"
)

// State is the session state. Values are stored atomically.
type State int32

const (
	Idle State = iota
	SingleTurn
	Continuous
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SingleTurn:
		return "single_turn"
	case Continuous:
		return "continuous"
	default:
		return "unknown"
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation history. Turns are never mutated
// after they are appended.
type Turn struct {
	ID      string    `json:"id"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// WakeListener is the background wake-word detector. Stop must return only
// after the microphone has been released.
type WakeListener interface {
	Start(activationName string, onDetected func()) error
	Stop()
}

// CommandSource captures one spoken command. ok is false when nothing usable
// was heard.
type CommandSource interface {
	Capture(ctx context.Context) (text string, ok bool)
}

// UISink receives chat window updates. Implementations must be safe to call
// from any goroutine.
type UISink interface {
	SetStatus(text string)
	AddMessage(sender, text string)
	StartAssistantMessage()
	UpdateAssistantMessage(fragment string)
	EndAssistantMessage()
}

// Speaker reads a reply aloud.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// TurnRecorder persists turns outside the live session.
type TurnRecorder interface {
	Record(ctx context.Context, conversationID, role, content string)
}

// Sender names shown in the chat window.
const (
	SenderUser      = "You"
	SenderAssistant = "Assistant"
)
