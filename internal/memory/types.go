package memory

import (
	"context"
	"time"
)

// TurnRecord stores a single user or assistant turn of a conversation.
type TurnRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	PIIRedacted    bool      `json:"pii_redacted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists and retrieves conversation history.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// RecentContext returns up to limit turns in chronological order. An
	// empty conversationID spans all conversations.
	RecentContext(ctx context.Context, conversationID string, limit int) ([]TurnRecord, error)
	Close() error
}

const defaultRecentLimit = 10
