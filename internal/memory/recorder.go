package memory

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/heygemini/internal/policy"
)

const recordTimeout = 2 * time.Second

// Recorder saves turns best-effort: content is redacted first and failures
// are logged, never returned, so history can not stall a conversation.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Record(ctx context.Context, conversationID, role, content string) {
	if r == nil || r.store == nil {
		return
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	redacted, changed := policy.RedactPII(content)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	err := r.store.SaveTurn(ctx, TurnRecord{
		ConversationID: conversationID,
		Role:           role,
		Content:        redacted,
		PIIRedacted:    changed,
	})
	if err != nil {
		log.Printf("memory: save %s turn failed: %v", role, err)
	}
}
