package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps history for the lifetime of the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryStore) RecentContext(_ context.Context, conversationID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		if conversationID != "" && r.ConversationID != conversationID {
			continue
		}
		out = append(out, r)
	}
	reverse(out)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func reverse(items []TurnRecord) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
