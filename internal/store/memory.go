package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/moodbridge/backend/internal/model/chat"
)

// MemoryStore keeps transcripts in process memory. It backs local
// development without a database and the test suite.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]chat.Turn
}

// NewMemoryStore bootstraps an empty in-memory transcript store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]chat.Turn)}
}

// Append records a turn at the end of the user's transcript.
func (s *MemoryStore) Append(_ context.Context, turn chat.Turn) error {
	if turn.UserID == "" {
		return ErrUserRequired
	}
	if turn.Text == "" && turn.Sender != chat.SenderAssistant {
		return ErrTextRequired
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.turns[turn.UserID] = append(s.turns[turn.UserID], turn)
	s.mu.Unlock()
	return nil
}

// ListForUser returns the user's turns in creation order.
func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]chat.Turn, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[userID]
	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}
