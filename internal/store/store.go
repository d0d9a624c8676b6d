package store

import (
	"context"
	"errors"

	"github.com/moodbridge/backend/internal/model/chat"
)

var (
	ErrUserRequired = errors.New("user id is required")
	ErrTextRequired = errors.New("turn text is required")
)

// TranscriptStore is the durable system of record for conversation
// turns. Entries are append-only and listed in creation order.
type TranscriptStore interface {
	Append(ctx context.Context, turn chat.Turn) error
	ListForUser(ctx context.Context, userID string) ([]chat.Turn, error)
}
