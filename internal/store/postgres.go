package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/moodbridge/backend/internal/model/chat"
)

// turnRecord is the persisted form of a chat turn.
type turnRecord struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"type:varchar(255);not null;index:idx_turns_user_created,priority:1"`
	Sender    string    `gorm:"type:varchar(16);not null"`
	Text      string    `gorm:"type:text;not null"`
	Sentiment string    `gorm:"type:varchar(16)"`
	CreatedAt time.Time `gorm:"not null;index:idx_turns_user_created,priority:2"`
}

func (turnRecord) TableName() string {
	return "chat_turns"
}

// PostgresStore persists transcripts through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects to the database, runs migrations, and returns
// the durable transcript store.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&turnRecord{}); err != nil {
		return nil, fmt.Errorf("migrate chat_turns: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Append records a turn at the end of the user's transcript.
func (s *PostgresStore) Append(ctx context.Context, turn chat.Turn) error {
	if turn.UserID == "" {
		return ErrUserRequired
	}

	record := turnRecord{
		ID:        turn.ID,
		UserID:    turn.UserID,
		Sender:    string(turn.Sender),
		Text:      turn.Text,
		Sentiment: turn.Sentiment,
		CreatedAt: turn.CreatedAt,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// ListForUser returns the user's turns ordered by creation time ascending.
func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]chat.Turn, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	var records []turnRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}

	turns := make([]chat.Turn, 0, len(records))
	for _, record := range records {
		turns = append(turns, chat.Turn{
			ID:        record.ID,
			UserID:    record.UserID,
			Sender:    chat.Sender(record.Sender),
			Text:      record.Text,
			Sentiment: record.Sentiment,
			CreatedAt: record.CreatedAt,
		})
	}
	return turns, nil
}

// DB exposes the underlying gorm handle for shared schema owners.
func (s *PostgresStore) DB() *gorm.DB {
	return s.db
}
