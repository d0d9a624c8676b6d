package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an authenticated account, created on first successful
// magic-link redemption.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserStore resolves emails to accounts.
type UserStore interface {
	FindOrCreate(ctx context.Context, email string) (User, error)
}

type userRecord struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Email     string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (userRecord) TableName() string { return "users" }

// GormUserStore persists accounts next to the chat transcript tables.
type GormUserStore struct {
	db *gorm.DB
}

func NewGormUserStore(db *gorm.DB) (*GormUserStore, error) {
	if err := db.AutoMigrate(&userRecord{}); err != nil {
		return nil, fmt.Errorf("migrate users table: %w", err)
	}
	return &GormUserStore{db: db}, nil
}

func (s *GormUserStore) FindOrCreate(ctx context.Context, email string) (User, error) {
	var record userRecord
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = userRecord{
			ID:        uuid.NewString(),
			Email:     email,
			CreatedAt: time.Now(),
		}
		if createErr := s.db.WithContext(ctx).Create(&record).Error; createErr != nil {
			// A concurrent redemption may have created the row first.
			if lookupErr := s.db.WithContext(ctx).Where("email = ?", email).First(&record).Error; lookupErr != nil {
				return User{}, fmt.Errorf("create user: %w", createErr)
			}
		}
	} else if err != nil {
		return User{}, fmt.Errorf("look up user: %w", err)
	}

	return User{ID: record.ID, Email: record.Email, CreatedAt: record.CreatedAt}, nil
}

// MemoryUserStore backs auth when no database is configured.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]User)}
}

func (s *MemoryUserStore) FindOrCreate(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.users[email]; ok {
		return user, nil
	}

	user := User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: time.Now(),
	}
	s.users[email] = user
	return user, nil
}
