package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLinkInvalid covers unknown, expired, and already-redeemed tokens
// alike, so a caller can't probe which failure it was.
var ErrLinkInvalid = errors.New("magic link is invalid or expired")

// LinkStore keeps one-time magic-link tokens until they expire or are
// redeemed, whichever comes first.
type LinkStore interface {
	Save(ctx context.Context, token, email string, ttl time.Duration) error
	// Redeem returns the email bound to the token and consumes it.
	Redeem(ctx context.Context, token string) (string, error)
}

const linkKeyPrefix = "moodbridge:magic-link:"

// RedisLinkStore keeps tokens in redis, which gives TTL and single-use
// redemption (GETDEL) for free across replicas.
type RedisLinkStore struct {
	client *redis.Client
}

func NewRedisLinkStore(client *redis.Client) *RedisLinkStore {
	return &RedisLinkStore{client: client}
}

func (s *RedisLinkStore) Save(ctx context.Context, token, email string, ttl time.Duration) error {
	if err := s.client.Set(ctx, linkKeyPrefix+token, email, ttl).Err(); err != nil {
		return fmt.Errorf("save magic link: %w", err)
	}
	return nil
}

func (s *RedisLinkStore) Redeem(ctx context.Context, token string) (string, error) {
	email, err := s.client.GetDel(ctx, linkKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrLinkInvalid
	}
	if err != nil {
		return "", fmt.Errorf("redeem magic link: %w", err)
	}
	return email, nil
}

type memoryLink struct {
	email     string
	expiresAt time.Time
}

// MemoryLinkStore is the single-process fallback used when redis is not
// configured, and in tests.
type MemoryLinkStore struct {
	now func() time.Time

	mu    sync.Mutex
	links map[string]memoryLink
}

func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{
		now:   time.Now,
		links: make(map[string]memoryLink),
	}
}

func (s *MemoryLinkStore) Save(_ context.Context, token, email string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	// Drop whatever already expired while we're here.
	for key, link := range s.links {
		if now.After(link.expiresAt) {
			delete(s.links, key)
		}
	}

	s.links[token] = memoryLink{email: email, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryLinkStore) Redeem(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[token]
	if !ok {
		return "", ErrLinkInvalid
	}
	delete(s.links, token)

	if s.now().After(link.expiresAt) {
		return "", ErrLinkInvalid
	}
	return link.email, nil
}
