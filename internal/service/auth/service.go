package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/moodbridge/backend/internal/config"
)

var (
	ErrEmailInvalid = errors.New("email address is invalid")
	ErrTokenInvalid = errors.New("session token is invalid")
)

// Claims is the JWT payload carried by every authenticated request.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service implements passwordless sign-in: an emailed one-time link
// that redeems for a signed session token.
type Service struct {
	cfg    config.AuthConfig
	links  LinkStore
	users  UserStore
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(cfg config.AuthConfig, links LinkStore, users UserStore, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		cfg:    cfg,
		links:  links,
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

// RequestLink mints a one-time token for the email and returns the
// sign-in link. There is no mailer here; the link is logged for the
// operator and echoed to the caller only when AUTH_ECHO_LINKS is set.
func (s *Service) RequestLink(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrEmailInvalid
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint link token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := s.links.Save(ctx, token, email, s.cfg.LinkTTL); err != nil {
		return "", err
	}

	link := fmt.Sprintf("%s?token=%s", s.cfg.LinkBase, url.QueryEscape(token))
	s.logger.Infow("magic link issued", "email", email, "link", link, "ttl", s.cfg.LinkTTL)
	return link, nil
}

// EchoLinks reports whether issued links should be returned to callers
// (development convenience only).
func (s *Service) EchoLinks() bool {
	return s.cfg.EchoLinks
}

// VerifyLink redeems a one-time token and returns a signed session
// token for the matching account, creating it on first sign-in.
func (s *Service) VerifyLink(ctx context.Context, token string) (string, User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", User{}, ErrLinkInvalid
	}

	email, err := s.links.Redeem(ctx, token)
	if err != nil {
		return "", User{}, err
	}

	user, err := s.users.FindOrCreate(ctx, email)
	if err != nil {
		return "", User{}, err
	}

	sessionToken, err := s.mintSessionToken(user)
	if err != nil {
		return "", User{}, err
	}

	s.logger.Infow("magic link redeemed", "user", user.ID, "email", user.Email)
	return sessionToken, user, nil
}

func (s *Service) mintSessionToken(user User) (string, error) {
	now := s.now()
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.SessionTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken validates a session token and returns its claims.
func (s *Service) ParseSessionToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
