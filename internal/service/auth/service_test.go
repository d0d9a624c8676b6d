package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/moodbridge/backend/internal/config"
)

func testService() *Service {
	return NewService(config.AuthConfig{
		JWTSecret:  "test-secret",
		SessionTTL: time.Hour,
		LinkTTL:    15 * time.Minute,
		LinkBase:   "http://localhost:3000/login",
	}, NewMemoryLinkStore(), NewMemoryUserStore(), nil)
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	token := parsed.Query().Get("token")
	if token == "" {
		t.Fatalf("link carries no token: %s", link)
	}
	return token
}

func TestMagicLinkRoundTrip(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	link, err := svc.RequestLink(ctx, "Person@Example.com")
	if err != nil {
		t.Fatalf("RequestLink err: %v", err)
	}
	if !strings.HasPrefix(link, "http://localhost:3000/login?token=") {
		t.Fatalf("unexpected link shape: %s", link)
	}

	sessionToken, user, err := svc.VerifyLink(ctx, tokenFromLink(t, link))
	if err != nil {
		t.Fatalf("VerifyLink err: %v", err)
	}
	if user.Email != "person@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.ID == "" {
		t.Fatal("expected a user id")
	}

	claims, err := svc.ParseSessionToken(sessionToken)
	if err != nil {
		t.Fatalf("ParseSessionToken err: %v", err)
	}
	if claims.Subject != user.ID {
		t.Fatalf("claims subject %q != user id %q", claims.Subject, user.ID)
	}
	if claims.Email != user.Email {
		t.Fatalf("claims email %q != user email %q", claims.Email, user.Email)
	}
}

func TestMagicLinkIsSingleUse(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	link, err := svc.RequestLink(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("RequestLink err: %v", err)
	}
	token := tokenFromLink(t, link)

	if _, _, err := svc.VerifyLink(ctx, token); err != nil {
		t.Fatalf("first redemption err: %v", err)
	}
	if _, _, err := svc.VerifyLink(ctx, token); !errors.Is(err, ErrLinkInvalid) {
		t.Fatalf("second redemption must fail with ErrLinkInvalid, got %v", err)
	}
}

func TestMagicLinkExpires(t *testing.T) {
	links := NewMemoryLinkStore()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	links.now = func() time.Time { return current }

	svc := NewService(config.AuthConfig{
		JWTSecret:  "test-secret",
		SessionTTL: time.Hour,
		LinkTTL:    15 * time.Minute,
		LinkBase:   "http://localhost:3000/login",
	}, links, NewMemoryUserStore(), nil)

	link, err := svc.RequestLink(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("RequestLink err: %v", err)
	}

	current = base.Add(16 * time.Minute)
	if _, _, err := svc.VerifyLink(context.Background(), tokenFromLink(t, link)); !errors.Is(err, ErrLinkInvalid) {
		t.Fatalf("expired link must fail with ErrLinkInvalid, got %v", err)
	}
}

func TestRequestLinkRejectsBadEmail(t *testing.T) {
	svc := testService()
	for _, email := range []string{"", "   ", "not-an-email", "@example.com"} {
		if _, err := svc.RequestLink(context.Background(), email); !errors.Is(err, ErrEmailInvalid) {
			t.Fatalf("RequestLink(%q): expected ErrEmailInvalid, got %v", email, err)
		}
	}
}

func TestRepeatSignInKeepsUserID(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	link1, _ := svc.RequestLink(ctx, "a@example.com")
	_, first, err := svc.VerifyLink(ctx, tokenFromLink(t, link1))
	if err != nil {
		t.Fatalf("VerifyLink err: %v", err)
	}

	link2, _ := svc.RequestLink(ctx, "a@example.com")
	_, second, err := svc.VerifyLink(ctx, tokenFromLink(t, link2))
	if err != nil {
		t.Fatalf("VerifyLink err: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("same email minted two accounts: %s vs %s", first.ID, second.ID)
	}
}

func TestParseSessionTokenRejectsTampering(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	link, _ := svc.RequestLink(ctx, "a@example.com")
	sessionToken, _, err := svc.VerifyLink(ctx, tokenFromLink(t, link))
	if err != nil {
		t.Fatalf("VerifyLink err: %v", err)
	}

	other := NewService(config.AuthConfig{
		JWTSecret:  "different-secret",
		SessionTTL: time.Hour,
		LinkTTL:    15 * time.Minute,
		LinkBase:   "http://localhost:3000/login",
	}, NewMemoryLinkStore(), NewMemoryUserStore(), nil)

	if _, err := other.ParseSessionToken(sessionToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("foreign-secret token must fail, got %v", err)
	}
	if _, err := svc.ParseSessionToken(sessionToken + "x"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("tampered token must fail, got %v", err)
	}
	if _, err := svc.ParseSessionToken("not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage token must fail, got %v", err)
	}
}
