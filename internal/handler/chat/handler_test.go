package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/moodbridge/backend/internal/middleware"
	"github.com/moodbridge/backend/internal/model/chat"
	sessionService "github.com/moodbridge/backend/internal/service/session"
	"github.com/moodbridge/backend/internal/store"
)

type stubCompleter struct {
	reply string
	err   error
	block chan struct{}
}

func (c *stubCompleter) Complete(ctx context.Context, _ []chat.Turn, _ string) (string, error) {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

// asUser injects the authenticated user the way the auth middleware
// would.
func asUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), userID)))
		})
	}
}

func setupRouter(completer sessionService.Completer) (*chi.Mux, *sessionService.Manager) {
	sessions := sessionService.NewManager(sessionService.Deps{
		Store:     store.NewMemoryStore(),
		Completer: completer,
		Location:  time.UTC,
		Timeouts: sessionService.Timeouts{
			Completion: time.Second,
			Speech:     time.Second,
			Store:      time.Second,
		},
	})
	handler := New(sessions, nil)

	r := chi.NewRouter()
	r.Use(asUser("test-user"))
	handler.RegisterRoutes(r)
	return r, sessions
}

func postMessage(t *testing.T, r http.Handler, message string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"message": message})
	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestSubmitMessageReturnsBothTurns(t *testing.T) {
	r, _ := setupRouter(&stubCompleter{reply: "I hear you"})

	resp := postMessage(t, r, "I had a rough day")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Submitted bool      `json:"submitted"`
		User      chat.Turn `json:"user"`
		Assistant chat.Turn `json:"assistant"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Submitted {
		t.Fatal("expected submitted=true")
	}
	if body.User.Text != "I had a rough day" || body.User.Sender != chat.SenderUser {
		t.Fatalf("unexpected user turn: %+v", body.User)
	}
	if body.Assistant.Text != "I hear you" || body.Assistant.Sender != chat.SenderAssistant {
		t.Fatalf("unexpected assistant turn: %+v", body.Assistant)
	}
}

func TestSubmitWhitespaceIsNotSubmitted(t *testing.T) {
	r, _ := setupRouter(&stubCompleter{reply: "unused"})

	resp := postMessage(t, r, "   ")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"submitted":false`) {
		t.Fatalf("expected submitted=false, got %s", resp.Body.String())
	}
}

func TestSubmitConflictWhileReplying(t *testing.T) {
	completer := &stubCompleter{reply: "done", block: make(chan struct{})}
	r, sessions := setupRouter(completer)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		payload, _ := json.Marshal(map[string]string{"message": "first"})
		req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(payload))
		r.ServeHTTP(httptest.NewRecorder(), req)
	}()

	s := sessions.Attach(context.Background(), "test-user")
	deadline := time.After(time.Second)
	for !s.Pending() {
		select {
		case <-deadline:
			t.Fatal("first submission never reached pending")
		case <-time.After(time.Millisecond):
		}
	}

	resp := postMessage(t, r, "second")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}

	close(completer.block)
	<-firstDone
}

func TestSubmitCompletionFailureReturnsBadGateway(t *testing.T) {
	r, sessions := setupRouter(&stubCompleter{err: errors.New("model down")})

	resp := postMessage(t, r, "hello")
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}

	s := sessions.Attach(context.Background(), "test-user")
	if len(s.Turns()) != 1 {
		t.Fatalf("expected only the user turn, got %d", len(s.Turns()))
	}
	if !strings.Contains(resp.Body.String(), "error") {
		t.Fatalf("expected an error message, got %s", resp.Body.String())
	}
}

func TestTranscriptAndState(t *testing.T) {
	r, _ := setupRouter(&stubCompleter{reply: "reply"})
	postMessage(t, r, "hello")

	req := httptest.NewRequest(http.MethodGet, "/transcript", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("transcript: expected 200, got %d", resp.Code)
	}
	var transcript struct {
		Turns []chat.Turn `json:"turns"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &transcript); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(transcript.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(transcript.Turns))
	}

	req = httptest.NewRequest(http.MethodGet, "/state", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("state: expected 200, got %d", resp.Code)
	}
	var state sessionService.State
	if err := json.Unmarshal(resp.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Pending || state.TurnCount != 2 {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestGroupedTranscript(t *testing.T) {
	r, _ := setupRouter(&stubCompleter{reply: "reply"})
	postMessage(t, r, "hello")

	req := httptest.NewRequest(http.MethodGet, "/transcript/grouped", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var grouped chat.GroupedView
	if err := json.Unmarshal(resp.Body.Bytes(), &grouped); err != nil {
		t.Fatalf("decode grouped view: %v", err)
	}
	if len(grouped.Dates) != 1 {
		t.Fatalf("expected a single date group, got %d", len(grouped.Dates))
	}
	if len(grouped.Groups[grouped.Dates[0]]) != 2 {
		t.Fatalf("expected both turns in the group")
	}
}

func TestExportDownload(t *testing.T) {
	r, _ := setupRouter(&stubCompleter{reply: "reply"})
	postMessage(t, r, "hello")

	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type: %q", got)
	}
	if got := resp.Header().Get("Content-Disposition"); !strings.Contains(got, "moodbridge-transcript-") {
		t.Fatalf("unexpected content disposition: %q", got)
	}

	lines := strings.Split(strings.TrimRight(resp.Body.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 export lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "You: hello") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "MoodBridge: reply") {
		t.Fatalf("unexpected second line: %q", lines[1])
	}
}

func TestLatestClipNotFoundWithoutSpeech(t *testing.T) {
	r, _ := setupRouter(&stubCompleter{reply: "reply"})
	postMessage(t, r, "hello")

	req := httptest.NewRequest(http.MethodGet, "/voice/latest", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestInvalidBodyRejected(t *testing.T) {
	r, _ := setupRouter(&stubCompleter{reply: "unused"})

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("{not json"))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
