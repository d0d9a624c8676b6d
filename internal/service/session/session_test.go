package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moodbridge/backend/internal/analysis/sentiment"
	"github.com/moodbridge/backend/internal/model/chat"
	sessionsvc "github.com/moodbridge/backend/internal/service/session"
	"github.com/moodbridge/backend/internal/store"
)

type recordingStore struct {
	mu         sync.Mutex
	appended   []chat.Turn
	hydration  []chat.Turn
	failAppend bool
	failList   bool
}

func (s *recordingStore) Append(_ context.Context, turn chat.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return errors.New("store unavailable")
	}
	s.appended = append(s.appended, turn)
	return nil
}

func (s *recordingStore) ListForUser(_ context.Context, _ string) ([]chat.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, errors.New("store unavailable")
	}
	return append([]chat.Turn(nil), s.hydration...), nil
}

type scriptedCompleter struct {
	reply string
	err   error
	// block, when set, holds the call until released or ctx ends.
	block chan struct{}
}

func (c *scriptedCompleter) Complete(ctx context.Context, _ []chat.Turn, _ string) (string, error) {
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

type scriptedSpeaker struct {
	mu    sync.Mutex
	audio []byte
	err   error
	calls int
}

func (s *scriptedSpeaker) Synthesize(_ context.Context, _ string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte(nil), s.audio...), nil
}

type managerOption func(*sessionsvc.Deps)

func withSpeaker(s sessionsvc.Synthesizer) managerOption {
	return func(d *sessionsvc.Deps) { d.Speaker = s }
}

func withNow(now func() time.Time) managerOption {
	return func(d *sessionsvc.Deps) { d.Now = now }
}

func newManager(st store.TranscriptStore, completer sessionsvc.Completer, opts ...managerOption) *sessionsvc.Manager {
	deps := sessionsvc.Deps{
		Store:     st,
		Completer: completer,
		Location:  time.UTC,
		Timeouts: sessionsvc.Timeouts{
			Completion: time.Second,
			Speech:     time.Second,
			Store:      time.Second,
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return sessionsvc.NewManager(deps)
}

func TestSubmitAppendsUserThenAssistant(t *testing.T) {
	st := &recordingStore{}
	completer := &scriptedCompleter{reply: "It's okay to feel that way"}
	mgr := newManager(st, completer)

	s := mgr.Attach(context.Background(), "u1")
	result, err := s.Submit(context.Background(), "I feel anxious today")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result for non-empty input")
	}

	turns := s.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Sender != chat.SenderUser || turns[0].Text != "I feel anxious today" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Sender != chat.SenderAssistant || turns[1].Text != "It's okay to feel that way" {
		t.Fatalf("unexpected assistant turn: %+v", turns[1])
	}
	if turns[1].Sentiment != string(sentiment.Neutral) {
		t.Fatalf("expected neutral sentiment, got %q", turns[1].Sentiment)
	}
	if turns[0].CreatedAt.After(turns[1].CreatedAt) {
		t.Fatal("user turn must not be stamped after the assistant turn")
	}

	if len(st.appended) != 2 {
		t.Fatalf("expected both turns persisted, got %d", len(st.appended))
	}
	if s.Pending() {
		t.Fatal("pending must end false")
	}
	if s.LastError() != "" {
		t.Fatalf("expected empty lastError, got %q", s.LastError())
	}
}

func TestSubmitEmptyInputIsNoOp(t *testing.T) {
	st := &recordingStore{}
	mgr := newManager(st, &scriptedCompleter{reply: "unused"})
	s := mgr.Attach(context.Background(), "u1")

	for _, input := range []string{"", "   ", "\n\t "} {
		result, err := s.Submit(context.Background(), input)
		if err != nil {
			t.Fatalf("Submit(%q) err: %v", input, err)
		}
		if result != nil {
			t.Fatalf("Submit(%q) produced a result", input)
		}
	}

	if len(s.Turns()) != 0 {
		t.Fatalf("turns changed on empty input: %d", len(s.Turns()))
	}
	if s.Pending() || s.LastError() != "" {
		t.Fatal("state changed on empty input")
	}
	if len(st.appended) != 0 {
		t.Fatal("empty input must not be persisted")
	}
}

func TestSubmitCompletionFailure(t *testing.T) {
	st := &recordingStore{}
	completer := &scriptedCompleter{err: errors.New("model unreachable")}
	mgr := newManager(st, completer)
	s := mgr.Attach(context.Background(), "u1")

	if _, err := s.Submit(context.Background(), "hello"); err == nil {
		t.Fatal("expected completion error")
	}

	turns := s.Turns()
	if len(turns) != 1 {
		t.Fatalf("expected only the user turn, got %d", len(turns))
	}
	if turns[0].Sender != chat.SenderUser {
		t.Fatalf("unexpected sender: %s", turns[0].Sender)
	}
	if s.Pending() {
		t.Fatal("pending must return to false")
	}
	if s.LastError() == "" {
		t.Fatal("lastError must be set")
	}

	// The session accepts new input immediately.
	completer.err = nil
	completer.reply = "still here"
	if _, err := s.Submit(context.Background(), "are you there?"); err != nil {
		t.Fatalf("Submit after failure err: %v", err)
	}
	if s.LastError() != "" {
		t.Fatalf("lastError must clear on the next attempt, got %q", s.LastError())
	}
	if len(s.Turns()) != 3 {
		t.Fatalf("expected 3 turns after recovery, got %d", len(s.Turns()))
	}
}

func TestSubmitStoreFailureIsNonFatal(t *testing.T) {
	st := &recordingStore{failAppend: true}
	mgr := newManager(st, &scriptedCompleter{reply: "saved or not, I'm here"})
	s := mgr.Attach(context.Background(), "u1")

	result, err := s.Submit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if result == nil {
		t.Fatal("cycle must complete despite store failure")
	}

	if len(s.Turns()) != 2 {
		t.Fatalf("in-memory transcript must keep both turns, got %d", len(s.Turns()))
	}
	if s.Pending() {
		t.Fatal("pending must end false")
	}
	if s.LastError() == "" {
		t.Fatal("store failure surfaces as a soft warning")
	}
}

func TestSubmitRejectsOverlappingCycle(t *testing.T) {
	st := &recordingStore{}
	completer := &scriptedCompleter{reply: "done", block: make(chan struct{})}
	mgr := newManager(st, completer)
	s := mgr.Attach(context.Background(), "u1")

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "first")
		firstDone <- err
	}()

	// Wait until the first cycle is awaiting completion.
	deadline := time.After(time.Second)
	for !s.Pending() {
		select {
		case <-deadline:
			t.Fatal("first cycle never reached pending")
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := s.Submit(context.Background(), "second"); !errors.Is(err, sessionsvc.ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	close(completer.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Submit err: %v", err)
	}
	if len(s.Turns()) != 2 {
		t.Fatalf("rejected submission must not leave turns behind, got %d", len(s.Turns()))
	}
}

func TestSpeechFailureStaysSilent(t *testing.T) {
	st := &recordingStore{}
	speaker := &scriptedSpeaker{err: errors.New("tts down")}
	mgr := newManager(st, &scriptedCompleter{reply: "I hear you"}, withSpeaker(speaker))
	s := mgr.Attach(context.Background(), "u1")

	if _, err := s.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	if len(s.Turns()) != 2 {
		t.Fatal("assistant turn must remain recorded")
	}
	if s.LastError() != "" {
		t.Fatalf("speech failure must not surface, got %q", s.LastError())
	}
	if _, ok := s.Clip(); ok {
		t.Fatal("no clip should be staged on synthesis failure")
	}
}

func TestSpeechClipSupersedesPrevious(t *testing.T) {
	st := &recordingStore{}
	speaker := &scriptedSpeaker{audio: []byte("clip")}
	mgr := newManager(st, &scriptedCompleter{reply: "reply"}, withSpeaker(speaker))
	s := mgr.Attach(context.Background(), "u1")

	if _, err := s.Submit(context.Background(), "one"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	first, ok := s.Clip()
	if !ok {
		t.Fatal("expected a staged clip")
	}

	if _, err := s.Submit(context.Background(), "two"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	second, ok := s.Clip()
	if !ok {
		t.Fatal("expected a staged clip after second cycle")
	}
	if first == second {
		t.Fatal("second synthesis must stage a new clip")
	}
	if _, _, ok := first.Bytes(); ok {
		t.Fatal("superseded clip must be released")
	}
	if audio, mimeType, ok := second.Bytes(); !ok || mimeType != "audio/mpeg" || len(audio) == 0 {
		t.Fatal("current clip must stay playable")
	}
	if speaker.calls != 2 {
		t.Fatalf("expected 2 synthesis calls, got %d", speaker.calls)
	}
}

func TestCloseAbandonsInFlightCycle(t *testing.T) {
	st := &recordingStore{}
	completer := &scriptedCompleter{reply: "never", block: make(chan struct{})}
	mgr := newManager(st, completer)
	s := mgr.Attach(context.Background(), "u1")

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "hello")
		done <- err
	}()

	deadline := time.After(time.Second)
	for !s.Pending() {
		select {
		case <-deadline:
			t.Fatal("cycle never reached pending")
		case <-time.After(time.Millisecond):
		}
	}

	mgr.Detach("u1")

	if err := <-done; err == nil {
		t.Fatal("abandoned cycle must report an error")
	}
	turns := s.Turns()
	if len(turns) != 1 {
		t.Fatalf("no state mutation after teardown, got %d turns", len(turns))
	}
}

func TestHydrationLoadsStoredTranscript(t *testing.T) {
	st := &recordingStore{hydration: []chat.Turn{
		{UserID: "u1", Sender: chat.SenderUser, Text: "earlier", CreatedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		{UserID: "u1", Sender: chat.SenderAssistant, Text: "welcome back", CreatedAt: time.Date(2024, 1, 1, 9, 0, 5, 0, time.UTC)},
	}}
	mgr := newManager(st, &scriptedCompleter{reply: "again"})

	s := mgr.Attach(context.Background(), "u1")
	if len(s.Turns()) != 2 {
		t.Fatalf("expected hydrated transcript, got %d turns", len(s.Turns()))
	}

	// Same user attaches again: same live session, no re-hydration.
	if again := mgr.Attach(context.Background(), "u1"); again != s {
		t.Fatal("expected the live session to be reused")
	}
}

func TestHydrationFailureStartsEmpty(t *testing.T) {
	st := &recordingStore{failList: true}
	mgr := newManager(st, &scriptedCompleter{reply: "hi"})

	s := mgr.Attach(context.Background(), "u1")
	if len(s.Turns()) != 0 {
		t.Fatal("hydration failure must start the session empty")
	}

	if _, err := s.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
}

func TestTimestampsNeverRegress(t *testing.T) {
	stamps := []time.Time{
		time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 9, 59, 0, 0, time.UTC), // clock steps back
	}
	idx := 0
	now := func() time.Time {
		stamp := stamps[idx%len(stamps)]
		idx++
		return stamp
	}

	mgr := newManager(&recordingStore{}, &scriptedCompleter{reply: "ok"}, withNow(now))
	s := mgr.Attach(context.Background(), "u1")

	if _, err := s.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	turns := s.Turns()
	if turns[1].CreatedAt.Before(turns[0].CreatedAt) {
		t.Fatalf("timestamps regressed: %v then %v", turns[0].CreatedAt, turns[1].CreatedAt)
	}
}

func TestSessionsAreIndependentAcrossUsers(t *testing.T) {
	st := &recordingStore{}
	mgr := newManager(st, &scriptedCompleter{reply: "hello"})

	s1 := mgr.Attach(context.Background(), "u1")
	s2 := mgr.Attach(context.Background(), "u2")

	if _, err := s1.Submit(context.Background(), "only mine"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	if len(s2.Turns()) != 0 {
		t.Fatal("turns leaked across sessions")
	}
}

func TestSubscribeSeesTypingIndicator(t *testing.T) {
	st := &recordingStore{}
	completer := &scriptedCompleter{reply: "done", block: make(chan struct{})}
	mgr := newManager(st, completer)
	s := mgr.Attach(context.Background(), "u1")

	states, cancel := s.Subscribe()
	defer cancel()

	go func() {
		_, _ = s.Submit(context.Background(), "hello")
	}()

	sawPending := false
	deadline := time.After(time.Second)
	for !sawPending {
		select {
		case state := <-states:
			if state.Pending {
				sawPending = true
			}
		case <-deadline:
			t.Fatal("never observed pending state")
		}
	}

	close(completer.block)
}

func TestExportListsEveryTurnInOrder(t *testing.T) {
	st := &recordingStore{}
	mgr := newManager(st, &scriptedCompleter{reply: "second line"})
	s := mgr.Attach(context.Background(), "u1")

	if _, err := s.Submit(context.Background(), "first line"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	export := s.Export()
	lines := strings.Split(strings.TrimRight(export, "\n"), "\n")
	if len(lines) != len(s.Turns()) {
		t.Fatalf("expected %d lines, got %d", len(s.Turns()), len(lines))
	}
	if !strings.Contains(lines[0], "You: first line") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "MoodBridge: second line") {
		t.Fatalf("unexpected second line: %q", lines[1])
	}

	name := s.ExportFilename(time.Date(2024, 3, 5, 13, 45, 30, 0, time.UTC))
	if name != "moodbridge-transcript-20240305T134530.txt" {
		t.Fatalf("unexpected export filename: %s", name)
	}
}
