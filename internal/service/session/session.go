package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moodbridge/backend/internal/analysis/sentiment"
	"github.com/moodbridge/backend/internal/model/chat"
	"github.com/moodbridge/backend/internal/store"
)

var (
	ErrTurnInFlight = errors.New("a turn is already in flight")
	ErrClosed       = errors.New("session is closed")
)

// User-facing copy for the two error slots the UI renders.
const (
	completionFailureMessage = "MoodBridge couldn't reply just now. Please try again."
	persistWarningMessage    = "Your message was shown but could not be saved."
)

// Completer produces a reply for one user message.
type Completer interface {
	Complete(ctx context.Context, history []chat.Turn, text string) (string, error)
}

// Synthesizer converts reply text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Timeouts bounds each outbound call of a turn cycle.
type Timeouts struct {
	Completion time.Duration
	Speech     time.Duration
	Store      time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Completion <= 0 {
		t.Completion = 30 * time.Second
	}
	if t.Speech <= 0 {
		t.Speech = 30 * time.Second
	}
	if t.Store <= 0 {
		t.Store = 5 * time.Second
	}
	return t
}

// State is the renderable snapshot of a session.
type State struct {
	Pending   bool   `json:"pending"`
	LastError string `json:"lastError"`
	TurnCount int    `json:"turnCount"`
}

// Result carries the two turns a successful cycle appended.
type Result struct {
	User      chat.Turn `json:"user"`
	Assistant chat.Turn `json:"assistant"`
}

// Session owns the in-memory transcript of one authenticated user and
// drives each utterance through completion, persistence, and speech. At
// most one turn cycle is in flight at a time; overlapping submissions
// are rejected.
type Session struct {
	userID      string
	transcripts store.TranscriptStore
	completer   Completer
	speaker     Synthesizer
	logger      *zap.SugaredLogger
	timeouts    Timeouts
	loc         *time.Location
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	turns       []chat.Turn
	busy        bool
	pending     bool
	lastErr     string
	lastStamp   time.Time
	clip        *Clip
	closed      bool
	subscribers map[int]chan State
	nextSubID   int
}

// Submit drives one full turn cycle for the given utterance.
// Empty or whitespace-only input is a no-op and returns (nil, nil).
// A submission while another cycle is in flight returns ErrTurnInFlight.
// Only a completion failure aborts the cycle; store and speech failures
// degrade and the conversation continues.
func (s *Session) Submit(ctx context.Context, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.busy {
		s.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	s.busy = true
	s.lastErr = ""
	userTurn := s.appendTurnLocked(chat.SenderUser, text, "")
	s.notifyLocked()
	s.mu.Unlock()

	s.persistTurn(ctx, userTurn)

	s.setPending(true)
	reply, err := s.complete(ctx, text)
	if err != nil {
		s.logger.Errorw("completion failed", "user", s.userID, "error", err)
		s.finishCycle(func() {
			s.lastErr = completionFailureMessage
		})
		return nil, err
	}

	label := sentiment.Analyze(reply).Label

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	assistantTurn := s.appendTurnLocked(chat.SenderAssistant, reply, string(label))
	s.mu.Unlock()

	s.persistTurn(ctx, assistantTurn)

	s.setPending(false)

	s.speak(ctx, reply)

	s.finishCycle(nil)

	return &Result{User: userTurn, Assistant: assistantTurn}, nil
}

// complete calls the completion service with a snapshot of the history
// up to (but not including) the user turn just appended.
func (s *Session) complete(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	history := make([]chat.Turn, len(s.turns)-1)
	copy(history, s.turns[:len(s.turns)-1])
	s.mu.Unlock()

	callCtx, cancel := s.stepContext(ctx, s.timeouts.Completion)
	defer cancel()
	return s.completer.Complete(callCtx, history, text)
}

// persistTurn writes one turn to the durable store. Failures are logged
// and surfaced as a soft warning; they never abort the cycle.
func (s *Session) persistTurn(ctx context.Context, turn chat.Turn) {
	callCtx, cancel := s.stepContext(ctx, s.timeouts.Store)
	defer cancel()

	if err := s.transcripts.Append(callCtx, turn); err != nil {
		s.logger.Warnw("transcript append failed", "user", s.userID, "sender", turn.Sender, "error", err)
		s.mu.Lock()
		if !s.closed && s.lastErr == "" {
			s.lastErr = persistWarningMessage
			s.notifyLocked()
		}
		s.mu.Unlock()
	}
}

// speak synthesizes the reply and stages the clip for playback. A new
// clip supersedes and releases the previous one. Failures are logged
// only; voice is an enhancement, never a blocker.
func (s *Session) speak(ctx context.Context, reply string) {
	if s.speaker == nil {
		return
	}

	callCtx, cancel := s.stepContext(ctx, s.timeouts.Speech)
	defer cancel()

	audio, err := s.speaker.Synthesize(callCtx, reply)
	if err != nil {
		s.logger.Warnw("speech synthesis failed", "user", s.userID, "error", err)
		return
	}

	clip := newClip(audio, "audio/mpeg", s.now())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		clip.Release()
		return
	}
	previous := s.clip
	s.clip = clip
	s.mu.Unlock()

	if previous != nil {
		previous.Release()
	}
}

// finishCycle ends the in-flight cycle, optionally applying a final
// state mutation under the lock. Mutations are skipped once closed.
func (s *Session) finishCycle(apply func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.busy = false
	s.pending = false
	if apply != nil {
		apply()
	}
	s.notifyLocked()
}

func (s *Session) setPending(pending bool) {
	s.mu.Lock()
	if !s.closed {
		s.pending = pending
		s.notifyLocked()
	}
	s.mu.Unlock()
}

// appendTurnLocked creates and appends a turn with a monotonically
// non-decreasing timestamp. Callers hold s.mu.
func (s *Session) appendTurnLocked(sender chat.Sender, text, sentimentLabel string) chat.Turn {
	stamp := s.now()
	if stamp.Before(s.lastStamp) {
		stamp = s.lastStamp
	}
	s.lastStamp = stamp

	turn := chat.Turn{
		ID:        uuid.NewString(),
		UserID:    s.userID,
		Sender:    sender,
		Text:      text,
		Sentiment: sentimentLabel,
		CreatedAt: stamp,
	}
	s.turns = append(s.turns, turn)
	return turn
}

// stepContext bounds one outbound call and ties it to both the caller
// and the session lifetime, so teardown abandons in-flight work.
func (s *Session) stepContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Close tears the session down: the in-flight cycle is abandoned, no
// further state mutations happen, and the staged clip is released.
func (s *Session) Close() {
	s.cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clip := s.clip
	s.clip = nil
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	if clip != nil {
		clip.Release()
	}
}

// UserID returns the owner of this session.
func (s *Session) UserID() string {
	return s.userID
}
