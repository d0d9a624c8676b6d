package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moodbridge/backend/internal/store"
)

// Deps wires a Manager to its collaborators.
type Deps struct {
	Store     store.TranscriptStore
	Completer Completer
	// Speaker may be nil when voice output is not configured.
	Speaker  Synthesizer
	Logger   *zap.SugaredLogger
	Timeouts Timeouts
	// Location is the viewer's calendar for grouping and export.
	// Defaults to time.Local.
	Location *time.Location
	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Manager owns one live Session per authenticated user. Sessions for
// different users are fully independent.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager bootstraps the session registry.
func NewManager(deps Deps) *Manager {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	deps.Timeouts = deps.Timeouts.withDefaults()

	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Attach returns the user's live session, hydrating a new one from the
// transcript store on first sight. A store failure starts the session
// empty rather than blocking sign-in.
func (m *Manager) Attach(ctx context.Context, userID string) *Session {
	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return existing
	}
	m.mu.Unlock()

	turns, err := m.deps.Store.ListForUser(ctx, userID)
	if err != nil {
		m.deps.Logger.Warnw("transcript hydration failed", "user", userID, "error", err)
		turns = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have hydrated concurrently; keep the first.
	if existing, ok := m.sessions[userID]; ok {
		return existing
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		userID:      userID,
		transcripts: m.deps.Store,
		completer:   m.deps.Completer,
		speaker:     m.deps.Speaker,
		logger:      m.deps.Logger,
		timeouts:    m.deps.Timeouts,
		loc:         m.deps.Location,
		now:         m.deps.Now,
		ctx:         sessionCtx,
		cancel:      cancel,
		turns:       turns,
		subscribers: make(map[int]chan State),
	}
	for _, turn := range turns {
		if turn.CreatedAt.After(s.lastStamp) {
			s.lastStamp = turn.CreatedAt
		}
	}
	m.sessions[userID] = s
	return s
}

// Get returns the user's session without creating one.
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Detach tears down the user's session on sign-out or navigation away.
// The durable store remains the system of record.
func (m *Manager) Detach(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// Shutdown closes every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
