package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/moodbridge/backend/internal/model/chat"
)

const (
	exportTimeLayout     = "2006-01-02 15:04"
	exportFilenameLayout = "20060102T150405"
)

// Turns returns a copy of the session transcript in order.
func (s *Session) Turns() []chat.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]chat.Turn, len(s.turns))
	copy(copied, s.turns)
	return copied
}

// Pending reports whether a reply is being awaited (typing indicator).
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// LastError returns the user-facing message of the most recent failure,
// empty when the last cycle finished cleanly.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// State snapshots the renderable session fields.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	return State{
		Pending:   s.pending,
		LastError: s.lastErr,
		TurnCount: len(s.turns),
	}
}

// Grouped partitions the transcript by the viewer's local calendar day.
func (s *Session) Grouped() chat.GroupedView {
	return chat.GroupByDate(s.Turns(), s.loc)
}

// Export renders the full transcript as one line per turn,
// "<timestamp> - <display name>: <text>", in turn order.
func (s *Session) Export() string {
	turns := s.Turns()

	var builder strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&builder, "%s - %s: %s\n",
			turn.CreatedAt.In(s.loc).Format(exportTimeLayout),
			turn.Sender.DisplayName(),
			turn.Text,
		)
	}
	return builder.String()
}

// ExportFilename names the downloaded transcript after the moment of
// export.
func (s *Session) ExportFilename(now time.Time) string {
	return fmt.Sprintf("moodbridge-transcript-%s.txt", now.In(s.loc).Format(exportFilenameLayout))
}

// Clip returns the most recently synthesized reply audio, if any.
func (s *Session) Clip() (*Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clip == nil {
		return nil, false
	}
	return s.clip, true
}

// Subscribe registers a watcher for state changes, for the typing
// indicator stream. The returned cancel func must be called when the
// watcher goes away; the channel closes on session teardown.
func (s *Session) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, 8)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
		s.mu.Unlock()
	}
}

// notifyLocked fans the current state out to watchers. Slow watchers
// miss intermediate states rather than blocking a turn cycle.
func (s *Session) notifyLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	state := s.stateLocked()
	for _, ch := range s.subscribers {
		select {
		case ch <- state:
		default:
		}
	}
}
