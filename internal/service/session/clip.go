package session

import (
	"sync"
	"time"
)

// Clip holds one synthesized reply. The buffer is released when a newer
// synthesis supersedes it or the session closes, so stale audio never
// outlives the turn it belongs to.
type Clip struct {
	mu        sync.Mutex
	audio     []byte
	mimeType  string
	createdAt time.Time
	released  bool
}

func newClip(audio []byte, mimeType string, createdAt time.Time) *Clip {
	return &Clip{audio: audio, mimeType: mimeType, createdAt: createdAt}
}

// Bytes returns the audio and its mime type. ok is false once released.
func (c *Clip) Bytes() (audio []byte, mimeType string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, "", false
	}
	return c.audio, c.mimeType, true
}

// CreatedAt reports when the clip was synthesized.
func (c *Clip) CreatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdAt
}

// Release drops the buffer. Safe to call more than once.
func (c *Clip) Release() {
	c.mu.Lock()
	c.audio = nil
	c.released = true
	c.mu.Unlock()
}
