package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrAlreadyListening = errors.New("recognizer is already listening")
	ErrNotListening     = errors.New("recognizer is not listening")
	ErrSpent            = errors.New("recognizer already produced its transcript")
	ErrNoAudio          = errors.New("no audio was captured")
)

type recognizerState int

const (
	stateIdle recognizerState = iota
	stateListening
	stateSpent
)

// Recognizer captures one utterance. Audio frames are buffered between
// Start and Stop; Stop makes a single transcription call and the
// recognizer is spent afterwards. Callers needing another utterance ask
// the Source for a fresh recognizer.
type Recognizer struct {
	transcriber Transcriber
	logger      *zap.SugaredLogger

	mu       sync.Mutex
	state    recognizerState
	mimeType string
	frames   bytes.Buffer
}

func newRecognizer(transcriber Transcriber, logger *zap.SugaredLogger) *Recognizer {
	return &Recognizer{transcriber: transcriber, logger: logger}
}

// Start begins capturing. Starting while already listening is rejected
// rather than implicitly restarting the capture.
func (r *Recognizer) Start(mimeType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateListening:
		return ErrAlreadyListening
	case stateSpent:
		return ErrSpent
	}

	if mimeType == "" {
		mimeType = "audio/webm"
	}
	r.mimeType = mimeType
	r.state = stateListening
	return nil
}

// Feed appends one audio frame to the capture buffer.
func (r *Recognizer) Feed(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateListening {
		return ErrNotListening
	}
	r.frames.Write(frame)
	return nil
}

// Stop ends the utterance and transcribes everything captured so far.
// The recognizer is spent regardless of the outcome; a transcription
// failure produces no transcript and the caller reports it without
// recording a turn.
func (r *Recognizer) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.state != stateListening {
		r.mu.Unlock()
		return "", ErrNotListening
	}
	r.state = stateSpent
	audio := append([]byte(nil), r.frames.Bytes()...)
	mimeType := r.mimeType
	r.frames.Reset()
	r.mu.Unlock()

	if len(audio) == 0 {
		return "", ErrNoAudio
	}

	text, err := r.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		r.logger.Warnw("transcription failed", "bytes", len(audio), "error", err)
		return "", fmt.Errorf("transcribe utterance: %w", err)
	}
	return text, nil
}

// Abort discards the capture without transcribing. The recognizer is
// spent afterwards.
func (r *Recognizer) Abort() {
	r.mu.Lock()
	r.state = stateSpent
	r.frames.Reset()
	r.mu.Unlock()
}

// Listening reports whether a capture is in progress.
func (r *Recognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateListening
}
