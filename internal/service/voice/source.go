package voice

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var (
	// ErrUnsupported is returned when no speech-to-text backend is
	// configured for this deployment.
	ErrUnsupported = errors.New("voice input is not supported")
)

// Transcriber turns one recorded utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Source hands out recognizers for voice input. Each recognizer is
// single-shot: one utterance, one transcript.
type Source interface {
	Supported() bool
	NewRecognizer() (*Recognizer, error)
}

// NewSource picks the variant matching the deployment. A nil
// transcriber yields the unavailable source, which refuses to start.
func NewSource(transcriber Transcriber, logger *zap.SugaredLogger) Source {
	if transcriber == nil {
		return unavailableSource{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &serviceSource{transcriber: transcriber, logger: logger}
}

type serviceSource struct {
	transcriber Transcriber
	logger      *zap.SugaredLogger
}

func (s *serviceSource) Supported() bool { return true }

func (s *serviceSource) NewRecognizer() (*Recognizer, error) {
	return newRecognizer(s.transcriber, s.logger), nil
}

type unavailableSource struct{}

func (unavailableSource) Supported() bool { return false }

func (unavailableSource) NewRecognizer() (*Recognizer, error) {
	return nil, ErrUnsupported
}
