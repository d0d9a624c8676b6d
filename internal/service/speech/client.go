package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/moodbridge/backend/internal/config"
)

// ErrMissingCredentials marks a synthesis/transcription attempt without
// an API key. It fails that call only, never the session.
var ErrMissingCredentials = errors.New("elevenlabs api key is not configured")

// Client talks to the ElevenLabs voice APIs.
type Client struct {
	cfg        config.SpeechConfig
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewClient builds the voice client. The per-call timeout comes from
// config so callers do not have to wrap every request.
func NewClient(cfg config.SpeechConfig, logger *zap.SugaredLogger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to speech with the fixed configured voice and
// returns the raw mpeg audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	payload, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: c.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       c.cfg.Stability,
			SimilarityBoost: c.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("tts request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}

	c.logger.Debugw("speech synthesized", "bytes", len(audio))
	return audio, nil
}

type sttResponse struct {
	Text string `json:"text"`
}

// Transcribe converts one finished utterance to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrMissingCredentials
	}
	if len(audio) == 0 {
		return "", errors.New("no audio supplied")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("model_id", c.cfg.STTModelID); err != nil {
		return "", fmt.Errorf("encode stt request: %w", err)
	}
	part, err := writer.CreateFormFile("file", "utterance"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("encode stt request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("encode stt request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("encode stt request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/speech-to-text"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("build stt request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("stt request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}

	return parsed.Text, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".mp3"
	}
}
