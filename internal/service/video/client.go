package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/moodbridge/backend/internal/config"
)

// ErrMissingCredentials marks a call attempted without an API key
// configured. It is a deployment problem, not a request problem.
var ErrMissingCredentials = errors.New("video api key is not configured")

// Client drives the Tavus personalized video API. Video generation
// lives entirely outside the conversation flow.
type Client struct {
	cfg        config.VideoConfig
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

func NewClient(cfg config.VideoConfig, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Enabled reports whether the client can make calls.
func (c *Client) Enabled() bool {
	return c.cfg.APIKey != ""
}

type createRequest struct {
	TemplateID string            `json:"template_id"`
	Variables  map[string]string `json:"variables"`
}

type createResponse struct {
	VideoURL string `json:"video_url"`
	Data     struct {
		VideoURL string `json:"video_url"`
	} `json:"data"`
}

// Create renders a video from a template with per-viewer variables and
// returns its playback URL.
func (c *Client) Create(ctx context.Context, templateID string, variables map[string]string) (string, error) {
	if !c.Enabled() {
		return "", ErrMissingCredentials
	}
	if templateID == "" {
		return "", errors.New("template id is required")
	}

	payload, err := json.Marshal(createRequest{TemplateID: templateID, Variables: variables})
	if err != nil {
		return "", fmt.Errorf("encode video request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/videos"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build video request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call video api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warnw("video api error", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("video api returned status %d", resp.StatusCode)
	}

	var decoded createResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode video response: %w", err)
	}

	playbackURL := decoded.VideoURL
	if playbackURL == "" {
		playbackURL = decoded.Data.VideoURL
	}
	if playbackURL == "" {
		return "", errors.New("video response carried no playback url")
	}
	return playbackURL, nil
}

// Template describes one reusable video template.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListTemplates fetches the templates available to this API key.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	if !c.Enabled() {
		return nil, ErrMissingCredentials
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/templates"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build templates request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call video api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warnw("video api error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("video api returned status %d", resp.StatusCode)
	}

	var templates []Template
	if err := json.NewDecoder(resp.Body).Decode(&templates); err != nil {
		return nil, fmt.Errorf("decode templates response: %w", err)
	}
	return templates, nil
}
