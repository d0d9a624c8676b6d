package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every service-level setting.
type Config struct {
	Server ServerConfig
	Log    LogConfig
	AI     AIConfig
	Speech SpeechConfig
	Auth   AuthConfig
	Store  StoreConfig
	Redis  RedisConfig
	Video  VideoConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log:    logCfg,
		AI:     ai,
		Speech: speech,
		Auth:   auth,
		Store:  loadStoreConfig(),
		Redis:  loadRedisConfig(),
		Video:  loadVideoConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LogConfig describes where structured logs go.
type LogConfig struct {
	Dir   string
	Debug bool
}

func loadLogConfig() (LogConfig, error) {
	debug, err := parseBoolEnv("LOG_DEBUG", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Dir:   getEnvOrDefault("LOG_DIR", "./logs"),
		Debug: debug,
	}, nil
}

// AIConfig describes the completion model.
type AIConfig struct {
	Provider    string
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Timeout     time.Duration
}

// Enabled reports whether the required model credentials are present.
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	switch c.Provider {
	case "openai":
		return c.APIKey != ""
	default:
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
}

// NewChatModel builds the configured provider's chat model.
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("completion model credentials missing: set AI_MODEL plus OPENAI_API_KEY or ARK_API_KEY (or AK/SK)")
	}

	switch c.Provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: c.BaseURL,
			Model:   c.Model,
			APIKey:  c.APIKey,
		})
	case "ark":
		var temperature *float32
		if c.Temperature != nil {
			val := float32(*c.Temperature)
			temperature = &val
		}

		var topP *float32
		if c.TopP != nil {
			val := float32(*c.TopP)
			topP = &val
		}

		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER: %q", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseOptionalIntEnv("AI_TIMEOUT")
	if err != nil {
		return AIConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", "openai"))

	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	baseURL := strings.TrimSpace(os.Getenv("AI_BASE_URL"))
	if provider == "ark" {
		apiKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		if baseURL == "" {
			baseURL = "https://ark.cn-beijing.volces.com/api/v3"
		}
	}

	return AIConfig{
		Provider:    provider,
		APIKey:      apiKey,
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       getEnvOrDefault("AI_MODEL", "gpt-3.5-turbo"),
		BaseURL:     baseURL,
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Timeout:     time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// SpeechConfig describes the ElevenLabs voice services.
type SpeechConfig struct {
	APIKey          string
	BaseURL         string
	VoiceID         string
	ModelID         string
	STTModelID      string
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
	Enabled         bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	stability, err := parseOptionalFloatEnv("ELEVENLABS_STABILITY")
	if err != nil {
		return SpeechConfig{}, err
	}
	stabilityValue := 0.5
	if stability != nil {
		stabilityValue = *stability
	}

	similarity, err := parseOptionalFloatEnv("ELEVENLABS_SIMILARITY_BOOST")
	if err != nil {
		return SpeechConfig{}, err
	}
	similarityValue := 0.75
	if similarity != nil {
		similarityValue = *similarity
	}

	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	apiKey := strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY"))

	return SpeechConfig{
		APIKey:          apiKey,
		BaseURL:         getEnvOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		VoiceID:         getEnvOrDefault("ELEVENLABS_VOICE_ID", "EXAVITQu4vr4xnSDxMaL"),
		ModelID:         getEnvOrDefault("ELEVENLABS_MODEL_ID", "eleven_monolingual_v1"),
		STTModelID:      getEnvOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v1"),
		Stability:       stabilityValue,
		SimilarityBoost: similarityValue,
		Timeout:         time.Duration(timeoutSeconds) * time.Second,
		Enabled:         apiKey != "",
	}, nil
}

// AuthConfig describes magic-link auth and session tokens.
type AuthConfig struct {
	JWTSecret  string
	SessionTTL time.Duration
	LinkTTL    time.Duration
	LinkBase   string
	EchoLinks  bool
}

func loadAuthConfig() (AuthConfig, error) {
	sessionHours, err := parseOptionalIntEnv("AUTH_SESSION_TTL_HOURS")
	if err != nil {
		return AuthConfig{}, err
	}
	sessionTTL := 24 * time.Hour
	if sessionHours != nil && *sessionHours > 0 {
		sessionTTL = time.Duration(*sessionHours) * time.Hour
	}

	linkMinutes, err := parseOptionalIntEnv("AUTH_LINK_TTL_MINUTES")
	if err != nil {
		return AuthConfig{}, err
	}
	linkTTL := 15 * time.Minute
	if linkMinutes != nil && *linkMinutes > 0 {
		linkTTL = time.Duration(*linkMinutes) * time.Minute
	}

	echo, err := parseBoolEnv("AUTH_ECHO_LINKS", false)
	if err != nil {
		return AuthConfig{}, err
	}

	secret := strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET"))
	if secret == "" {
		// Sessions won't survive a restart without a configured secret.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return AuthConfig{}, fmt.Errorf("generate ephemeral jwt secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}

	return AuthConfig{
		JWTSecret:  secret,
		SessionTTL: sessionTTL,
		LinkTTL:    linkTTL,
		LinkBase:   getEnvOrDefault("AUTH_LINK_BASE_URL", "http://localhost:3000/login"),
		EchoLinks:  echo,
	}, nil
}

// StoreConfig selects the transcript store backend.
type StoreConfig struct {
	DatabaseURL string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL"))}
}

// RedisConfig describes the optional one-time token store.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

func loadRedisConfig() RedisConfig {
	db := 0
	if parsed, err := parseOptionalIntEnv("REDIS_DB"); err == nil && parsed != nil {
		db = *parsed
	}
	return RedisConfig{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Username: strings.TrimSpace(os.Getenv("REDIS_USERNAME")),
		Password: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		DB:       db,
	}
}

// VideoConfig describes the Tavus video generation client.
type VideoConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Enabled bool
}

func loadVideoConfig() VideoConfig {
	apiKey := strings.TrimSpace(os.Getenv("TAVUS_API_KEY"))
	return VideoConfig{
		APIKey:  apiKey,
		BaseURL: getEnvOrDefault("TAVUS_BASE_URL", "https://api.tavus.io/v1"),
		Timeout: 60 * time.Second,
		Enabled: apiKey != "",
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
