package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/moodbridge/backend/internal/config"
	"github.com/moodbridge/backend/internal/handler"
	"github.com/moodbridge/backend/internal/logging"
	"github.com/moodbridge/backend/internal/service/ai"
	authService "github.com/moodbridge/backend/internal/service/auth"
	sessionService "github.com/moodbridge/backend/internal/service/session"
	speechService "github.com/moodbridge/backend/internal/service/speech"
	videoService "github.com/moodbridge/backend/internal/service/video"
	voiceService "github.com/moodbridge/backend/internal/service/voice"
	"github.com/moodbridge/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Options{Dir: cfg.Log.Dir, Debug: cfg.Log.Debug})
	if err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Transcript store: postgres when a DSN is configured, in-memory
	// otherwise.
	var transcripts store.TranscriptStore
	var pg *store.PostgresStore
	if cfg.Store.DatabaseURL != "" {
		pg, err = store.OpenPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			logger.Fatalw("failed to open postgres transcript store", "error", err)
		}
		transcripts = pg
		logger.Infow("transcript store ready", "backend", "postgres")
	} else {
		transcripts = store.NewMemoryStore()
		logger.Infow("transcript store ready", "backend", "memory")
	}

	// Completion service.
	var completer sessionService.Completer
	if cfg.AI.Enabled() {
		aiSvc, err := ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Fatalw("failed to initialize completion service", "provider", cfg.AI.Provider, "error", err)
		}
		completer = aiSvc
		logger.Infow("completion service ready", "provider", cfg.AI.Provider, "model", cfg.AI.Model)
	} else {
		logger.Fatalw("completion model credentials missing",
			"hint", "set AI_MODEL plus OPENAI_API_KEY or ARK_API_KEY")
	}

	// Speech is optional; without credentials replies are text only.
	var speech *speechService.Client
	var speaker sessionService.Synthesizer
	var voiceSource voiceService.Source
	if cfg.Speech.Enabled {
		speech = speechService.NewClient(cfg.Speech, logger)
		speaker = speech
		voiceSource = voiceService.NewSource(speech, logger)
		logger.Infow("speech service ready", "voice", cfg.Speech.VoiceID)
	} else {
		voiceSource = voiceService.NewSource(nil, logger)
		logger.Infow("speech credentials not configured, voice features disabled")
	}

	sessions := sessionService.NewManager(sessionService.Deps{
		Store:     transcripts,
		Completer: completer,
		Speaker:   speaker,
		Logger:    logger,
		Timeouts: sessionService.Timeouts{
			Completion: cfg.AI.Timeout,
			Speech:     cfg.Speech.Timeout,
		},
	})
	defer sessions.Shutdown()

	// Magic-link auth: redis-backed tokens when available, in-memory
	// otherwise; user rows live next to the transcripts when postgres
	// is configured.
	var links authService.LinkStore
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalw("failed to reach redis", "addr", cfg.Redis.Addr, "error", err)
		}
		defer func() { _ = redisClient.Close() }()
		links = authService.NewRedisLinkStore(redisClient)
		logger.Infow("magic-link store ready", "backend", "redis")
	} else {
		links = authService.NewMemoryLinkStore()
		logger.Infow("magic-link store ready", "backend", "memory")
	}

	var users authService.UserStore
	if pg != nil {
		users, err = authService.NewGormUserStore(pg.DB())
		if err != nil {
			logger.Fatalw("failed to initialize user store", "error", err)
		}
	} else {
		users = authService.NewMemoryUserStore()
	}

	auth := authService.NewService(cfg.Auth, links, users, logger)

	var video *videoService.Client
	if cfg.Video.Enabled {
		video = videoService.NewClient(cfg.Video, logger)
		logger.Infow("video service ready")
	}

	router := handler.NewRouter(handler.Services{
		Auth:     auth,
		Sessions: sessions,
		Speech:   speech,
		Voice:    voiceSource,
		Video:    video,
		Logger:   logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.SugaredLogger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Infow("moodbridge backend listening", "addr", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Fatalw("server error", "error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
