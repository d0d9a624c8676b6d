package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	authHandler "github.com/moodbridge/backend/internal/handler/auth"
	chatHandler "github.com/moodbridge/backend/internal/handler/chat"
	speechHandler "github.com/moodbridge/backend/internal/handler/speech"
	videoHandler "github.com/moodbridge/backend/internal/handler/video"
	voiceHandler "github.com/moodbridge/backend/internal/handler/voice"
	middlewarePkg "github.com/moodbridge/backend/internal/middleware"
	authService "github.com/moodbridge/backend/internal/service/auth"
	sessionService "github.com/moodbridge/backend/internal/service/session"
	speechService "github.com/moodbridge/backend/internal/service/speech"
	videoService "github.com/moodbridge/backend/internal/service/video"
	voiceService "github.com/moodbridge/backend/internal/service/voice"
	"github.com/moodbridge/backend/pkg/utils"
)

// Services carries everything the router mounts. Speech and Video may
// be nil when their credentials are not configured; their routes then
// answer 503.
type Services struct {
	Auth     *authService.Service
	Sessions *sessionService.Manager
	Speech   *speechService.Client
	Voice    voiceService.Source
	Video    *videoService.Client
	Logger   *zap.SugaredLogger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svcs Services) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	authH := authHandler.New(svcs.Auth, svcs.Sessions, svcs.Logger)
	chatH := chatHandler.New(svcs.Sessions, svcs.Logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		api.Route("/auth", func(auth chi.Router) {
			authH.RegisterPublicRoutes(auth)

			auth.Group(func(protected chi.Router) {
				protected.Use(middlewarePkg.Auth(svcs.Auth))
				authH.RegisterProtectedRoutes(protected)
			})
		})

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.Auth(svcs.Auth))

			protected.Route("/chat", chatH.RegisterRoutes)

			protected.Route("/voice", func(voice chi.Router) {
				source := svcs.Voice
				if source == nil {
					source = voiceService.NewSource(nil, svcs.Logger)
				}
				voiceHandler.New(source, svcs.Sessions, svcs.Logger).RegisterRoutes(voice)
			})

			protected.Route("/speech", func(speech chi.Router) {
				if svcs.Speech == nil {
					speech.Post("/synthesize", serviceUnavailable("speech synthesis is not configured"))
					return
				}
				speechHandler.New(svcs.Speech, svcs.Logger).RegisterRoutes(speech)
			})

			protected.Route("/video", func(video chi.Router) {
				if svcs.Video == nil {
					video.Post("/", serviceUnavailable("video generation is not configured"))
					return
				}
				videoHandler.New(svcs.Video, svcs.Logger).RegisterRoutes(video)
			})
		})
	})

	return r
}

func serviceUnavailable(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusServiceUnavailable, message)
	}
}
