package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/moodbridge/backend/internal/middleware"
	authService "github.com/moodbridge/backend/internal/service/auth"
	sessionService "github.com/moodbridge/backend/internal/service/session"
	"github.com/moodbridge/backend/pkg/utils"
)

// Handler exposes the passwordless sign-in flow.
type Handler struct {
	auth     *authService.Service
	sessions *sessionService.Manager
	logger   *zap.SugaredLogger
}

func New(auth *authService.Service, sessions *sessionService.Manager, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{auth: auth, sessions: sessions, logger: logger}
}

// RegisterPublicRoutes mounts the unauthenticated endpoints.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/magic-link", h.handleRequestLink)
	r.Post("/verify", h.handleVerifyLink)
}

// RegisterProtectedRoutes mounts the endpoints that need a session.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Post("/logout", h.handleLogout)
}

func (h *Handler) handleRequestLink(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	link, err := h.auth.RequestLink(r.Context(), payload.Email)
	if errors.Is(err, authService.ErrEmailInvalid) {
		utils.RespondError(w, http.StatusBadRequest, "a valid email address is required")
		return
	}
	if err != nil {
		h.logger.Errorw("magic link request failed", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "could not issue a sign-in link")
		return
	}

	response := map[string]any{"sent": true}
	if h.auth.EchoLinks() {
		response["link"] = link
	}
	utils.RespondJSON(w, http.StatusOK, response)
}

func (h *Handler) handleVerifyLink(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionToken, user, err := h.auth.VerifyLink(r.Context(), payload.Token)
	if errors.Is(err, authService.ErrLinkInvalid) {
		utils.RespondError(w, http.StatusUnauthorized, "sign-in link is invalid or expired")
		return
	}
	if err != nil {
		h.logger.Errorw("magic link verification failed", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "could not complete sign-in")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"token":  sessionToken,
		"userId": user.ID,
		"email":  user.Email,
	})
}

// handleLogout detaches the live conversation session. The durable
// transcript is untouched; a later sign-in hydrates it again.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	h.sessions.Detach(userID)
	utils.RespondJSON(w, http.StatusOK, map[string]any{"signedOut": true})
}
