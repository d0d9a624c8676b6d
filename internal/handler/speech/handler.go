package speech

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	speechService "github.com/moodbridge/backend/internal/service/speech"
	"github.com/moodbridge/backend/pkg/utils"
)

// Handler exposes standalone text-to-speech, useful for checking the
// voice pipeline without driving a conversation turn.
type Handler struct {
	speech *speechService.Client
	logger *zap.SugaredLogger
}

func New(speech *speechService.Client, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{speech: speech, logger: logger}
}

// RegisterRoutes mounts the speech endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/synthesize", h.handleSynthesize)
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, err := h.speech.Synthesize(r.Context(), payload.Text)
	if errors.Is(err, speechService.ErrMissingCredentials) {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
		return
	}
	if err != nil {
		h.logger.Errorw("speech synthesis failed", "error", err)
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		h.logger.Warnw("audio write failed", "error", err)
	}
}
