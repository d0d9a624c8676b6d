package video

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	videoService "github.com/moodbridge/backend/internal/service/video"
	"github.com/moodbridge/backend/pkg/utils"
)

// Handler exposes personalized video generation. It runs beside the
// conversation, never inside it.
type Handler struct {
	video  *videoService.Client
	logger *zap.SugaredLogger
}

func New(video *videoService.Client, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{video: video, logger: logger}
}

// RegisterRoutes mounts the video endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/templates", h.handleListTemplates)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TemplateID string            `json:"templateId"`
		Variables  map[string]string `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.TemplateID == "" {
		utils.RespondError(w, http.StatusBadRequest, "templateId is required")
		return
	}

	videoURL, err := h.video.Create(r.Context(), payload.TemplateID, payload.Variables)
	if errors.Is(err, videoService.ErrMissingCredentials) {
		utils.RespondError(w, http.StatusServiceUnavailable, "video generation is not configured")
		return
	}
	if err != nil {
		h.logger.Errorw("video generation failed", "template", payload.TemplateID, "error", err)
		utils.RespondError(w, http.StatusBadGateway, "video generation failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"videoUrl": videoURL})
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.video.ListTemplates(r.Context())
	if errors.Is(err, videoService.ErrMissingCredentials) {
		utils.RespondError(w, http.StatusServiceUnavailable, "video generation is not configured")
		return
	}
	if err != nil {
		h.logger.Errorw("template listing failed", "error", err)
		utils.RespondError(w, http.StatusBadGateway, "template listing failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"templates": templates})
}
