package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/moodbridge/backend/internal/middleware"
	sessionService "github.com/moodbridge/backend/internal/service/session"
	"github.com/moodbridge/backend/pkg/utils"
)

// Handler exposes the conversation over HTTP.
type Handler struct {
	sessions *sessionService.Manager
	logger   *zap.SugaredLogger
}

func New(sessions *sessionService.Manager, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{sessions: sessions, logger: logger}
}

// RegisterRoutes mounts the chat endpoints. The router must run the
// auth middleware first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleSubmit)
	r.Get("/transcript", h.handleTranscript)
	r.Get("/transcript/grouped", h.handleGrouped)
	r.Get("/export", h.handleExport)
	r.Get("/state", h.handleState)
	r.Get("/events", h.handleEvents)
	r.Get("/voice/latest", h.handleLatestClip)
}

// session resolves the caller's live session, hydrating on first use.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*sessionService.Session, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authorization required")
		return nil, false
	}
	return h.sessions.Attach(r.Context(), userID), true
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.Submit(r.Context(), payload.Message)
	switch {
	case errors.Is(err, sessionService.ErrTurnInFlight):
		utils.RespondError(w, http.StatusConflict, "a reply is already on its way")
		return
	case errors.Is(err, sessionService.ErrClosed):
		utils.RespondError(w, http.StatusGone, "session is closed")
		return
	case err != nil:
		utils.RespondJSON(w, http.StatusBadGateway, map[string]any{
			"error":     s.LastError(),
			"turnCount": len(s.Turns()),
		})
		return
	}

	if result == nil {
		// Whitespace-only input changes nothing.
		utils.RespondJSON(w, http.StatusOK, map[string]any{"submitted": false})
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"submitted": true,
		"user":      result.User,
		"assistant": result.Assistant,
	})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"turns": s.Turns()})
}

func (h *Handler) handleGrouped(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.Grouped())
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	body := s.Export()
	filename := s.ExportFilename(time.Now())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		h.logger.Warnw("transcript export write failed", "error", err)
	}
}

// handleEvents streams session state changes as SSE, driving the typing
// indicator. The initial state is sent immediately.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	states, cancel := s.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "state", s.State())

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case state, open := <-states:
			if !open {
				return
			}
			utils.SendSSEEvent(w, flusher, "state", state)
		}
	}
}

func (h *Handler) handleLatestClip(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	clip, ok := s.Clip()
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no audio clip available")
		return
	}
	audio, mimeType, ok := clip.Bytes()
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no audio clip available")
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		h.logger.Warnw("clip write failed", "error", err)
	}
}
