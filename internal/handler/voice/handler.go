package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/moodbridge/backend/internal/middleware"
	sessionService "github.com/moodbridge/backend/internal/service/session"
	voiceService "github.com/moodbridge/backend/internal/service/voice"
	"github.com/moodbridge/backend/pkg/utils"
)

// Handler carries spoken input over a websocket. Control messages are
// JSON text frames, audio arrives as binary frames. Each start/stop
// pair captures one utterance; the transcript is submitted to the
// caller's conversation session.
type Handler struct {
	source   voiceService.Source
	sessions *sessionService.Manager
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func New(source voiceService.Source, sessions *sessionService.Manager, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		source:   source,
		sessions: sessions,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the voice input endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
	r.Get("/supported", h.handleSupported)
}

func (h *Handler) handleSupported(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"supported": h.source.Supported()})
}

type controlMessage struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType,omitempty"`
}

type outgoingMessage struct {
	Type       string      `json:"type"`
	Message    string      `json:"message,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	if !h.source.Supported() {
		utils.RespondError(w, http.StatusNotImplemented, "voice input is not supported")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	session := h.sessions.Attach(ctx, userID)

	var recognizer *voiceService.Recognizer
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("voice websocket closed", "user", userID, "error", err)
			}
			if recognizer != nil {
				recognizer.Abort()
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if recognizer == nil {
				h.sendError(conn, "no capture in progress")
				continue
			}
			if err := recognizer.Feed(data); err != nil {
				h.sendError(conn, "no capture in progress")
			}

		case websocket.TextMessage:
			var control controlMessage
			if err := json.Unmarshal(data, &control); err != nil {
				h.sendError(conn, "invalid control message")
				continue
			}
			recognizer = h.handleControl(ctx, conn, session, recognizer, control)
		}
	}
}

// handleControl applies one control message and returns the recognizer
// to use for subsequent frames.
func (h *Handler) handleControl(ctx context.Context, conn *websocket.Conn, session *sessionService.Session, recognizer *voiceService.Recognizer, control controlMessage) *voiceService.Recognizer {
	switch control.Type {
	case "start":
		if recognizer != nil && recognizer.Listening() {
			h.sendError(conn, "already listening")
			return recognizer
		}
		fresh, err := h.source.NewRecognizer()
		if err != nil {
			h.sendError(conn, "voice input is not supported")
			return recognizer
		}
		if err := fresh.Start(control.MimeType); err != nil {
			h.sendError(conn, "could not start listening")
			return recognizer
		}
		h.send(conn, outgoingMessage{Type: "listening"})
		return fresh

	case "stop":
		if recognizer == nil {
			h.sendError(conn, "no capture in progress")
			return nil
		}
		h.finishUtterance(ctx, conn, session, recognizer)
		return nil

	case "abort":
		if recognizer != nil {
			recognizer.Abort()
		}
		h.send(conn, outgoingMessage{Type: "aborted"})
		return nil

	default:
		h.sendError(conn, "unknown control message")
		return recognizer
	}
}

// finishUtterance transcribes the capture and drives the transcript
// through a full conversation turn. Recognition failures are reported
// to the client and record no turn.
func (h *Handler) finishUtterance(ctx context.Context, conn *websocket.Conn, session *sessionService.Session, recognizer *voiceService.Recognizer) {
	transcript, err := recognizer.Stop(ctx)
	if errors.Is(err, voiceService.ErrNoAudio) {
		h.sendError(conn, "no audio was captured")
		return
	}
	if err != nil {
		h.logger.Warnw("voice transcription failed", "error", err)
		h.sendError(conn, "could not understand the recording")
		return
	}

	h.send(conn, outgoingMessage{Type: "transcript", Transcript: transcript})

	result, err := session.Submit(ctx, transcript)
	if errors.Is(err, sessionService.ErrTurnInFlight) {
		h.sendError(conn, "a reply is already on its way")
		return
	}
	if err != nil {
		h.sendError(conn, session.LastError())
		return
	}
	if result == nil {
		h.sendError(conn, "nothing was said")
		return
	}

	h.send(conn, outgoingMessage{Type: "turn", Data: result})
}

func (h *Handler) send(conn *websocket.Conn, msg outgoingMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debugw("voice websocket write failed", "error", err)
	}
}

func (h *Handler) sendError(conn *websocket.Conn, message string) {
	h.send(conn, outgoingMessage{Type: "error", Message: message})
}
