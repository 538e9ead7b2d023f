package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consult-room/internal/domain"
	"consult-room/internal/repository"
	"consult-room/internal/room"
	"consult-room/internal/service"
)

// ChatHandler expone las sesiones y mensajes por REST.
type ChatHandler struct {
	logger      *zap.Logger
	relay       *service.RelayService
	transcripts *service.TranscriptService
}

func NewChatHandler(logger *zap.Logger, relay *service.RelayService, transcripts *service.TranscriptService) *ChatHandler {
	return &ChatHandler{
		logger:      logger,
		relay:       relay,
		transcripts: transcripts,
	}
}

// CreateSession maneja POST /sessions.
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req struct {
		PatientID   string `json:"patient_id" binding:"required"`
		CounselorID string `json:"counselor_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create session request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	session, err := h.relay.CreateSession(c.Request.Context(), req.PatientID, req.CounselorID)
	if err != nil {
		h.replyError(c, "create session failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// GetSession maneja GET /sessions/:id.
func (h *ChatHandler) GetSession(c *gin.Context) {
	session, err := h.relay.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.replyError(c, "get session failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// ListUserSessions maneja GET /users/:id/sessions.
func (h *ChatHandler) ListUserSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := h.relay.ListSessions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.replyError(c, "list sessions failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// ListMessages maneja GET /sessions/:id/messages?after=N.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	var after uint64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
			return
		}
		after = v
	}

	messages, err := h.relay.Transcript(c.Request.Context(), c.Param("id"), after)
	if err != nil {
		h.replyError(c, "list messages failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Transcript maneja GET /sessions/:id/transcript y responde texto plano.
func (h *ChatHandler) Transcript(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.relay.GetSession(c.Request.Context(), sessionID); err != nil {
		h.replyError(c, "get session failed", err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	text, err := h.transcripts.Render(c.Request.Context(), sessionID, limit)
	if err != nil {
		h.replyError(c, "render transcript failed", err)
		return
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, text)
}

// PostMessage maneja POST /sessions/:id/messages. Comparte el camino del WebSocket.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req struct {
		SenderID        string    `json:"sender_id" binding:"required"`
		Body            string    `json:"body"`
		ClientMessageID string    `json:"client_message_id"`
		SentAt          time.Time `json:"sent_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ack, err := h.relay.Relay(c.Request.Context(), service.RelayInput{
		SessionID:       c.Param("id"),
		SenderID:        req.SenderID,
		ClientMessageID: req.ClientMessageID,
		Body:            req.Body,
		SentAt:          req.SentAt,
	})
	if err != nil {
		h.replyError(c, "post message failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ack": ack})
}

// CloseSession maneja POST /sessions/:id/close.
func (h *ChatHandler) CloseSession(c *gin.Context) {
	session, err := h.relay.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.replyError(c, "close session failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *ChatHandler) replyError(c *gin.Context, logMsg string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(logMsg, zap.Error(err))
	} else {
		h.logger.Warn(logMsg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, domain.ErrInvalidParticipants), errors.Is(err, service.ErrRelayInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, room.ErrEmptySubmission):
		return http.StatusBadRequest, "empty message"
	case errors.Is(err, service.ErrNotParticipant):
		return http.StatusForbidden, "not a participant"
	case errors.Is(err, room.ErrInvalidTransition):
		return http.StatusConflict, "session ended"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limited"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
