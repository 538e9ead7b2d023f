package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"consult-room/internal/domain"
	"consult-room/internal/hub"
	"consult-room/internal/protocol"
	"consult-room/internal/room"
	"consult-room/internal/service"
)

const relayTimeout = 10 * time.Second

// WSConfig ajusta los tiempos del WebSocket.
type WSConfig struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

func (c WSConfig) withDefaults() WSConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.ReadTimeout <= c.PingInterval {
		c.ReadTimeout = c.PingInterval * 2
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	return c
}

// WSHandler atiende GET /sessions/:id/ws.
type WSHandler struct {
	logger   *zap.Logger
	cfg      WSConfig
	hub      *hub.Hub
	relay    *service.RelayService
	upgrader websocket.Upgrader
}

func NewWSHandler(logger *zap.Logger, cfg WSConfig, h *hub.Hub, relay *service.RelayService) *WSHandler {
	return &WSHandler{
		logger: logger,
		cfg:    cfg.withDefaults(),
		hub:    h,
		relay:  relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// El origen lo filtra el middleware CORS del servidor.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.relay.GetSession(c.Request.Context(), sessionID); err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := h.hub.NewConnection(ws)
	h.hub.Register(conn)
	ws.SetReadLimit(h.cfg.MaxMessageSize)

	go h.writePump(conn)
	go h.readPump(conn, sessionID)
}

func (h *WSHandler) readPump(conn *hub.Connection, sessionID string) {
	defer func() {
		h.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		h.handleFrame(conn, sessionID, data)
	}
}

func (h *WSHandler) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-conn.Send:
			if !ok {
				conn.WriteFrame(websocket.CloseMessage, []byte{}, h.cfg.WriteTimeout)
				return
			}
			if err := conn.WriteFrame(websocket.TextMessage, data, h.cfg.WriteTimeout); err != nil {
				h.logger.Warn("websocket write failed", zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteFrame(websocket.PingMessage, nil, h.cfg.WriteTimeout); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handleFrame(conn *hub.Connection, sessionID string, data []byte) {
	frameType, err := protocol.FrameType(data)
	if err != nil {
		h.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch frameType {
	case protocol.TypeHello:
		h.handleHello(conn, sessionID, data)
	case protocol.TypeMessage:
		h.handleMessage(conn, data)
	case protocol.TypeDraft:
		h.handleDraft(conn)
	default:
		h.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "unknown message type: "+frameType)
	}
}

// handleHello vincula la conexion y reenvia los mensajes del otro
// participante posteriores a last_seq. hello_ack y el replay se escriben
// directo en el socket mientras la sesion esta bloqueada: los mensajes
// nuevos recien se reparten cuando el replay termino.
func (h *WSHandler) handleHello(conn *hub.Connection, sessionID string, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid hello message")
		return
	}
	if msg.SessionID != "" && msg.SessionID != sessionID {
		h.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "session_id does not match the endpoint")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	var (
		role     domain.Role
		replayed int
		writeErr error
	)
	err := h.relay.Attach(ctx, sessionID, msg.UserID, msg.LastSeq, func(session domain.Session, r domain.Role, missed []domain.Message) error {
		role = r
		lastSeq := msg.LastSeq
		if n := len(missed); n > 0 {
			lastSeq = missed[n-1].Seq
		}
		writeErr = conn.WriteJSON(protocol.HelloAckMessage{
			BaseMessage: protocol.NewBase(protocol.TypeHelloAck, sessionID),
			Role:        r,
			Status:      session.Status,
			LastSeq:     lastSeq,
		}, h.cfg.WriteTimeout)
		if writeErr != nil {
			return writeErr
		}

		h.hub.Bind(conn, sessionID, msg.UserID, r)
		for _, m := range missed {
			if m.Sender == r {
				continue
			}
			if writeErr = conn.WriteJSON(protocol.NewPeerMessage(m), h.cfg.WriteTimeout); writeErr != nil {
				return writeErr
			}
			replayed++
		}
		return nil
	})
	if writeErr != nil {
		// El cliente reconecta con el last_seq que realmente recibio.
		h.logger.Warn("hello replay write failed",
			zap.String("conn_id", conn.ID),
			zap.String("session_id", sessionID),
			zap.Int("replayed", replayed),
			zap.Error(writeErr),
		)
		conn.Close()
		return
	}
	if err != nil {
		code, text := wsErrorCode(err)
		if code == protocol.ErrorCodeInternalError {
			h.logger.Error("hello failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		h.sendError(conn, "", code, text)
		return
	}

	h.logger.Info("hello handshake completed",
		zap.String("conn_id", conn.ID),
		zap.String("session_id", sessionID),
		zap.String("role", string(role)),
		zap.Int("replayed", replayed),
	)
}

func (h *WSHandler) handleMessage(conn *hub.Connection, data []byte) {
	var msg protocol.SendMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid message frame")
		return
	}
	if conn.SessionID == "" {
		h.sendError(conn, msg.ClientMessageID, protocol.ErrorCodeSessionRequired, "must send hello first")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	ack, err := h.relay.Relay(ctx, service.RelayInput{
		SessionID:       conn.SessionID,
		SenderID:        conn.UserID,
		ClientMessageID: msg.ClientMessageID,
		Body:            msg.Body,
		SentAt:          msg.SentAt,
	})
	if err != nil {
		code, text := wsErrorCode(err)
		if code == protocol.ErrorCodeInternalError {
			h.logger.Error("relay failed", zap.String("session_id", conn.SessionID), zap.Error(err))
		}
		h.sendError(conn, msg.ClientMessageID, code, text)
		return
	}

	h.send(conn, protocol.AckMessage{
		BaseMessage:     protocol.NewBase(protocol.TypeAck, conn.SessionID),
		ClientMessageID: msg.ClientMessageID,
		Seq:             ack.Seq,
		MessageID:       ack.MessageID,
		DeliveredAt:     ack.DeliveredAt,
	})
}

// handleDraft solo avisa al otro participante que se esta escribiendo.
func (h *WSHandler) handleDraft(conn *hub.Connection) {
	if conn.SessionID == "" {
		h.sendError(conn, "", protocol.ErrorCodeSessionRequired, "must send hello first")
		return
	}
	h.hub.SendToSession(conn.SessionID, conn.Role, protocol.TypingMessage{
		BaseMessage: protocol.NewBase(protocol.TypeTyping, conn.SessionID),
		Sender:      conn.Role,
	})
}

func (h *WSHandler) send(conn *hub.Connection, v any) {
	if err := h.hub.SendJSON(conn, v); err != nil {
		h.logger.Warn("send frame failed", zap.String("conn_id", conn.ID), zap.Error(err))
	}
}

func (h *WSHandler) sendError(conn *hub.Connection, clientMessageID, code, message string) {
	h.send(conn, protocol.ErrorMessage{
		BaseMessage:     protocol.NewBase(protocol.TypeError, conn.SessionID),
		ClientMessageID: clientMessageID,
		Code:            code,
		Message:         message,
	})
}

func wsErrorCode(err error) (string, string) {
	switch {
	case errors.Is(err, service.ErrNotParticipant):
		return protocol.ErrorCodeNotParticipant, "user is not a participant of this session"
	case errors.Is(err, room.ErrInvalidTransition):
		return protocol.ErrorCodeSessionEnded, "session has ended"
	case errors.Is(err, room.ErrEmptySubmission):
		return protocol.ErrorCodeEmptyMessage, "message body is empty"
	case errors.Is(err, service.ErrRateLimited):
		return protocol.ErrorCodeRateLimited, "too many messages, slow down"
	case errors.Is(err, service.ErrRelayInvalidInput):
		return protocol.ErrorCodeInvalidMessage, "invalid message"
	default:
		return protocol.ErrorCodeInternalError, "internal error"
	}
}
