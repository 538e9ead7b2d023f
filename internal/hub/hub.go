// Package hub lleva el registro de conexiones WebSocket por sesion.
package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"consult-room/internal/domain"
	"consult-room/internal/protocol"
)

var (
	ErrBufferFull       = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

const defaultSendBuffer = 64

// Connection es una conexion WebSocket. SessionID y Role quedan fijos tras Bind.
type Connection struct {
	ID        string
	SessionID string
	UserID    string
	Role      domain.Role
	Conn      *websocket.Conn
	Send      chan []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// WriteFrame escribe en el socket con su propio deadline. Serializa con el
// writePump, asi que sirve para escribir por fuera del canal Send.
func (c *Connection) WriteFrame(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.Conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}

// WriteJSON serializa v y lo escribe directo en el socket.
func (c *Connection) WriteJSON(v any, timeout time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteFrame(websocket.TextMessage, data, timeout)
}

func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

func (c *Connection) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// Hub reparte frames entre las conexiones de cada sesion.
type Hub struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	connections map[string]*Connection
	sessions    map[string]map[string]*Connection
}

func NewHub(logger *zap.Logger, bufferSize int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	return &Hub{
		logger:      logger,
		bufferSize:  bufferSize,
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]*Connection),
	}
}

func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.NewString(),
		Conn: ws,
		Send: make(chan []byte, h.bufferSize),
	}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()
	h.logger.Debug("connection registered", zap.String("conn_id", conn.ID))
}

// Unregister saca la conexion y cierra su canal de envio. Es idempotente.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	h.removeLocked(conn)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(conn *Connection) {
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	if conns := h.sessions[conn.SessionID]; conns != nil {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(h.sessions, conn.SessionID)
		}
	}
	conn.closeOnce.Do(func() { close(conn.Send) })
	h.logger.Debug("connection unregistered",
		zap.String("conn_id", conn.ID),
		zap.String("session_id", conn.SessionID),
	)
}

// Bind asocia la conexion a una sesion y al rol del usuario.
func (h *Hub) Bind(conn *Connection, sessionID, userID string, role domain.Role) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old := h.sessions[conn.SessionID]; old != nil {
		delete(old, conn.ID)
		if len(old) == 0 {
			delete(h.sessions, conn.SessionID)
		}
	}
	conn.SessionID = sessionID
	conn.UserID = userID
	conn.Role = role
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*Connection)
	}
	h.sessions[sessionID][conn.ID] = conn
	h.logger.Info("connection bound",
		zap.String("conn_id", conn.ID),
		zap.String("session_id", sessionID),
		zap.String("role", string(role)),
	)
}

// SendToSession envia v a las conexiones de la sesion cuyo rol no sea except
// (vacio = todas). Devuelve cuantas conexiones lo recibieron. Las conexiones
// con el buffer lleno se descartan.
func (h *Hub) SendToSession(sessionID string, except domain.Role, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal frame failed", zap.Error(err))
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	reached := 0
	for _, conn := range h.sessions[sessionID] {
		if except != "" && conn.Role == except {
			continue
		}
		select {
		case conn.Send <- data:
			reached++
		default:
			h.logger.Warn("connection buffer full, dropping",
				zap.String("conn_id", conn.ID),
				zap.String("session_id", sessionID),
			)
			h.removeLocked(conn)
		}
	}
	return reached
}

// SendJSON envia v solo a conn.
func (h *Hub) SendJSON(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrConnectionClosed
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// PublishMessage reenvia un mensaje numerado al otro participante.
func (h *Hub) PublishMessage(msg domain.Message) int {
	return h.SendToSession(msg.SessionID, msg.Sender, protocol.NewPeerMessage(msg))
}

func (h *Hub) PublishSessionEnded(session domain.Session) int {
	return h.SendToSession(session.ID, "", protocol.SessionEndedMessage{
		BaseMessage: protocol.NewBase(protocol.TypeSessionEnded, session.ID),
		EndedAt:     session.EndedAt,
	})
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
