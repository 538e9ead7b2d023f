// Package wsclient implementa el transporte de la sala sobre el WebSocket del servidor.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"consult-room/internal/domain"
	"consult-room/internal/protocol"
)

var (
	ErrNotConnected   = errors.New("client is not connected")
	ErrClosed         = errors.New("client closed")
	ErrConnectionLost = errors.New("connection lost before ack")
)

// ServerError es un frame de error del servidor para un envio o el handshake.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected (%s): %s", e.Code, e.Message)
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Config identifica la sesion y el usuario y ajusta la reconexion.
type Config struct {
	ServerURL           string
	SessionID           string
	UserID              string
	HandshakeTimeout    time.Duration
	WriteTimeout        time.Duration
	ReconnectInterval   time.Duration
	MaxReconnectElapsed time.Duration
}

func (c Config) endpoint() string {
	return strings.TrimRight(c.ServerURL, "/") + "/sessions/" + c.SessionID + "/ws"
}

type outcome struct {
	ack protocol.AckMessage
	err error
}

// Client es un room.Transport: Deliver espera el ack del servidor y los
// mensajes del otro participante llegan por OnReceive, sin duplicados por seq.
type Client struct {
	cfg    Config
	logger *zap.Logger
	dialer *websocket.Dialer
	state  atomic.Int32

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	stopChan      chan struct{}
	reconnectChan chan struct{}
	closeOnce     sync.Once
	loopOnce      sync.Once

	lastSeq    atomic.Uint64
	reconnects atomic.Int32

	helloMu sync.RWMutex
	hello   protocol.HelloAckMessage

	pendingMu sync.Mutex
	pending   map[string]chan outcome

	handlerMu      sync.RWMutex
	onReceive      func(domain.Message)
	onSessionEnded func()
	onTyping       func(domain.Role)
	onDisconnected func(error)
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = time.Second
	}
	if cfg.MaxReconnectElapsed <= 0 {
		cfg.MaxReconnectElapsed = 2 * time.Minute
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout

	c := &Client{
		cfg:           cfg,
		logger:        logger.With(zap.String("session_id", cfg.SessionID)),
		dialer:        &dialer,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
		pending:       make(map[string]chan outcome),
	}
	c.setState(StateDisconnected)
	return c
}

// OnReceive registra el callback de mensajes entrantes.
func (c *Client) OnReceive(fn func(domain.Message)) {
	c.handlerMu.Lock()
	c.onReceive = fn
	c.handlerMu.Unlock()
}

func (c *Client) OnSessionEnded(fn func()) {
	c.handlerMu.Lock()
	c.onSessionEnded = fn
	c.handlerMu.Unlock()
}

func (c *Client) OnTyping(fn func(domain.Role)) {
	c.handlerMu.Lock()
	c.onTyping = fn
	c.handlerMu.Unlock()
}

// OnDisconnected se llama cuando la reconexion se rinde. El cliente queda
// en StateDisconnected y Connect puede volver a intentarlo.
func (c *Client) OnDisconnected(fn func(error)) {
	c.handlerMu.Lock()
	c.onDisconnected = fn
	c.handlerMu.Unlock()
}

// Connect abre la conexion y completa el hello. Devuelve el hello_ack.
// Tambien sirve para volver a conectar despues de OnDisconnected.
func (c *Client) Connect(ctx context.Context) (protocol.HelloAckMessage, error) {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return protocol.HelloAckMessage{}, errors.New("client is not in disconnected state")
	}
	conn, ack, err := c.dial(ctx)
	if err != nil {
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateDisconnected))
		return protocol.HelloAckMessage{}, err
	}
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		conn.Close()
		return protocol.HelloAckMessage{}, ErrClosed
	}

	go c.readLoop(conn)
	c.loopOnce.Do(func() { go c.reconnectLoop() })
	return ack, nil
}

// Hello devuelve el ultimo hello_ack recibido.
func (c *Client) Hello() protocol.HelloAckMessage {
	c.helloMu.RLock()
	defer c.helloMu.RUnlock()
	return c.hello
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) LastSeq() uint64 {
	return c.lastSeq.Load()
}

func (c *Client) Reconnects() int {
	return int(c.reconnects.Load())
}

// dial conecta y hace el handshake de forma sincronica, antes de arrancar readLoop.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, protocol.HelloAckMessage, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.endpoint(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, protocol.HelloAckMessage{}, fmt.Errorf("dial failed: %w", err)
	}

	hello := protocol.HelloMessage{
		BaseMessage: protocol.NewBase(protocol.TypeHello, c.cfg.SessionID),
		UserID:      c.cfg.UserID,
		LastSeq:     c.lastSeq.Load(),
	}
	if err := c.writeTo(conn, hello); err != nil {
		conn.Close()
		return nil, protocol.HelloAckMessage{}, fmt.Errorf("send hello failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, protocol.HelloAckMessage{}, fmt.Errorf("read hello_ack failed: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	frameType, err := protocol.FrameType(data)
	if err != nil {
		conn.Close()
		return nil, protocol.HelloAckMessage{}, fmt.Errorf("decode hello_ack failed: %w", err)
	}
	switch frameType {
	case protocol.TypeHelloAck:
	case protocol.TypeError:
		var errFrame protocol.ErrorMessage
		_ = json.Unmarshal(data, &errFrame)
		conn.Close()
		return nil, protocol.HelloAckMessage{}, &ServerError{Code: errFrame.Code, Message: errFrame.Message}
	default:
		conn.Close()
		return nil, protocol.HelloAckMessage{}, fmt.Errorf("unexpected frame for hello_ack: %s", frameType)
	}

	var ack protocol.HelloAckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		conn.Close()
		return nil, protocol.HelloAckMessage{}, fmt.Errorf("decode hello_ack failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.helloMu.Lock()
	c.hello = ack
	c.helloMu.Unlock()

	c.logger.Info("hello handshake completed",
		zap.String("role", string(ack.Role)),
		zap.String("status", string(ack.Status)),
		zap.Uint64("last_seq", ack.LastSeq),
	)
	return conn, ack, nil
}

// Deliver envia el mensaje y espera su ack, un error del servidor o el fin de ctx.
func (c *Client) Deliver(ctx context.Context, msg domain.Message) (domain.Ack, error) {
	switch c.State() {
	case StateClosed:
		return domain.Ack{}, ErrClosed
	case StateConnected:
	default:
		return domain.Ack{}, ErrNotConnected
	}

	ch := make(chan outcome, 1)
	c.pendingMu.Lock()
	c.pending[msg.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	frame := protocol.SendMessage{
		BaseMessage:     protocol.NewBase(protocol.TypeMessage, c.cfg.SessionID),
		ClientMessageID: msg.ID,
		Body:            msg.Body,
		SentAt:          msg.SentAt,
	}
	if err := c.write(frame); err != nil {
		c.triggerReconnect()
		return domain.Ack{}, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return domain.Ack{}, res.err
		}
		return domain.Ack{
			MessageID:   res.ack.MessageID,
			Seq:         res.ack.Seq,
			DeliveredAt: res.ack.DeliveredAt,
		}, nil
	case <-ctx.Done():
		return domain.Ack{}, ctx.Err()
	case <-c.stopChan:
		return domain.Ack{}, ErrClosed
	}
}

func (c *Client) write(v any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeTo(conn, v)
}

func (c *Client) writeTo(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame failed: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop lee de una conexion concreta hasta que falla.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopChan:
			default:
				c.logger.Warn("read failed", zap.Error(err))
				c.triggerReconnect()
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	frameType, err := protocol.FrameType(data)
	if err != nil {
		c.logger.Warn("invalid frame", zap.Error(err))
		return
	}

	switch frameType {
	case protocol.TypeAck:
		var ack protocol.AckMessage
		if err := json.Unmarshal(data, &ack); err != nil {
			c.logger.Warn("invalid ack frame", zap.Error(err))
			return
		}
		c.resolve(ack.ClientMessageID, outcome{ack: ack})
	case protocol.TypeError:
		var errFrame protocol.ErrorMessage
		if err := json.Unmarshal(data, &errFrame); err != nil {
			c.logger.Warn("invalid error frame", zap.Error(err))
			return
		}
		serverErr := &ServerError{Code: errFrame.Code, Message: errFrame.Message}
		if errFrame.ClientMessageID == "" || !c.resolve(errFrame.ClientMessageID, outcome{err: serverErr}) {
			c.logger.Warn("server error", zap.String("code", errFrame.Code), zap.String("message", errFrame.Message))
		}
	case protocol.TypeMessage:
		var peer protocol.PeerMessage
		if err := json.Unmarshal(data, &peer); err != nil {
			c.logger.Warn("invalid message frame", zap.Error(err))
			return
		}
		c.handlePeerMessage(peer)
	case protocol.TypeTyping:
		var typing protocol.TypingMessage
		if err := json.Unmarshal(data, &typing); err != nil {
			return
		}
		c.handlerMu.RLock()
		fn := c.onTyping
		c.handlerMu.RUnlock()
		if fn != nil {
			fn(typing.Sender)
		}
	case protocol.TypeSessionEnded:
		c.logger.Info("session ended by server")
		c.handlerMu.RLock()
		fn := c.onSessionEnded
		c.handlerMu.RUnlock()
		if fn != nil {
			fn()
		}
	case protocol.TypeHelloAck:
	default:
		c.logger.Debug("unknown frame ignored", zap.String("type", frameType))
	}
}

// handlePeerMessage descarta seq ya vistos: tras reconectar el servidor puede
// reenviar lo que tambien llego en vivo.
func (c *Client) handlePeerMessage(peer protocol.PeerMessage) {
	for {
		last := c.lastSeq.Load()
		if peer.Seq <= last {
			c.logger.Debug("duplicate message dropped", zap.Uint64("seq", peer.Seq), zap.Uint64("last_seq", last))
			return
		}
		if c.lastSeq.CompareAndSwap(last, peer.Seq) {
			break
		}
	}

	c.handlerMu.RLock()
	fn := c.onReceive
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(peer.ToDomain())
	}
}

func (c *Client) resolve(clientMessageID string, res outcome) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[clientMessageID]
	c.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- res:
	default:
	}
	return true
}

// failPending corta las entregas en curso de una conexion perdida.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for _, ch := range c.pending {
		select {
		case ch <- outcome{err: err}:
		default:
		}
	}
}

func (c *Client) reconnectLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
			c.doReconnect()
		}
	}
}

func (c *Client) triggerReconnect() {
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting)) {
		select {
		case c.reconnectChan <- struct{}{}:
		default:
		}
	}
}

func (c *Client) doReconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.failPending(ErrConnectionLost)

	c.logger.Info("reconnecting", zap.Uint64("last_seq", c.lastSeq.Load()))

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = c.cfg.ReconnectInterval
	backOff.MaxElapsedTime = c.cfg.MaxReconnectElapsed

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		var err error
		conn, _, err = c.dial(ctx)
		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backOff, ctx))

	if err != nil {
		c.logger.Warn("reconnect failed", zap.Error(err))
		if c.state.CompareAndSwap(int32(StateReconnecting), int32(StateDisconnected)) {
			c.handlerMu.RLock()
			fn := c.onDisconnected
			c.handlerMu.RUnlock()
			if fn != nil {
				fn(err)
			}
		}
		return
	}
	if !c.state.CompareAndSwap(int32(StateReconnecting), int32(StateConnected)) {
		conn.Close()
		return
	}
	c.reconnects.Add(1)
	c.logger.Info("reconnected")
	go c.readLoop(conn)
}

// Close cierra la conexion. Las entregas en curso terminan con ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.stopChan)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
			err = conn.Close()
		}
	})
	return err
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}
