// Package protocol define los frames JSON que viajan por el WebSocket de una consulta.
package protocol

import (
	"encoding/json"
	"time"

	"consult-room/internal/domain"
)

// Cliente -> servidor
const (
	TypeHello   = "hello"
	TypeMessage = "message"
	TypeDraft   = "draft"
)

// Servidor -> cliente. TypeMessage tambien se usa para reenviar al otro participante.
const (
	TypeHelloAck     = "hello_ack"
	TypeAck          = "ack"
	TypeTyping       = "typing"
	TypeSessionEnded = "session_ended"
	TypeError        = "error"
)

const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeNotParticipant  = "not_participant"
	ErrorCodeSessionEnded    = "session_ended"
	ErrorCodeEmptyMessage    = "empty_message"
	ErrorCodeRateLimited     = "rate_limited"
	ErrorCodeInternalError   = "internal_error"
)

// BaseMessage lleva los campos comunes de todos los frames.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	SessionID string `json:"session_id,omitempty"`
}

func NewBase(frameType, sessionID string) BaseMessage {
	return BaseMessage{Type: frameType, Ts: time.Now().UnixMilli(), SessionID: sessionID}
}

// HelloMessage vincula la conexion a la sesion. LastSeq es el ultimo seq
// recibido por el cliente; el servidor reenvia lo posterior.
type HelloMessage struct {
	BaseMessage
	UserID  string `json:"user_id"`
	LastSeq uint64 `json:"last_seq"`
}

type HelloAckMessage struct {
	BaseMessage
	Role    domain.Role          `json:"role"`
	Status  domain.SessionStatus `json:"status"`
	LastSeq uint64               `json:"last_seq"`
}

// SendMessage es un envio del participante local.
type SendMessage struct {
	BaseMessage
	ClientMessageID string    `json:"client_message_id"`
	Body            string    `json:"body"`
	SentAt          time.Time `json:"sent_at"`
}

type DraftMessage struct {
	BaseMessage
	Body string `json:"body"`
}

type AckMessage struct {
	BaseMessage
	ClientMessageID string    `json:"client_message_id"`
	Seq             uint64    `json:"seq"`
	MessageID       string    `json:"message_id"`
	DeliveredAt     time.Time `json:"delivered_at"`
}

// PeerMessage es un mensaje ya numerado por el servidor.
type PeerMessage struct {
	BaseMessage
	Seq       uint64      `json:"seq"`
	MessageID string      `json:"message_id"`
	Sender    domain.Role `json:"sender"`
	SenderID  string      `json:"sender_id"`
	Body      string      `json:"body"`
	SentAt    time.Time   `json:"sent_at"`
}

type TypingMessage struct {
	BaseMessage
	Sender domain.Role `json:"sender"`
}

type SessionEndedMessage struct {
	BaseMessage
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

type ErrorMessage struct {
	BaseMessage
	ClientMessageID string `json:"client_message_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewPeerMessage(msg domain.Message) PeerMessage {
	return PeerMessage{
		BaseMessage: NewBase(TypeMessage, msg.SessionID),
		Seq:         msg.Seq,
		MessageID:   msg.ID,
		Sender:      msg.Sender,
		SenderID:    msg.SenderID,
		Body:        msg.Body,
		SentAt:      msg.SentAt,
	}
}

// ToDomain devuelve el mensaje tal como lo entrega el transporte; el seq
// local lo asigna el transcript del receptor.
func (m PeerMessage) ToDomain() domain.Message {
	return domain.Message{
		ID:        m.MessageID,
		SessionID: m.SessionID,
		Sender:    m.Sender,
		SenderID:  m.SenderID,
		Body:      m.Body,
		SentAt:    m.SentAt,
	}
}

// FrameType lee solo el campo type para despachar el frame.
func FrameType(data []byte) (string, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return "", err
	}
	return base.Type, nil
}
