package domain

import "time"

// DeliveryState anota el resultado de entregar un mensaje propio.
type DeliveryState string

const (
	DeliveryPending  DeliveryState = "pending"
	DeliverySent     DeliveryState = "sent"
	DeliveryFailed   DeliveryState = "failed"
	DeliveryReceived DeliveryState = "received"
)

// Message es una unidad de texto dentro de una sesion.
// Seq lo asigna el transcript al insertar; el resto no cambia salvo la entrega.
type Message struct {
	Seq           uint64        `json:"seq"`
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	Sender        Role          `json:"sender"`
	SenderID      string        `json:"sender_id,omitempty"`
	Body          string        `json:"body"`
	SentAt        time.Time     `json:"sent_at"`
	ReceivedAt    *time.Time    `json:"received_at,omitempty"`
	DeliveryState DeliveryState `json:"delivery_state,omitempty"`
	DeliveryError string        `json:"delivery_error,omitempty"`
	DeliveredAt   *time.Time    `json:"delivered_at,omitempty"`
}

// Ack confirma que el otro extremo acepto un mensaje.
type Ack struct {
	MessageID   string    `json:"message_id"`
	Seq         uint64    `json:"seq"`
	DeliveredAt time.Time `json:"delivered_at"`
}
