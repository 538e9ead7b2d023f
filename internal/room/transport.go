package room

import (
	"context"

	"consult-room/internal/domain"
)

// Transport mueve mensajes entre los participantes. Las implementaciones viven
// fuera del nucleo (WebSocket, HTTP, etc.).
type Transport interface {
	// Deliver intenta enviar un mensaje saliente. Un error no lo borra del transcript.
	Deliver(ctx context.Context, msg domain.Message) (domain.Ack, error)
	// OnReceive registra el callback para mensajes entrantes, en orden de llegada.
	OnReceive(fn func(domain.Message))
}
