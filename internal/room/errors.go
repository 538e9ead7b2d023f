package room

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySubmission se devuelve cuando el borrador queda vacio tras recortar.
	// Los llamadores lo tratan como un no-op silencioso.
	ErrEmptySubmission = errors.New("empty submission")
	// ErrInvalidTransition se devuelve al enviar en una sesion terminada.
	ErrInvalidTransition = errors.New("invalid transition: session ended")
	ErrUnknownRole       = errors.New("unknown participant role")
	ErrRoomNotConfigured = errors.New("room not configured")
)

// DeliveryError envuelve la falla del transporte para un mensaje ya visible localmente.
type DeliveryError struct {
	MessageID string
	Seq       uint64
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver message %s (seq %d): %v", e.MessageID, e.Seq, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
