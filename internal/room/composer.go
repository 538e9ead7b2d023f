package room

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"consult-room/internal/domain"
)

// Gate indica si la sesion acepta envios.
type Gate interface {
	CanSend() bool
}

// Composer guarda el borrador local y lo convierte en un mensaje al enviar.
type Composer struct {
	mu        sync.Mutex
	sessionID string
	sender    domain.Role
	senderID  string
	draft     string
	gate      Gate
	now       func() time.Time
	newID     func() string
}

func NewComposer(sessionID string, sender domain.Role, senderID string, gate Gate) *Composer {
	return &Composer{
		sessionID: sessionID,
		sender:    sender,
		senderID:  senderID,
		gate:      gate,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// SetDraft reemplaza el buffer sin validar.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Submit construye el mensaje y limpia el buffer. Con la sesion terminada
// devuelve ErrInvalidTransition; con un borrador en blanco ErrEmptySubmission.
// En ambos casos el buffer queda intacto.
func (c *Composer) Submit() (domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gate != nil && !c.gate.CanSend() {
		return domain.Message{}, ErrInvalidTransition
	}
	body := strings.TrimSpace(c.draft)
	if body == "" {
		return domain.Message{}, ErrEmptySubmission
	}

	msg := domain.Message{
		ID:            c.newID(),
		SessionID:     c.sessionID,
		Sender:        c.sender,
		SenderID:      c.senderID,
		Body:          body,
		SentAt:        c.now(),
		DeliveryState: domain.DeliveryPending,
	}
	c.draft = ""
	return msg, nil
}
