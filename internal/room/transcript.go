package room

import (
	"sync"
	"time"

	"consult-room/internal/domain"
)

// Transcript es el log ordenado y solo-append de los mensajes de una sesion.
// El orden es el de insercion; no reordena ni deduplica.
type Transcript struct {
	mu        sync.RWMutex
	sessionID string
	messages  []domain.Message
	index     map[string]int
	lastSeq   uint64
}

func NewTranscript(sessionID string) *Transcript {
	return &Transcript{
		sessionID: sessionID,
		index:     make(map[string]int),
	}
}

// RestoreTranscript reconstruye un transcript a partir de mensajes archivados,
// ya ordenados por seq, y continua la numeracion despues del ultimo.
func RestoreTranscript(sessionID string, archived []domain.Message) *Transcript {
	t := NewTranscript(sessionID)
	for _, msg := range archived {
		msg.SessionID = sessionID
		if msg.Seq <= t.lastSeq {
			msg.Seq = t.lastSeq + 1
		}
		t.lastSeq = msg.Seq
		t.index[msg.ID] = len(t.messages)
		t.messages = append(t.messages, msg)
	}
	return t
}

func (t *Transcript) SessionID() string {
	return t.sessionID
}

// Append agrega al final y asigna el siguiente seq. Devuelve la copia guardada.
func (t *Transcript) Append(msg domain.Message) domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastSeq++
	msg.Seq = t.lastSeq
	msg.SessionID = t.sessionID
	if msg.ID != "" {
		t.index[msg.ID] = len(t.messages)
	}
	t.messages = append(t.messages, msg)
	return msg
}

// All devuelve una copia completa en orden de insercion.
func (t *Transcript) All() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// After devuelve los mensajes con seq mayor a seq.
func (t *Transcript) After(seq uint64) []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := []domain.Message{}
	for _, msg := range t.messages {
		if msg.Seq > seq {
			out = append(out, msg)
		}
	}
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

func (t *Transcript) LastSeq() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSeq
}

func (t *Transcript) Get(messageID string) (domain.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.index[messageID]
	if !ok {
		return domain.Message{}, false
	}
	return t.messages[pos], true
}

// Annotate registra el resultado de entrega. Solo toca los campos de entrega;
// cuerpo, remitente y posicion no cambian.
func (t *Transcript) Annotate(messageID string, state domain.DeliveryState, at *time.Time, cause error) (domain.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.index[messageID]
	if !ok {
		return domain.Message{}, false
	}
	msg := &t.messages[pos]
	msg.DeliveryState = state
	msg.DeliveredAt = at
	msg.DeliveryError = ""
	if cause != nil {
		msg.DeliveryError = cause.Error()
	}
	return *msg, true
}
