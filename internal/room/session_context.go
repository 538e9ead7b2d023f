package room

import (
	"sync"
	"time"

	"consult-room/internal/domain"
)

// SessionContext decide si se permiten envios segun el estado de la sesion.
// Pending -(primer mensaje)-> Active -(cierre)-> Ended. Ended es terminal.
type SessionContext struct {
	mu      sync.RWMutex
	session domain.Session
	now     func() time.Time
}

func NewSessionContext(session domain.Session) *SessionContext {
	if !session.Status.Valid() {
		session.Status = domain.SessionPending
	}
	return &SessionContext{
		session: session,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock reemplaza el reloj usado para ActivatedAt y EndedAt.
func (c *SessionContext) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Snapshot devuelve una copia del estado actual.
func (c *SessionContext) Snapshot() domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *SessionContext) Status() domain.SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Status
}

func (c *SessionContext) CanSend() bool {
	return c.Status() != domain.SessionEnded
}

// MarkActive pasa Pending -> Active. Devuelve true solo si hubo transicion.
func (c *SessionContext) MarkActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status != domain.SessionPending {
		return false
	}
	now := c.now()
	c.session.Status = domain.SessionActive
	c.session.ActivatedAt = &now
	return true
}

// MarkEnded pasa cualquier estado a Ended. Idempotente.
func (c *SessionContext) MarkEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status == domain.SessionEnded {
		return false
	}
	now := c.now()
	c.session.Status = domain.SessionEnded
	c.session.EndedAt = &now
	return true
}
