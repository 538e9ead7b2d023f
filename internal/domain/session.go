package domain

import "time"

// SessionStatus es el ciclo de vida de una consulta: pending -> active -> ended.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionActive, SessionEnded:
		return true
	default:
		return false
	}
}

// Session es una consulta entre un paciente y un consejero.
type Session struct {
	ID           string        `json:"id"`
	Participants Participants  `json:"participants"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	ActivatedAt  *time.Time    `json:"activated_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
}
