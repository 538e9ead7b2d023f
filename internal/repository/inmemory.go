package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"consult-room/internal/domain"
)

// InMemorySessionRepository no es persistente; sirve para desarrollo y tests.
type InMemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{
		sessions: make(map[string]domain.Session),
	}
}

func (r *InMemorySessionRepository) Create(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.ID]; exists {
		return errors.New("session already exists")
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *InMemorySessionRepository) GetByID(_ context.Context, id string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (r *InMemorySessionRepository) UpdateStatus(_ context.Context, id string, status domain.SessionStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	switch status {
	case domain.SessionActive:
		if session.Status != domain.SessionPending {
			return nil
		}
		session.ActivatedAt = &at
	case domain.SessionEnded:
		if session.EndedAt == nil {
			session.EndedAt = &at
		}
	default:
		return nil
	}
	session.Status = status
	r.sessions[id] = session
	return nil
}

func (r *InMemorySessionRepository) ListByParticipant(_ context.Context, userID string, limit int) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.Session{}
	for _, s := range r.sessions {
		if s.Participants.PatientID == userID || s.Participants.CounselorID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type InMemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string][]domain.Message
}

func NewInMemoryMessageRepository() *InMemoryMessageRepository {
	return &InMemoryMessageRepository{
		messages: make(map[string][]domain.Message),
	}
}

func (r *InMemoryMessageRepository) Create(_ context.Context, message domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages[message.SessionID] {
		if m.Seq == message.Seq || m.ID == message.ID {
			return errors.New("message already archived")
		}
	}
	r.messages[message.SessionID] = append(r.messages[message.SessionID], message)
	return nil
}

func (r *InMemoryMessageRepository) ListBySessionID(_ context.Context, sessionID string, afterSeq uint64) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Message{}
	for _, m := range r.messages[sessionID] {
		if m.Seq > afterSeq {
			m.DeliveryState = domain.DeliveryReceived
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
