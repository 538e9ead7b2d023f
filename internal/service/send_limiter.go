package service

import (
	"strings"
	"sync"
	"time"
)

// SendLimiter limita cuantos mensajes puede enviar un participante por ventana.
type SendLimiter interface {
	Allow(key string) bool
}

type memorySendLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewSendLimiter crea un limitador de ventana deslizante en memoria.
func NewSendLimiter(window time.Duration, max int) SendLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &memorySendLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *memorySendLimiter) Allow(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	entries := l.hits[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

func sendLimiterKey(sessionID, senderID string) string {
	return sessionID + ":" + senderID
}
