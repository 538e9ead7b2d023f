package room

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"consult-room/internal/domain"
)

func TestSessionContext_StartsPendingWhenStatusMissing(t *testing.T) {
	c := NewSessionContext(domain.Session{ID: "s1"})
	assert.Equal(t, domain.SessionPending, c.Status())
	assert.True(t, c.CanSend())
}

func TestSessionContext_MarkActiveIsIdempotent(t *testing.T) {
	c := NewSessionContext(testSession())

	assert.True(t, c.MarkActive())
	first := c.Snapshot().ActivatedAt
	assert.False(t, c.MarkActive())
	assert.Equal(t, domain.SessionActive, c.Status())
	assert.Equal(t, first, c.Snapshot().ActivatedAt)
}

func TestSessionContext_EndedIsTerminal(t *testing.T) {
	c := NewSessionContext(testSession())

	assert.True(t, c.MarkEnded())
	assert.False(t, c.MarkEnded())
	assert.False(t, c.MarkActive())
	assert.False(t, c.CanSend())
	assert.Equal(t, domain.SessionEnded, c.Status())
	assert.NotNil(t, c.Snapshot().EndedAt)
}

func TestSessionContext_ActiveCanEnd(t *testing.T) {
	c := NewSessionContext(testSession())
	c.MarkActive()
	assert.True(t, c.CanSend())
	assert.True(t, c.MarkEnded())
	assert.False(t, c.CanSend())
}
