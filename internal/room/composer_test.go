package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consult-room/internal/domain"
)

type gateFunc func() bool

func (g gateFunc) CanSend() bool { return g() }

func TestComposer_SubmitTrimsAndClears(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewComposer("s1", domain.RoleCounselor, "c1", nil)
	c.now = func() time.Time { return fixed }

	c.SetDraft("  apa kabar?  ")
	msg, err := c.Submit()
	require.NoError(t, err)
	assert.Equal(t, "apa kabar?", msg.Body)
	assert.Equal(t, domain.RoleCounselor, msg.Sender)
	assert.Equal(t, "c1", msg.SenderID)
	assert.Equal(t, "s1", msg.SessionID)
	assert.True(t, msg.SentAt.Equal(fixed))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, domain.DeliveryPending, msg.DeliveryState)
	assert.Empty(t, c.Draft())
}

func TestComposer_SetDraftReplacesUnconditionally(t *testing.T) {
	c := NewComposer("s1", domain.RolePatient, "p1", nil)
	c.SetDraft("satu")
	c.SetDraft("")
	assert.Empty(t, c.Draft())
	c.SetDraft("   ")
	assert.Equal(t, "   ", c.Draft())
}

func TestComposer_GateClosedRejectsBeforeValidation(t *testing.T) {
	open := true
	c := NewComposer("s1", domain.RolePatient, "p1", gateFunc(func() bool { return open }))

	c.SetDraft("halo")
	open = false
	_, err := c.Submit()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "halo", c.Draft())

	open = true
	_, err = c.Submit()
	assert.NoError(t, err)
}
