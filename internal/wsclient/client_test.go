package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"consult-room/internal/domain"
	"consult-room/internal/hub"
	apihttp "consult-room/internal/http"
	"consult-room/internal/protocol"
	"consult-room/internal/repository"
	"consult-room/internal/rolestore"
	"consult-room/internal/room"
	"consult-room/internal/service"
)

type fixture struct {
	srv     *httptest.Server
	relay   *service.RelayService
	session domain.Session
	// down hace que el servidor rechace todo con 503.
	down *atomic.Bool
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	messages := repository.NewInMemoryMessageRepository()
	h := hub.NewHub(logger, 16)
	relay := service.NewRelayService(logger, repository.NewInMemorySessionRepository(), messages, nil, h)
	router := apihttp.NewRouter(
		logger,
		apihttp.NewChatHandler(logger, relay, service.NewTranscriptService(messages)),
		apihttp.NewUserHandler(logger, service.NewRoleService(logger, rolestore.NewMemoryStore(), "users")),
		apihttp.NewWSHandler(logger, apihttp.WSConfig{}, h, relay),
	)
	down := &atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	session, err := relay.CreateSession(context.Background(), "p1", "c1")
	require.NoError(t, err)
	return fixture{srv: srv, relay: relay, session: session, down: down}
}

func (f fixture) client(t *testing.T, userID string) *Client {
	t.Helper()
	c := New(Config{
		ServerURL:           "ws" + f.srv.URL[len("http"):],
		SessionID:           f.session.ID,
		UserID:              userID,
		HandshakeTimeout:    2 * time.Second,
		ReconnectInterval:   20 * time.Millisecond,
		MaxReconnectElapsed: 2 * time.Second,
	}, nil)
	t.Cleanup(func() { c.Close() })
	return c
}

type inbox struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (i *inbox) add(m domain.Message) {
	i.mu.Lock()
	i.msgs = append(i.msgs, m)
	i.mu.Unlock()
}

func (i *inbox) snapshot() []domain.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]domain.Message, len(i.msgs))
	copy(out, i.msgs)
	return out
}

func TestClient_DeliverAndReceive(t *testing.T) {
	f := newFixture(t)
	patient := f.client(t, "p1")
	counselor := f.client(t, "c1")

	received := &inbox{}
	counselor.OnReceive(received.add)

	ack, err := patient.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RolePatient, ack.Role)
	_, err = counselor.Connect(context.Background())
	require.NoError(t, err)

	msg := domain.Message{ID: "local-1", Body: "hola", SentAt: time.Now().UTC()}
	delivered, err := patient.Deliver(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), delivered.Seq)
	assert.NotEmpty(t, delivered.MessageID)
	assert.False(t, delivered.DeliveredAt.IsZero())

	require.Eventually(t, func() bool { return len(received.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := received.snapshot()[0]
	assert.Equal(t, "hola", got.Body)
	assert.Equal(t, domain.RolePatient, got.Sender)
	assert.Equal(t, uint64(1), counselor.LastSeq())
}

func TestClient_ServerRejection(t *testing.T) {
	f := newFixture(t)
	patient := f.client(t, "p1")
	_, err := patient.Connect(context.Background())
	require.NoError(t, err)

	_, err = patient.Deliver(context.Background(), domain.Message{ID: "blank", Body: "  "})
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.ErrorCodeEmptyMessage, serverErr.Code)
}

func TestClient_HandshakeRejected(t *testing.T) {
	f := newFixture(t)
	stranger := f.client(t, "nobody")
	_, err := stranger.Connect(context.Background())
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.ErrorCodeNotParticipant, serverErr.Code)
	assert.Equal(t, StateDisconnected, stranger.State())
}

func TestClient_DeliverStates(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, "p1")

	_, err := c.Deliver(context.Background(), domain.Message{ID: "x", Body: "hola"})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Close())
	_, err = c.Deliver(context.Background(), domain.Message{ID: "x", Body: "hola"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClient_SessionEnded(t *testing.T) {
	f := newFixture(t)
	counselor := f.client(t, "c1")
	ended := make(chan struct{}, 1)
	counselor.OnSessionEnded(func() { ended <- struct{}{} })
	_, err := counselor.Connect(context.Background())
	require.NoError(t, err)

	_, err = f.relay.Close(context.Background(), f.session.ID)
	require.NoError(t, err)

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("session_ended not received")
	}
}

func TestClient_ReconnectReplaysMissed(t *testing.T) {
	f := newFixture(t)
	counselor := f.client(t, "c1")
	received := &inbox{}
	counselor.OnReceive(received.add)
	_, err := counselor.Connect(context.Background())
	require.NoError(t, err)

	_, err = f.relay.Relay(context.Background(), service.RelayInput{SessionID: f.session.ID, SenderID: "p1", Body: "uno"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(received.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Cortamos el socket por debajo del cliente.
	counselor.mu.RLock()
	counselor.conn.Close()
	counselor.mu.RUnlock()

	_, err = f.relay.Relay(context.Background(), service.RelayInput{SessionID: f.session.ID, SenderID: "p1", Body: "dos"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return counselor.Reconnects() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(received.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)

	msgs := received.snapshot()
	assert.Equal(t, "uno", msgs[0].Body)
	assert.Equal(t, "dos", msgs[1].Body)
	assert.Equal(t, uint64(2), counselor.LastSeq())
	assert.Equal(t, StateConnected, counselor.State())
}

func TestClient_DuplicatePeerFramesDropped(t *testing.T) {
	c := New(Config{SessionID: "s1"}, nil)
	received := &inbox{}
	c.OnReceive(received.add)

	frame := func(seq uint64) []byte {
		data, err := json.Marshal(protocol.NewPeerMessage(domain.Message{
			Seq: seq, ID: "m", SessionID: "s1", Sender: domain.RoleCounselor, Body: "x",
		}))
		require.NoError(t, err)
		return data
	}

	c.handleFrame(frame(1))
	c.handleFrame(frame(1))
	c.handleFrame(frame(3))
	c.handleFrame(frame(2))

	assert.Len(t, received.snapshot(), 2)
	assert.Equal(t, uint64(3), c.LastSeq())
}

func TestClient_PendingFailsOnConnectionLoss(t *testing.T) {
	c := New(Config{SessionID: "s1"}, nil)
	ch := make(chan outcome, 1)
	c.pending["m1"] = ch

	c.failPending(ErrConnectionLost)
	res := <-ch
	assert.True(t, errors.Is(res.err, ErrConnectionLost))
}

// Dos salas conectadas por el servidor real.
func TestClient_RoomsOverRelay(t *testing.T) {
	f := newFixture(t)
	patientT := f.client(t, "p1")
	counselorT := f.client(t, "c1")

	patientRoom, err := room.New(f.session, domain.RolePatient, patientT)
	require.NoError(t, err)
	counselorRoom, err := room.New(f.session, domain.RoleCounselor, counselorT)
	require.NoError(t, err)

	_, err = patientT.Connect(context.Background())
	require.NoError(t, err)
	_, err = counselorT.Connect(context.Background())
	require.NoError(t, err)

	patientRoom.SetDraft("  necesito ayuda  ")
	sent, err := patientRoom.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "necesito ayuda", sent.Body)
	patientRoom.Wait()

	local := patientRoom.Messages()
	require.Len(t, local, 1)
	assert.Equal(t, domain.DeliverySent, local[0].DeliveryState)
	assert.NotNil(t, local[0].DeliveredAt)

	require.Eventually(t, func() bool { return len(counselorRoom.Messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	inbound := counselorRoom.Messages()[0]
	assert.Equal(t, "necesito ayuda", inbound.Body)
	assert.Equal(t, domain.RolePatient, inbound.Sender)
	assert.Equal(t, domain.DeliveryReceived, inbound.DeliveryState)
	assert.Equal(t, domain.SessionActive, counselorRoom.Session().Status)
}

func TestClient_FetchSession(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, "c1")

	session, err := c.FetchSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.session.ID, session.ID)
	assert.Equal(t, "c1", session.Participants.CounselorID)

	missing := New(Config{ServerURL: c.cfg.ServerURL, SessionID: "nope"}, nil)
	_, err = missing.FetchSession(context.Background())
	assert.Error(t, err)
}

func TestConfig_HTTPBase(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", Config{ServerURL: "ws://localhost:8080/"}.httpBase())
	assert.Equal(t, "https://consult.example.com", Config{ServerURL: "wss://consult.example.com"}.httpBase())
}

func TestClient_GivesUpThenConnectsAgain(t *testing.T) {
	f := newFixture(t)
	c := New(Config{
		ServerURL:           "ws" + f.srv.URL[len("http"):],
		SessionID:           f.session.ID,
		UserID:              "c1",
		HandshakeTimeout:    time.Second,
		ReconnectInterval:   10 * time.Millisecond,
		MaxReconnectElapsed: 200 * time.Millisecond,
	}, nil)
	t.Cleanup(func() { c.Close() })

	lost := make(chan error, 1)
	c.OnDisconnected(func(err error) { lost <- err })
	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	f.down.Store(true)
	c.mu.RLock()
	c.conn.Close()
	c.mu.RUnlock()

	select {
	case err := <-lost:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect not reported")
	}
	assert.Equal(t, StateDisconnected, c.State())
	_, err = c.Deliver(context.Background(), domain.Message{ID: "m1", Body: "hola"})
	assert.ErrorIs(t, err, ErrNotConnected)

	f.down.Store(false)
	_, err = c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())

	ack, err := c.Deliver(context.Background(), domain.Message{ID: "m2", Body: "volvi"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ack.Seq)
}
