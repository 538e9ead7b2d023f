package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consult-room/internal/protocol"
	"consult-room/internal/service"
)

func dialSession(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + sessionID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readUntil descarta frames hasta encontrar uno del tipo pedido.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", frameType)
		typ, err := protocol.FrameType(data)
		require.NoError(t, err)
		if typ == frameType {
			return data
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn, userID string, lastSeq uint64) protocol.HelloAckMessage {
	t.Helper()
	writeFrame(t, conn, protocol.HelloMessage{
		BaseMessage: protocol.NewBase(protocol.TypeHello, ""),
		UserID:      userID,
		LastSeq:     lastSeq,
	})
	var ack protocol.HelloAckMessage
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeHelloAck), &ack))
	return ack
}

func TestWSHandler_RelayBetweenParticipants(t *testing.T) {
	s := newTestServer(t)
	session := s.createSession(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	patient := dialSession(t, srv, session.ID)
	counselor := dialSession(t, srv, session.ID)

	pAck := hello(t, patient, "p1", 0)
	assert.Equal(t, "patient", string(pAck.Role))
	assert.Equal(t, "pending", string(pAck.Status))
	cAck := hello(t, counselor, "c1", 0)
	assert.Equal(t, "counselor", string(cAck.Role))

	writeFrame(t, patient, protocol.SendMessage{
		BaseMessage:     protocol.NewBase(protocol.TypeMessage, session.ID),
		ClientMessageID: "local-1",
		Body:            "  hola  ",
		SentAt:          time.Now().UTC(),
	})

	var ack protocol.AckMessage
	require.NoError(t, json.Unmarshal(readUntil(t, patient, protocol.TypeAck), &ack))
	assert.Equal(t, "local-1", ack.ClientMessageID)
	assert.Equal(t, uint64(1), ack.Seq)
	assert.NotEmpty(t, ack.MessageID)

	var inbound protocol.PeerMessage
	require.NoError(t, json.Unmarshal(readUntil(t, counselor, protocol.TypeMessage), &inbound))
	assert.Equal(t, uint64(1), inbound.Seq)
	assert.Equal(t, "hola", inbound.Body)
	assert.Equal(t, "patient", string(inbound.Sender))
	assert.Equal(t, ack.MessageID, inbound.MessageID)

	writeFrame(t, counselor, protocol.DraftMessage{
		BaseMessage: protocol.NewBase(protocol.TypeDraft, session.ID),
		Body:        "escribiendo",
	})
	var typing protocol.TypingMessage
	require.NoError(t, json.Unmarshal(readUntil(t, patient, protocol.TypeTyping), &typing))
	assert.Equal(t, "counselor", string(typing.Sender))

	writeFrame(t, patient, protocol.SendMessage{
		BaseMessage:     protocol.NewBase(protocol.TypeMessage, session.ID),
		ClientMessageID: "local-2",
		Body:            "   ",
	})
	var emptyErr protocol.ErrorMessage
	require.NoError(t, json.Unmarshal(readUntil(t, patient, protocol.TypeError), &emptyErr))
	assert.Equal(t, protocol.ErrorCodeEmptyMessage, emptyErr.Code)
	assert.Equal(t, "local-2", emptyErr.ClientMessageID)

	// Reconexion: el consejero recibe lo que se perdio despues de last_seq.
	again := dialSession(t, srv, session.ID)
	againAck := hello(t, again, "c1", 0)
	assert.Equal(t, uint64(1), againAck.LastSeq)
	var replayed protocol.PeerMessage
	require.NoError(t, json.Unmarshal(readUntil(t, again, protocol.TypeMessage), &replayed))
	assert.Equal(t, uint64(1), replayed.Seq)

	w := s.do(t, http.MethodPost, "/sessions/"+session.ID+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	readUntil(t, patient, protocol.TypeSessionEnded)
	readUntil(t, counselor, protocol.TypeSessionEnded)

	writeFrame(t, patient, protocol.SendMessage{
		BaseMessage:     protocol.NewBase(protocol.TypeMessage, session.ID),
		ClientMessageID: "local-3",
		Body:            "sigue?",
	})
	var endedErr protocol.ErrorMessage
	require.NoError(t, json.Unmarshal(readUntil(t, patient, protocol.TypeError), &endedErr))
	assert.Equal(t, protocol.ErrorCodeSessionEnded, endedErr.Code)
}

func TestWSHandler_HandshakeErrors(t *testing.T) {
	s := newTestServer(t)
	session := s.createSession(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialSession(t, srv, session.ID)

	writeFrame(t, conn, protocol.SendMessage{
		BaseMessage: protocol.NewBase(protocol.TypeMessage, session.ID),
		Body:        "hola",
	})
	var errFrame protocol.ErrorMessage
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError), &errFrame))
	assert.Equal(t, protocol.ErrorCodeSessionRequired, errFrame.Code)

	writeFrame(t, conn, protocol.HelloMessage{
		BaseMessage: protocol.NewBase(protocol.TypeHello, session.ID),
		UserID:      "stranger",
	})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError), &errFrame))
	assert.Equal(t, protocol.ErrorCodeNotParticipant, errFrame.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError), &errFrame))
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, errFrame.Code)

	writeFrame(t, conn, map[string]string{"type": "dance"})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, protocol.TypeError), &errFrame))
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, errFrame.Code)
}

func TestWSHandler_ReplayLargerThanSendBuffer(t *testing.T) {
	s := newTestServer(t)
	session := s.createSession(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	// Mucho mas que el buffer de 16 frames del hub de prueba.
	const archived = 200
	for i := 0; i < archived; i++ {
		_, err := s.relay.Relay(context.Background(), service.RelayInput{
			SessionID: session.ID,
			SenderID:  "p1",
			Body:      "mensaje " + strconv.Itoa(i+1),
		})
		require.NoError(t, err)
	}

	counselor := dialSession(t, srv, session.ID)
	ack := hello(t, counselor, "c1", 0)
	assert.Equal(t, uint64(archived), ack.LastSeq)

	for want := uint64(1); want <= archived; want++ {
		var peer protocol.PeerMessage
		require.NoError(t, json.Unmarshal(readUntil(t, counselor, protocol.TypeMessage), &peer))
		require.Equal(t, want, peer.Seq, "replay must be gapless")
	}

	// Lo siguiente llega en vivo, sin huecos despues del replay.
	_, err := s.relay.Relay(context.Background(), service.RelayInput{SessionID: session.ID, SenderID: "p1", Body: "en vivo"})
	require.NoError(t, err)
	var live protocol.PeerMessage
	require.NoError(t, json.Unmarshal(readUntil(t, counselor, protocol.TypeMessage), &live))
	assert.Equal(t, uint64(archived+1), live.Seq)
	assert.Equal(t, "en vivo", live.Body)

	// Al paciente no se le reenvian sus propios mensajes.
	patient := dialSession(t, srv, session.ID)
	pAck := hello(t, patient, "p1", 0)
	assert.Equal(t, uint64(archived+1), pAck.LastSeq)
	// El siguiente frame tras hello_ack es la respuesta a este envio vacio.
	writeFrame(t, patient, protocol.SendMessage{
		BaseMessage:     protocol.NewBase(protocol.TypeMessage, session.ID),
		ClientMessageID: "blank",
		Body:            " ",
	})
	require.NoError(t, patient.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := patient.ReadMessage()
	require.NoError(t, err)
	typ, err := protocol.FrameType(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeError, typ)
}
