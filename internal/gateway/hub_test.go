package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testClient() *Client {
	return &Client{send: make(chan []byte, 8)}
}

func recvFrame(t *testing.T, c *Client) outboundEnvelope {
	t.Helper()
	select {
	case raw := <-c.send:
		var env outboundEnvelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	default:
		t.Fatal("no frame queued")
		return outboundEnvelope{}
	}
}

// outboundEnvelope mirrors outboundFrame with raw data for assertions.
type outboundEnvelope struct {
	Event string          `json:"event"`
	Ack   uint64          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

func TestMarshalFrame(t *testing.T) {
	t.Parallel()

	raw, err := marshalFrame("game:error", 0, map[string]string{"message": "nope"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"game:error","data":{"message":"nope"}}`, string(raw))

	raw, err = marshalFrame("ack", 7, map[string]string{"gameCode": "ABC234"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ack","ack":7,"data":{"gameCode":"ABC234"}}`, string(raw))
}

func TestInboundFrameParsing(t *testing.T) {
	t.Parallel()

	var frame inboundFrame
	require.NoError(t, json.Unmarshal(
		[]byte(`{"event":"game:join","id":3,"data":{"gameCode":"abc234","displayName":"Alice"}}`),
		&frame))
	assert.Equal(t, "game:join", frame.Event)
	assert.Equal(t, uint64(3), frame.ID)
	assert.Contains(t, string(frame.Data), "abc234")
}

func TestRoomMembership(t *testing.T) {
	t.Parallel()
	h := testHub()
	a, b := testClient(), testClient()

	h.JoinRoom("game:ABC234", a)
	h.JoinRoom("game:ABC234", b)
	assert.Len(t, h.RoomClients("game:ABC234"), 2)

	h.LeaveRoom("game:ABC234", a)
	members := h.RoomClients("game:ABC234")
	require.Len(t, members, 1)
	assert.Same(t, b, members[0])

	h.LeaveRoom("game:ABC234", b)
	assert.Empty(t, h.RoomClients("game:ABC234"), "empty room is dropped")
}

func TestBroadcastReachesRoomOnly(t *testing.T) {
	t.Parallel()
	h := testHub()
	in, out := testClient(), testClient()
	h.JoinRoom("game:ABC234", in)
	h.JoinRoom("game:ZZZ999", out)

	h.Broadcast("game:ABC234", "game:timer", map[string]int{"secondsRemaining": 5})

	env := recvFrame(t, in)
	assert.Equal(t, "game:timer", env.Event)
	assert.Empty(t, out.send)
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	t.Parallel()
	h := testHub()
	c := &Client{send: make(chan []byte, 1)}
	h.JoinRoom("game:ABC234", c)

	h.Broadcast("game:ABC234", "game:timer", nil)
	h.Broadcast("game:ABC234", "game:timer", nil) // buffer full, dropped

	assert.Len(t, c.send, 1)
}

func TestSendAck(t *testing.T) {
	t.Parallel()
	h := testHub()
	c := testClient()

	h.SendAck(c, 42, map[string]string{"gameCode": "ABC234"})
	env := recvFrame(t, c)
	assert.Equal(t, "ack", env.Event)
	assert.Equal(t, uint64(42), env.Ack)
}

func TestRemoveClosesSendAndCleansRooms(t *testing.T) {
	t.Parallel()
	h := testHub()
	c := testClient()
	h.add(c)
	h.JoinRoom("game:ABC234", c)

	h.remove(c)
	_, open := <-c.send
	assert.False(t, open)
	assert.Empty(t, h.RoomClients("game:ABC234"))

	h.remove(c) // second remove is a no-op
}
