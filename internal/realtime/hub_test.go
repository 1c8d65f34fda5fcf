package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-chat/internal/events"
)

func testConn(id string, buffer int) *Conn {
	return newConn(id, nil, buffer, NewHeartbeat(time.Minute, 3, time.Now()), time.Now())
}

func readPush(t *testing.T, c *Conn) Envelope {
	t.Helper()
	select {
	case msg := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		return env
	default:
		t.Fatalf("no push queued for %s", c.id)
	}
	return Envelope{}
}

func TestHubEmitReachesRoomMembersOnly(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	a, b := testConn("a", 4), testConn("b", 4)
	h.register(a)
	h.register(b)
	h.Join(a, events.SessionRoom("s1"))
	h.Join(b, events.StaffRoom)

	require.NoError(t, h.Emit(context.Background(), events.SessionRoom("s1"), events.QueueUpdate, events.QueuePayload{SessionID: "s1", Position: 1}))

	env := readPush(t, a)
	assert.Equal(t, events.QueueUpdate, env.Event)
	var p events.QueuePayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 1, p.Position)
	assert.Empty(t, b.send)
	assert.Equal(t, 1, h.Members(events.SessionRoom("s1")))
	assert.True(t, h.InRoom(b, events.StaffRoom))
}

func TestHubEmitRoomsDeliversOncePerConnection(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	agent, other := testConn("agent", 4), testConn("other", 4)
	h.register(agent)
	h.register(other)
	h.Join(agent, events.SessionRoom("s1"))
	h.Join(agent, events.UserRoom("agent-1"))
	h.Join(other, events.StaffRoom)

	rooms := []string{events.SessionRoom("s1"), events.UserRoom("agent-1")}
	require.NoError(t, h.EmitRooms(context.Background(), rooms, events.PlayerDisconnected, events.PlayerPresencePayload{SessionID: "s1"}))

	assert.Equal(t, events.PlayerDisconnected, readPush(t, agent).Event)
	assert.Empty(t, agent.send)
	assert.Empty(t, other.send)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	c := testConn("slow", 1)
	h.register(c)
	h.Join(c, events.StaffRoom)

	ctx := context.Background()
	require.NoError(t, h.Emit(ctx, events.StaffRoom, events.Pong, nil))
	require.NoError(t, h.Emit(ctx, events.StaffRoom, events.Pong, nil))
	assert.Len(t, c.send, 1)
}

func TestHubUnregister(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	c := testConn("c", 2)
	h.register(c)
	h.Join(c, events.TicketRoom("t1"))
	h.Join(c, events.SessionRoom("s1"))

	assert.True(t, h.unregister(c))
	assert.False(t, h.unregister(c))
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, 0, h.Members(events.TicketRoom("t1")))

	_, open := <-c.send
	assert.False(t, open)
	assert.NoError(t, h.Send(c, events.Pong, nil), "sending to a closed connection is a no-op")
	h.Join(c, events.StaffRoom)
	assert.Equal(t, 0, h.Members(events.StaffRoom))
}

func TestLeaveRemovesEmptyRoom(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	c := testConn("c", 2)
	h.register(c)
	h.Join(c, "ticket:t1")
	h.Leave(c, "ticket:t1")
	assert.False(t, h.InRoom(c, "ticket:t1"))
	assert.Empty(t, h.rooms)
}

func TestEncodeAck(t *testing.T) {
	raw, err := encodeAck("req-1", map[string]int{"n": 1}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ack","id":"req-1","data":{"n":1}}`, string(raw))

	raw, err = encodeAck("req-2", map[string]int{"n": 1}, ErrForbidden)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ack","id":"req-2","error":"forbidden"}`, string(raw))
}
