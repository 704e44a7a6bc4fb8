package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dronehire/realtime-service/internal/config"
	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(bufferSize int) *Hub {
	return NewHub(config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
		SendBufferSize: bufferSize,
	})
}

func newAuthedClient(h *Hub, connID string, pid int64) *Client {
	c := NewClient(connID, h, nil)
	c.Session.Authenticate(&domain.Participant{ID: pid, Name: connID, Role: domain.RoleCustomer})
	return c
}

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			out = append(out, string(data))
		default:
			return out
		}
	}
}

func TestRegisterParticipantLastWriterWins(t *testing.T) {
	h := newTestHub(8)
	first := newAuthedClient(h, "c1", 7)
	second := newAuthedClient(h, "c2", 7)

	assert.Nil(t, h.RegisterParticipant(7, first))
	prev := h.RegisterParticipant(7, second)
	assert.Same(t, first, prev)

	got, ok := h.Lookup(7)
	require.True(t, ok)
	assert.Same(t, second, got)

	// The stale connection closing must not evict its replacement.
	assert.False(t, h.RemoveParticipant(7, first))
	_, ok = h.Lookup(7)
	assert.True(t, ok)

	assert.True(t, h.RemoveParticipant(7, second))
	_, ok = h.Lookup(7)
	assert.False(t, ok)
}

func TestRegisterParticipantSameClientReturnsNil(t *testing.T) {
	h := newTestHub(8)
	c := newAuthedClient(h, "c1", 7)

	h.RegisterParticipant(7, c)
	assert.Nil(t, h.RegisterParticipant(7, c))
	assert.True(t, h.IsRegistered(7, c))
}

func TestRoomMembership(t *testing.T) {
	h := newTestHub(8)

	h.Join(42, 1)
	h.Join(42, 2)
	h.Join(42, 2)
	assert.Equal(t, []int64{1, 2}, h.Members(42))
	assert.True(t, h.IsMember(42, 1))
	assert.Equal(t, 1, h.RoomCount())

	assert.True(t, h.Leave(42, 1))
	assert.False(t, h.Leave(42, 1))
	assert.False(t, h.Leave(99, 1))
	assert.Equal(t, []int64{2}, h.Members(42))

	assert.True(t, h.Leave(42, 2))
	assert.Equal(t, 0, h.RoomCount())
	assert.Empty(t, h.Members(42))
}

func TestBroadcastExcludesAndSkipsDisconnected(t *testing.T) {
	h := newTestHub(8)
	a := newAuthedClient(h, "a", 1)
	b := newAuthedClient(h, "b", 2)
	h.RegisterParticipant(1, a)
	h.RegisterParticipant(2, b)

	h.Join(42, 1)
	h.Join(42, 2)
	h.Join(42, 3) // member with no connection

	n, err := h.Broadcast(42, domain.LeftBookingMessage{Type: domain.MsgTypeLeftBooking, BookingID: 42}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)

	n, err = h.Broadcast(42, domain.PongMessage{Type: domain.MsgTypePong}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBroadcastPreservesPerConnectionOrder(t *testing.T) {
	h := newTestHub(64)
	c := newAuthedClient(h, "a", 1)
	h.RegisterParticipant(1, c)
	h.Join(42, 1)

	for i := 0; i < 20; i++ {
		h.BroadcastRaw(42, []byte{byte('a' + i)}, 0)
	}

	got := drain(c)
	require.Len(t, got, 20)
	for i, s := range got {
		assert.Equal(t, string(rune('a'+i)), s)
	}
}

func TestSlowClientIsEvicted(t *testing.T) {
	h := newTestHub(1)
	c := newAuthedClient(h, "slow", 1)
	h.RegisterParticipant(1, c)

	assert.True(t, h.SendRawTo(1, []byte("one")))
	assert.False(t, h.SendRawTo(1, []byte("two")))
	assert.True(t, c.IsClosed())
	assert.False(t, c.Enqueue([]byte("three")))
	assert.ErrorIs(t, c.SendMessage(domain.PongMessage{Type: domain.MsgTypePong}), ErrClientClosed)
}

func TestSendToUnknownParticipant(t *testing.T) {
	h := newTestHub(8)
	ok, err := h.SendTo(99, domain.PongMessage{Type: domain.MsgTypePong})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunUnregisterCleansUp(t *testing.T) {
	h := newTestHub(8)
	go h.Run()
	defer h.Stop()

	c := newAuthedClient(h, "c1", 5)
	h.Register(c)
	h.RegisterParticipant(5, c)
	h.Join(42, 5)
	require.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	h.Unregister(c)
	require.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, c.IsClosed, time.Second, 5*time.Millisecond)

	_, ok := h.Lookup(5)
	assert.False(t, ok)
	assert.False(t, h.IsMember(42, 5))
}

func TestRunUnregisterKeepsReplacement(t *testing.T) {
	h := newTestHub(8)
	go h.Run()
	defer h.Stop()

	stale := newAuthedClient(h, "old", 5)
	fresh := newAuthedClient(h, "new", 5)
	h.Register(stale)
	h.Register(fresh)
	h.RegisterParticipant(5, stale)
	h.RegisterParticipant(5, fresh)
	h.Join(42, 5)

	h.Unregister(stale)
	require.Eventually(t, stale.IsClosed, time.Second, 5*time.Millisecond)

	got, ok := h.Lookup(5)
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.True(t, h.IsMember(42, 5))
}

func TestStopClosesClients(t *testing.T) {
	h := newTestHub(8)
	stopped := make(chan struct{})
	go func() {
		h.Run()
		close(stopped)
	}()

	c := newAuthedClient(h, "c1", 5)
	h.Register(c)
	h.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.True(t, c.IsClosed())

	// Calls after Stop must not block.
	h.Unregister(c)
	late := newAuthedClient(h, "late", 6)
	h.Register(late)
	assert.True(t, late.IsClosed())
}

func TestBroadcastEncodesOnce(t *testing.T) {
	h := newTestHub(8)
	a := newAuthedClient(h, "a", 1)
	b := newAuthedClient(h, "b", 2)
	h.RegisterParticipant(1, a)
	h.RegisterParticipant(2, b)
	h.Join(7, 1)
	h.Join(7, 2)

	msg := domain.UserPresenceMessage{Type: domain.MsgTypeUserJoined, BookingID: 7, UserID: 3}
	_, err := h.Broadcast(7, msg, 0)
	require.NoError(t, err)

	want, _ := json.Marshal(msg)
	assert.Equal(t, []string{string(want)}, drain(a))
	assert.Equal(t, []string{string(want)}, drain(b))
}
