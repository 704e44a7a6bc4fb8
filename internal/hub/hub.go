package hub

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/dronehire/realtime-service/internal/config"
	pkglog "github.com/dronehire/realtime-service/pkg/log"
)

// Hub owns every live connection on this process: the connection set,
// the participant registry (participant id -> connection) and booking
// room membership (booking id -> participant ids).
type Hub struct {
	clients      map[string]*Client           // connection id -> client
	participants map[int64]*Client            // participant id -> registered client
	rooms        map[int64]map[int64]struct{} // booking id -> participant ids
	register     chan *Client
	unregister   chan *Client
	done         chan struct{}
	stopOnce     sync.Once
	mu           sync.RWMutex
	config       config.WebSocketConfig
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		participants: make(map[int64]*Client),
		rooms:        make(map[int64]map[int64]struct{}),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
		config:       cfg,
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	l := pkglog.L()
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l.Debug().Str(pkglog.FieldConnectionID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				if pid := client.Session.GetUserID(); pid != 0 && h.participants[pid] == client {
					delete(h.participants, pid)
					h.leaveAllLocked(pid)
				}
			}
			h.mu.Unlock()
			client.close()
			l.Debug().Str(pkglog.FieldConnectionID, client.ID).Msg("client unregistered")

		case <-h.done:
			h.mu.Lock()
			clients := make([]*Client, 0, len(h.clients))
			for _, c := range h.clients {
				clients = append(clients, c)
			}
			h.clients = make(map[string]*Client)
			h.participants = make(map[int64]*Client)
			h.rooms = make(map[int64]map[int64]struct{})
			h.mu.Unlock()

			for _, c := range clients {
				c.close()
				if c.Conn != nil {
					c.Conn.Close()
				}
			}
			l.Info().Int("connections", len(clients)).Msg("hub stopped")
			return
		}
	}
}

// Stop closes every connection and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a connection to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a connection from the hub and closes its send buffer.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// RegisterParticipant maps participantID to client, replacing any previous
// mapping. The replaced client, if any, is returned; it stays open but is no
// longer addressable by participant id.
func (h *Hub) RegisterParticipant(participantID int64, client *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.participants[participantID]
	h.participants[participantID] = client
	if prev == client {
		return nil
	}
	return prev
}

// Lookup returns the connection registered for participantID.
func (h *Hub) Lookup(participantID int64) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.participants[participantID]
	return c, ok
}

// RemoveParticipant deletes the mapping for participantID only if it still
// points at client. It reports whether a mapping was removed.
func (h *Hub) RemoveParticipant(participantID int64, client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.participants[participantID]; ok && cur == client {
		delete(h.participants, participantID)
		return true
	}
	return false
}

// IsRegistered reports whether client is the current connection for participantID.
func (h *Hub) IsRegistered(participantID int64, client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.participants[participantID] == client
}

// Join adds a participant to a booking room, creating the room if needed.
func (h *Hub) Join(bookingID, participantID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[bookingID]; !ok {
		h.rooms[bookingID] = make(map[int64]struct{})
	}
	h.rooms[bookingID][participantID] = struct{}{}
}

// Leave removes a participant from a booking room and drops the room once
// empty. It reports whether the participant was a member.
func (h *Hub) Leave(bookingID, participantID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(bookingID, participantID)
}

func (h *Hub) leaveLocked(bookingID, participantID int64) bool {
	members, ok := h.rooms[bookingID]
	if !ok {
		return false
	}
	if _, ok := members[participantID]; !ok {
		return false
	}
	delete(members, participantID)
	if len(members) == 0 {
		delete(h.rooms, bookingID)
	}
	return true
}

func (h *Hub) leaveAllLocked(participantID int64) {
	for bookingID := range h.rooms {
		h.leaveLocked(bookingID, participantID)
	}
}

// Members returns the participant ids in a room, sorted.
func (h *Hub) Members(bookingID int64) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]int64, 0, len(h.rooms[bookingID]))
	for pid := range h.rooms[bookingID] {
		members = append(members, pid)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

func (h *Hub) IsMember(bookingID, participantID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[bookingID][participantID]
	return ok
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends message to every connected member of a room except
// exclude (0 excludes nobody). It returns the number of connections the
// frame was queued on.
func (h *Hub) Broadcast(bookingID int64, message interface{}, exclude int64) (int, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return 0, err
	}
	return h.BroadcastRaw(bookingID, data, exclude), nil
}

// BroadcastRaw sends pre-encoded bytes to every connected member of a room.
// Members without a registered connection are skipped.
func (h *Hub) BroadcastRaw(bookingID int64, data []byte, exclude int64) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[bookingID]))
	for pid := range h.rooms[bookingID] {
		if pid == exclude {
			continue
		}
		if c, ok := h.participants[pid]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if h.deliver(c, data) {
			delivered++
		}
	}
	return delivered
}

// SendTo sends message to the connection registered for participantID.
// It reports false when the participant is not connected here.
func (h *Hub) SendTo(participantID int64, message interface{}) (bool, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return false, err
	}
	return h.SendRawTo(participantID, data), nil
}

// SendRawTo sends pre-encoded bytes to a participant's connection.
func (h *Hub) SendRawTo(participantID int64, data []byte) bool {
	c, ok := h.Lookup(participantID)
	if !ok {
		return false
	}
	return h.deliver(c, data)
}

func (h *Hub) deliver(c *Client, data []byte) bool {
	if c.Enqueue(data) {
		return true
	}
	h.evict(c)
	return false
}

// evict closes a client whose send buffer is full. Its pumps then exit and
// the normal disconnect path cleans up its registry and room entries.
func (h *Hub) evict(c *Client) {
	if c.close() {
		l := pkglog.L()
		l.Warn().Str(pkglog.FieldConnectionID, c.ID).Msg("send buffer full, closing slow client")
	}
}
