// Package relay fans story versions out to the other members of a share room.
package relay

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

const defaultBufferSize = 16

var (
	// ErrInvalidRoom indicates an empty room identifier.
	ErrInvalidRoom = errors.New("relay: invalid room")
	// ErrMemberClosed indicates the member has already disconnected.
	ErrMemberClosed = errors.New("relay: member disconnected")
)

// Message is one relayed event. Payload is forwarded verbatim.
type Message struct {
	Event   string
	Payload json.RawMessage
}

// DeliveryObserver receives per-relay delivery counts.
type DeliveryObserver interface {
	ObserveRelay(delivered int, dropped int)
}

type HubConfig struct {
	BufferSize int
	Observer   DeliveryObserver
}

// Hub tracks room membership for live connections.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[int64]*Member
	nextID     int64
	bufferSize int
	observer   DeliveryObserver
}

// Member is one connection registered with the hub.
type Member struct {
	id     int64
	mu     sync.Mutex
	closed bool
	rooms  map[string]struct{}
	stream chan Message
}

func NewHub(cfg HubConfig) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		rooms:      make(map[string]map[int64]*Member),
		bufferSize: bufferSize,
		observer:   cfg.Observer,
	}
}

// Connect registers a new member with no rooms.
func (h *Hub) Connect() *Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return &Member{
		id:     h.nextID,
		rooms:  make(map[string]struct{}),
		stream: make(chan Message, h.bufferSize),
	}
}

// Join adds the member to a room. Joining the same room twice is a no-op.
func (h *Hub) Join(member *Member, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return ErrInvalidRoom
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if member.isClosed() {
		return ErrMemberClosed
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[int64]*Member)
	}
	h.rooms[room][member.id] = member
	member.rooms[room] = struct{}{}
	return nil
}

// Relay sends the message to every member of the room except the sender and returns
// the number of members that accepted it. Members with a full buffer are skipped.
func (h *Hub) Relay(room string, message Message, sender *Member) int {
	room = strings.TrimSpace(room)
	if room == "" {
		return 0
	}
	h.mu.RLock()
	members := h.rooms[room]
	recipients := make([]*Member, 0, len(members))
	for id, member := range members {
		if sender != nil && id == sender.id {
			continue
		}
		recipients = append(recipients, member)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, member := range recipients {
		if member.offer(message) {
			delivered++
		}
	}
	if h.observer != nil {
		h.observer.ObserveRelay(delivered, len(recipients)-delivered)
	}
	return delivered
}

// Disconnect removes the member from every room and closes its stream.
func (h *Hub) Disconnect(member *Member) {
	if member == nil {
		return
	}
	h.mu.Lock()
	for room := range member.rooms {
		members := h.rooms[room]
		delete(members, member.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	member.rooms = make(map[string]struct{})
	member.close()
	h.mu.Unlock()
}

// RoomSize reports the number of members currently in the room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ID returns the member's hub-local identifier.
func (m *Member) ID() int64 {
	return m.id
}

// Messages returns the member's inbound stream. It is closed on Disconnect.
func (m *Member) Messages() <-chan Message {
	return m.stream
}

func (m *Member) offer(message Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.stream <- message:
		return true
	default:
		return false
	}
}

func (m *Member) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Member) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.stream)
}
