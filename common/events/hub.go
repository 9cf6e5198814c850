package events

import (
	"context"
	"sync"

	"github.com/lyzr/appforge/common/logger"
)

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 256

// Subscriber is one client connection's handle in the hub.
// A subscriber may be joined to any number of project rooms.
type Subscriber struct {
	id     string
	send   chan Event
	rooms  map[string]struct{} // guarded by Hub.mu
	closed bool                // guarded by Hub.mu
}

// NewSubscriber creates a subscriber with a buffered event queue
func NewSubscriber(id string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Subscriber{
		id:    id,
		send:  make(chan Event, buffer),
		rooms: make(map[string]struct{}),
	}
}

// ID returns the subscriber id
func (s *Subscriber) ID() string {
	return s.id
}

// Events returns the delivery channel; it is closed when the hub removes the subscriber
func (s *Subscriber) Events() <-chan Event {
	return s.send
}

// Hub maintains project rooms and fans events out to their members
type Hub struct {
	// Map: projectID -> members
	rooms map[string]map[*Subscriber]struct{}
	mu    sync.Mutex
	log   *logger.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Subscriber]struct{}),
		log:   log,
	}
}

// Join adds sub to projectID's room, allocating the room on first member.
// It returns false if sub was already removed from the hub.
func (h *Hub) Join(projectID string, sub *Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return false
	}

	room, ok := h.rooms[projectID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[projectID] = room
		h.log.Debug("room created", "project_id", projectID)
	}
	room[sub] = struct{}{}
	sub.rooms[projectID] = struct{}{}

	h.log.Debug("subscriber joined",
		"project_id", projectID,
		"subscriber", sub.id,
		"members", len(room))
	return true
}

// Leave removes sub from projectID's room, tearing the room down when empty
func (h *Hub) Leave(projectID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(projectID, sub)
}

func (h *Hub) leaveLocked(projectID string, sub *Subscriber) {
	delete(sub.rooms, projectID)

	room, ok := h.rooms[projectID]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, projectID)
		h.log.Debug("room torn down", "project_id", projectID)
	}
}

// Remove drops sub from every room and closes its event channel
func (h *Hub) Remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	for projectID := range sub.rooms {
		h.leaveLocked(projectID, sub)
	}
	sub.closed = true
	close(sub.send)
}

// Publish builds an event and delivers it to the project's current members
func (h *Hub) Publish(ctx context.Context, projectID string, eventType Type, payload any) error {
	ev, err := New(projectID, eventType, payload)
	if err != nil {
		return err
	}
	h.Deliver(ev)
	return nil
}

// Deliver hands ev to every member of its project room and returns how many
// received it. Members are enqueued under the hub lock, so each subscriber sees
// events in delivery order. A member whose queue is full is removed.
func (h *Hub) Deliver(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[ev.ProjectID]
	if len(room) == 0 {
		return 0
	}

	delivered := 0
	var slow []*Subscriber
	for sub := range room {
		select {
		case sub.send <- ev:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}

	for _, sub := range slow {
		h.log.Warn("subscriber buffer full, dropping connection",
			"project_id", ev.ProjectID,
			"subscriber", sub.id)
		h.removeLocked(sub)
	}

	return delivered
}

// RoomCount returns the number of live rooms
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.rooms)
}

// MemberCount returns the number of members in projectID's room
func (h *Hub) MemberCount(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.rooms[projectID])
}

// Memberships returns the number of room memberships across all rooms
func (h *Hub) Memberships() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}
