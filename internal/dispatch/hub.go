package dispatch

import (
	"sync"

	"github.com/google/uuid"

	"chatcore/internal/protocol"
)

// ConnID identifies a single live connection within the hub and session
// manager. The session manager mints these from a counter it increments
// under its own lock.
type ConnID uint64

// Hub fans out envelopes to the connections subscribed to a room or bound
// to a user. All cross-connection state lives here so the messaging and
// session services never hold a connection's queue directly.
type Hub struct {
	mu       sync.RWMutex
	roomSubs map[uuid.UUID]map[ConnID]*Queue
	userSubs map[uuid.UUID]map[ConnID]*Queue
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		roomSubs: make(map[uuid.UUID]map[ConnID]*Queue),
		userSubs: make(map[uuid.UUID]map[ConnID]*Queue),
	}
}

// SubscribeRoom registers q to receive room-targeted publishes for roomID.
func (h *Hub) SubscribeRoom(roomID uuid.UUID, id ConnID, q *Queue) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.roomSubs[roomID]
	if !ok {
		subs = make(map[ConnID]*Queue)
		h.roomSubs[roomID] = subs
	}
	subs[id] = q
}

// UnsubscribeRoom removes a connection from a room's subscriber set.
func (h *Hub) UnsubscribeRoom(roomID uuid.UUID, id ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.roomSubs[roomID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.roomSubs, roomID)
		}
	}
}

// BindUser registers q under userID so direct messages and presence for
// that user reach this connection.
func (h *Hub) BindUser(userID uuid.UUID, id ConnID, q *Queue) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.userSubs[userID]
	if !ok {
		subs = make(map[ConnID]*Queue)
		h.userSubs[userID] = subs
	}
	subs[id] = q
}

// UnbindUser removes a connection from a user's binding set.
func (h *Hub) UnbindUser(userID uuid.UUID, id ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.userSubs[userID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.userSubs, userID)
		}
	}
}

// UserConnectionCount reports how many live connections are bound to
// userID, used by the session manager to detect the 0↔1 presence edge.
func (h *Hub) UserConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userSubs[userID])
}

type target struct {
	id    ConnID
	queue *Queue
}

// PublishRoom fans e out to every connection subscribed to roomID. It
// returns the ids of connections whose queue overflowed and must be
// closed with Error{code=OVERLOADED}.
func (h *Hub) PublishRoom(roomID uuid.UUID, e protocol.Envelope) []ConnID {
	h.mu.RLock()
	subs := h.roomSubs[roomID]
	targets := make([]target, 0, len(subs))
	for id, q := range subs {
		targets = append(targets, target{id: id, queue: q})
	}
	h.mu.RUnlock()

	var overloaded []ConnID
	for _, t := range targets {
		if t.queue.Push(e) {
			overloaded = append(overloaded, t.id)
		}
	}
	return overloaded
}

// PublishUser fans e out to every connection bound to userID, skipping
// connection ids present in exclude.
func (h *Hub) PublishUser(userID uuid.UUID, e protocol.Envelope, exclude map[ConnID]struct{}) []ConnID {
	h.mu.RLock()
	subs := h.userSubs[userID]
	targets := make([]target, 0, len(subs))
	for id, q := range subs {
		if _, skip := exclude[id]; skip {
			continue
		}
		targets = append(targets, target{id: id, queue: q})
	}
	h.mu.RUnlock()

	var overloaded []ConnID
	for _, t := range targets {
		if t.queue.Push(e) {
			overloaded = append(overloaded, t.id)
		}
	}
	return overloaded
}
