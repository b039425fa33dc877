// Package session implements the per-connection state machine and the
// process-wide connection registry: connection id allocation, phase
// transitions, and the online/offline presence edge detection described
// by the messaging spec. It is the glue between the TCP connection
// handler and the dispatch hub — the hub owns fan-out queues, this
// package owns which connection is in which phase and who is bound to
// whom. Indexes here are non-owning: they hold connection ids, never a
// pointer back into the TCP handler, so the connection and the registry
// can never form an ownership cycle (cf. the teacher's Room/Client split
// in room.go, generalized from one registry to three: phase, user, and
// room subscription).
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/dispatch"
)

// Phase is a connection's position in the handshake/auth state machine.
type Phase int

const (
	PhaseOpened Phase = iota
	PhaseKeyExchanged
	PhaseAuthenticated
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpened:
		return "opened"
	case PhaseKeyExchanged:
		return "key_exchanged"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the registry's view of one live connection. Mutable fields are
// only ever touched under the owning Manager's lock.
type Conn struct {
	ID         dispatch.ConnID
	RemoteAddr string
	Phase      Phase
	UserID     uuid.UUID
	Username   string
	SessionID  string
	Queue      *dispatch.Queue
	Rooms      map[uuid.UUID]struct{}
	OpenedAt   time.Time
	LastSeen   time.Time

	closer func()
}

// Manager is the process-wide connection registry, constructed once at
// server start and injected into the TCP connection handler. It holds no
// package-level state; every index is an instance field.
type Manager struct {
	hub *dispatch.Hub

	mu        sync.RWMutex
	nextID    dispatch.ConnID
	conns     map[dispatch.ConnID]*Conn
	userConns map[uuid.UUID]map[dispatch.ConnID]struct{}
}

// NewManager constructs an empty Manager bound to hub.
func NewManager(hub *dispatch.Hub) *Manager {
	return &Manager{
		hub:       hub,
		conns:     make(map[dispatch.ConnID]*Conn),
		userConns: make(map[uuid.UUID]map[dispatch.ConnID]struct{}),
	}
}

// Open registers a new connection in PhaseOpened and returns it. The
// caller owns the returned Conn's Queue for the connection's lifetime.
// closer is invoked by TriggerClose to force the underlying transport
// closed from outside the connection's own goroutines (e.g. when its
// outbound queue overflows during fan-out); it may be nil in tests that
// never call TriggerClose.
func (m *Manager) Open(remoteAddr string, queueCapacity int, closer func()) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now().UTC()
	c := &Conn{
		ID:         m.nextID,
		RemoteAddr: remoteAddr,
		Phase:      PhaseOpened,
		Queue:      dispatch.NewQueue(queueCapacity),
		Rooms:      make(map[uuid.UUID]struct{}),
		OpenedAt:   now,
		LastSeen:   now,
		closer:     closer,
	}
	m.conns[c.ID] = c
	return c
}

// TriggerClose invokes the connection's registered closer, if any. It
// does not itself mutate the registry: the connection's own teardown
// path (driven by the resulting read/write error) is responsible for
// that, the same separation of concerns as a normal socket error.
func (m *Manager) TriggerClose(id dispatch.ConnID) {
	m.mu.RLock()
	c, ok := m.conns[id]
	m.mu.RUnlock()
	if ok && c.closer != nil {
		c.closer()
	}
}

// MarkKeyExchanged transitions a connection from Opened to KeyExchanged
// once the DH handshake has completed.
func (m *Manager) MarkKeyExchanged(id dispatch.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		c.Phase = PhaseKeyExchanged
	}
}

// Authenticate binds a connection to a user and session, transitioning it
// to PhaseAuthenticated. It returns becameOnline=true if this is the
// user's first live connection, the 0↔1 edge that triggers a Presence
// event.
func (m *Manager) Authenticate(id dispatch.ConnID, userID uuid.UUID, username, sessionID string) (becameOnline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return false
	}
	c.Phase = PhaseAuthenticated
	c.UserID = userID
	c.Username = username
	c.SessionID = sessionID

	set, exists := m.userConns[userID]
	if !exists {
		set = make(map[dispatch.ConnID]struct{})
		m.userConns[userID] = set
	}
	becameOnline = len(set) == 0
	set[id] = struct{}{}
	m.hub.BindUser(userID, id, c.Queue)
	return becameOnline
}

// JoinRoom records roomID as one of id's subscriptions and registers it
// with the hub for fan-out.
func (m *Manager) JoinRoom(id dispatch.ConnID, roomID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return
	}
	c.Rooms[roomID] = struct{}{}
	m.hub.SubscribeRoom(roomID, id, c.Queue)
}

// LeaveRoom removes roomID from id's subscriptions.
func (m *Manager) LeaveRoom(id dispatch.ConnID, roomID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		delete(c.Rooms, roomID)
	}
	m.hub.UnsubscribeRoom(roomID, id)
}

// Touch updates a connection's last-seen timestamp, used by the keepalive
// idle check.
func (m *Manager) Touch(id dispatch.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		c.LastSeen = time.Now().UTC()
	}
}

// Get returns a snapshot copy of a connection's registry state.
func (m *Manager) Get(id dispatch.ConnID) (Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	if !ok {
		return Conn{}, false
	}
	return *c, true
}

// Close tears down a connection's registry state: it unsubscribes every
// room, unbinds the user (if authenticated), and removes the connection
// entry. It returns becameOffline=true if this was the user's last live
// connection, the 0↔1 edge that triggers a Presence(offline) event, and
// the user id for that event (zero UUID if the connection never
// authenticated).
func (m *Manager) Close(id dispatch.ConnID) (userID uuid.UUID, becameOffline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return uuid.Nil, false
	}
	for roomID := range c.Rooms {
		m.hub.UnsubscribeRoom(roomID, id)
	}
	c.Phase = PhaseClosed
	delete(m.conns, id)

	if c.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	m.hub.UnbindUser(c.UserID, id)
	set := m.userConns[c.UserID]
	delete(set, id)
	if len(set) == 0 {
		delete(m.userConns, c.UserID)
		return c.UserID, true
	}
	return c.UserID, false
}

// IdleConnections returns a snapshot of every registered, not yet closed
// connection (authenticated or not) whose last-seen timestamp is more
// than idleFor in the past.
func (m *Manager) IdleConnections(idleFor time.Duration) []dispatch.ConnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().UTC().Add(-idleFor)
	var out []dispatch.ConnID
	for id, c := range m.conns {
		if c.Phase != PhaseClosed && c.LastSeen.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the number of currently registered connections, used by
// the listener to enforce the maximum concurrent connections cap.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// All returns a snapshot of every registered connection, used for
// broadcasting a shutdown notice.
func (m *Manager) All() []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}
