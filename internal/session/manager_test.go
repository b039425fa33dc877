package session

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/dispatch"
	"chatcore/internal/protocol"
)

func TestAuthenticatePresenceEdge(t *testing.T) {
	hub := dispatch.NewHub()
	m := NewManager(hub)
	user := uuid.New()

	c1 := m.Open("127.0.0.1:1", 8, nil)
	if online := m.Authenticate(c1.ID, user, "alice", "sess1"); !online {
		t.Fatalf("first connection should flip presence online")
	}

	c2 := m.Open("127.0.0.1:2", 8, nil)
	if online := m.Authenticate(c2.ID, user, "alice", "sess2"); online {
		t.Fatalf("second connection of the same user must not re-fire presence online")
	}

	if _, offline := m.Close(c1.ID); offline {
		t.Fatalf("closing one of two connections must not flip presence offline")
	}
	if _, offline := m.Close(c2.ID); !offline {
		t.Fatalf("closing the last connection should flip presence offline")
	}
}

func TestJoinLeaveRoomUpdatesHub(t *testing.T) {
	hub := dispatch.NewHub()
	m := NewManager(hub)
	user := uuid.New()
	room := uuid.New()

	c := m.Open("127.0.0.1:1", 8, nil)
	m.Authenticate(c.ID, user, "alice", "sess1")
	m.JoinRoom(c.ID, room)

	if got := hub.PublishRoom(room, protocol.Envelope{Type: protocol.TypePing}); len(got) != 0 {
		t.Fatalf("unexpected overload on a fresh queue: %v", got)
	}
	m.LeaveRoom(c.ID, room)
	snap, ok := m.Get(c.ID)
	if !ok || len(snap.Rooms) != 0 {
		t.Fatalf("expected room subscription removed, got %+v", snap)
	}
}

func TestIdleConnections(t *testing.T) {
	hub := dispatch.NewHub()
	m := NewManager(hub)
	c := m.Open("127.0.0.1:1", 8, nil)
	if idle := m.IdleConnections(0); len(idle) != 1 || idle[0] != c.ID {
		t.Fatalf("expected the just-opened connection to be idle for a zero threshold, got %v", idle)
	}
	if idle := m.IdleConnections(time.Hour); len(idle) != 0 {
		t.Fatalf("expected no idle connections for a one-hour threshold, got %v", idle)
	}
}

func TestCloseUnknownConnectionIsNoop(t *testing.T) {
	hub := dispatch.NewHub()
	m := NewManager(hub)
	if _, offline := m.Close(dispatch.ConnID(999)); offline {
		t.Fatalf("closing an unknown connection must not report a presence edge")
	}
}
