package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// runStoreSuite exercises the Store contract against any implementation.
// Both MemStore and SQLiteStore must pass it identically.
func runStoreSuite(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, User{Username: "alice", Email: "alice@example.com", Role: RoleUser})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, User{Username: "alice"}); err != ErrAlreadyExists {
		t.Fatalf("CreateUser duplicate: got %v, want ErrAlreadyExists", err)
	}
	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByUsername: got %+v, %v", got, err)
	}
	if _, err := s.GetUserByUsername(ctx, "nobody"); err != ErrNotFound {
		t.Fatalf("GetUserByUsername missing: got %v, want ErrNotFound", err)
	}

	rooms, err := s.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	var general Room
	found := false
	for _, r := range rooms {
		if r.Name == ReservedRoomName {
			general = r
			found = true
		}
	}
	if !found {
		t.Fatalf("expected seeded general room, got %+v", rooms)
	}

	room, err := s.CreateRoom(ctx, Room{Name: "dev", CreatorID: u.ID})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.CreateRoom(ctx, Room{Name: "dev", CreatorID: u.ID}); err != ErrAlreadyExists {
		t.Fatalf("CreateRoom duplicate: got %v, want ErrAlreadyExists", err)
	}

	isMember, err := s.IsMember(ctx, room.ID, u.ID)
	if err != nil || !isMember {
		t.Fatalf("expected creator to be a member: %v %v", isMember, err)
	}

	if err := s.AddMember(ctx, general.ID, u.ID, MemberRoleMember); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := s.AddMember(ctx, general.ID, u.ID, MemberRoleMember); err != nil {
		t.Fatalf("AddMember idempotent: %v", err)
	}
	members, err := s.ListMembers(ctx, general.ID)
	if err != nil || len(members) != 1 {
		t.Fatalf("ListMembers: got %+v, %v", members, err)
	}

	target := RoomTarget(room.ID)
	m1, err := s.AppendMessage(ctx, target, u.ID, "hello")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	m2, err := s.AppendMessage(ctx, target, u.ID, "world")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if m2.ID <= m1.ID {
		t.Fatalf("expected strictly increasing ids, got %d then %d", m1.ID, m2.ID)
	}

	page, hasMore, err := s.LoadHistory(ctx, target, nil, 1)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(page) != 1 || page[0].ID != m2.ID || !hasMore {
		t.Fatalf("LoadHistory: got %+v hasMore=%v", page, hasMore)
	}

	bob, err := s.CreateUser(ctx, User{Username: "bob", Role: RoleUser})
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}
	dmAB := DirectTarget(u.ID, bob.ID)
	dmBA := DirectTarget(bob.ID, u.ID)
	if dmAB.key() != dmBA.key() {
		t.Fatalf("direct target not canonical: %q vs %q", dmAB.key(), dmBA.key())
	}

	now := time.Now().UTC()
	sess, err := s.CreateSession(ctx, Session{UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(12 * time.Hour), LastSeen: now})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.TouchSession(ctx, sess.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	got2, err := s.GetSession(ctx, sess.ID)
	if err != nil || got2.Superseded {
		t.Fatalf("GetSession: %+v, %v", got2, err)
	}
	renewed, err := s.SupersedeSession(ctx, sess.ID, Session{UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(12 * time.Hour), LastSeen: now})
	if err != nil {
		t.Fatalf("SupersedeSession: %v", err)
	}
	old, err := s.GetSession(ctx, sess.ID)
	if err != nil || !old.Superseded {
		t.Fatalf("expected old session superseded: %+v, %v", old, err)
	}
	if renewed.ID == sess.ID {
		t.Fatalf("expected a new session id")
	}
	if err := s.RevokeSession(ctx, renewed.ID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := s.GetSession(ctx, renewed.ID); err != ErrNotFound {
		t.Fatalf("GetSession after revoke: got %v, want ErrNotFound", err)
	}

	inv, err := s.CreateInvitation(ctx, Invitation{
		RoomID: room.ID, Inviter: u.ID, Invitee: bob.ID,
		Status: InvitationPending, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	pending, err := s.ListPendingInvitations(ctx, bob.ID)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPendingInvitations: %+v, %v", pending, err)
	}
	if _, err := s.UpdateInvitation(ctx, inv.ID, InvitationAccepted); err != nil {
		t.Fatalf("UpdateInvitation: %v", err)
	}
	accepted, err := s.GetAcceptedInvitation(ctx, room.ID, bob.ID)
	if err != nil || accepted.ID != inv.ID {
		t.Fatalf("GetAcceptedInvitation: %+v, %v", accepted, err)
	}
}

func TestMemStoreSatisfiesContract(t *testing.T) {
	runStoreSuite(t, NewMemStore())
}

func TestSQLiteStoreSatisfiesContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	runStoreSuite(t, s)
}

func TestDirectTargetCanonicalOrdering(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	t1 := DirectTarget(a, b)
	t2 := DirectTarget(b, a)
	if t1.key() != t2.key() {
		t.Fatalf("expected same key regardless of argument order, got %q vs %q", t1.key(), t2.key())
	}
}
