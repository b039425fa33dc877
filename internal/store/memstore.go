package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store implementation used by tests; the server
// binary always opens the SQLite-backed store. It preserves the same
// invariants as the SQLite-backed store (atomic monotonic append ids,
// idempotent membership) using a single coarse RWMutex over all of its
// maps.
type MemStore struct {
	mu sync.RWMutex

	usersByID       map[uuid.UUID]User
	usersByUsername map[string]uuid.UUID
	usersByEmail    map[string]uuid.UUID

	rooms       map[uuid.UUID]Room
	roomsByName map[string]uuid.UUID

	// memberships is keyed by roomID, then userID.
	memberships map[uuid.UUID]map[uuid.UUID]Membership

	// messages is keyed by target; append lock per target is the coarse
	// mu above, which is fine for the in-memory store's scale.
	messages  map[string][]Message
	nextMsgID map[string]uint64

	sessions map[string]Session

	invitations map[uuid.UUID]Invitation
}

// NewMemStore constructs an empty MemStore with the reserved `general` room.
func NewMemStore() *MemStore {
	s := &MemStore{
		usersByID:       make(map[uuid.UUID]User),
		usersByUsername: make(map[string]uuid.UUID),
		usersByEmail:    make(map[string]uuid.UUID),
		rooms:           make(map[uuid.UUID]Room),
		roomsByName:     make(map[string]uuid.UUID),
		memberships:     make(map[uuid.UUID]map[uuid.UUID]Membership),
		messages:        make(map[string][]Message),
		nextMsgID:       make(map[string]uint64),
		sessions:        make(map[string]Session),
		invitations:     make(map[uuid.UUID]Invitation),
	}
	general := Room{
		ID:        uuid.New(),
		Name:      ReservedRoomName,
		CreatedAt: time.Now().UTC(),
	}
	s.rooms[general.ID] = general
	s.roomsByName[general.Name] = general.ID
	s.memberships[general.ID] = make(map[uuid.UUID]Membership)
	return s
}

func (s *MemStore) Close() error { return nil }

// --- Users ---

func (s *MemStore) CreateUser(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[u.Username]; exists {
		return User{}, ErrAlreadyExists
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.usersByID[u.ID] = u
	s.usersByUsername[u.Username] = u.ID
	if u.Email != "" {
		s.usersByEmail[u.Email] = u.ID
	}
	return u, nil
}

func (s *MemStore) GetUserByUsername(_ context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByUsername[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.usersByID[id], nil
}

func (s *MemStore) GetUserByID(_ context.Context, id uuid.UUID) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.usersByID[id], nil
}

// --- Rooms & memberships ---

func (s *MemStore) CreateRoom(_ context.Context, r Room) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roomsByName[r.Name]; exists {
		return Room{}, ErrAlreadyExists
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.rooms[r.ID] = r
	s.roomsByName[r.Name] = r.ID
	s.memberships[r.ID] = map[uuid.UUID]Membership{
		r.CreatorID: {RoomID: r.ID, UserID: r.CreatorID, JoinedAt: time.Now().UTC(), Role: MemberRoleOwner},
	}
	return r, nil
}

func (s *MemStore) ListRooms(_ context.Context) ([]Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) GetRoomByName(_ context.Context, name string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roomsByName[name]
	if !ok {
		return Room{}, ErrNotFound
	}
	return s.rooms[id], nil
}

// AddMember is a no-op if the membership already exists, preserving the
// contract's idempotence requirement.
func (s *MemStore) AddMember(_ context.Context, roomID, userID uuid.UUID, role MemberRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := members[userID]; exists {
		return nil
	}
	members[userID] = Membership{RoomID: roomID, UserID: userID, JoinedAt: time.Now().UTC(), Role: role}
	return nil
}

func (s *MemStore) RemoveMember(_ context.Context, roomID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return ErrNotFound
	}
	delete(members, userID)
	return nil
}

func (s *MemStore) ListMembers(_ context.Context, roomID uuid.UUID) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Membership, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemStore) IsMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return false, ErrNotFound
	}
	_, isMember := members[userID]
	return isMember, nil
}

func (s *MemStore) UpdateMemberRole(_ context.Context, roomID, userID uuid.UUID, role MemberRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.memberships[roomID]
	if !ok {
		return ErrNotFound
	}
	m, ok := members[userID]
	if !ok {
		return ErrNotFound
	}
	m.Role = role
	members[userID] = m
	return nil
}

// --- Messages ---

// AppendMessage assigns the next strictly increasing id for target and
// records created_at as the current UTC time (microsecond resolution),
// which is always non-decreasing relative to the previous append because
// the whole operation runs under the store's single mutex.
func (s *MemStore) AppendMessage(_ context.Context, target MessageTarget, authorID uuid.UUID, body string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := target.key()
	s.nextMsgID[k]++
	msg := Message{
		ID:        s.nextMsgID[k],
		AuthorID:  authorID,
		Target:    target,
		CreatedAt: time.Now().UTC(),
		Body:      body,
	}
	s.messages[k] = append(s.messages[k], msg)
	return msg, nil
}

func (s *MemStore) LoadHistory(_ context.Context, target MessageTarget, before *uint64, limit int) ([]Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[target.key()]

	upper := uint64(len(all)) + 1
	if before != nil {
		upper = *before
	}

	out := make([]Message, 0, limit)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ID >= upper {
			continue
		}
		out = append(out, all[i])
		if len(out) == limit {
			hasMore := i > 0
			return out, hasMore, nil
		}
	}
	return out, false, nil
}

// --- Sessions ---

func (s *MemStore) CreateSession(_ context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *MemStore) GetSession(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemStore) TouchSession(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastSeen = now
	s.sessions[id] = sess
	return nil
}

func (s *MemStore) RevokeSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemStore) SupersedeSession(_ context.Context, oldID string, newSession Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[oldID]; ok {
		old.Superseded = true
		s.sessions[oldID] = old
	}
	if newSession.ID == "" {
		newSession.ID = uuid.NewString()
	}
	s.sessions[newSession.ID] = newSession
	return newSession, nil
}

// --- Invitations ---

func (s *MemStore) CreateInvitation(_ context.Context, inv Invitation) (Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	s.invitations[inv.ID] = inv
	return inv, nil
}

func (s *MemStore) UpdateInvitation(_ context.Context, id uuid.UUID, status InvitationStatus) (Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return Invitation{}, ErrNotFound
	}
	inv.Status = status
	s.invitations[id] = inv
	return inv, nil
}

func (s *MemStore) ListPendingInvitations(_ context.Context, userID uuid.UUID) ([]Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Invitation
	for _, inv := range s.invitations {
		if inv.Invitee == userID && inv.Status == InvitationPending {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *MemStore) GetAcceptedInvitation(_ context.Context, roomID, userID uuid.UUID) (Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invitations {
		if inv.RoomID == roomID && inv.Invitee == userID && inv.Status == InvitationAccepted {
			return inv, nil
		}
	}
	return Invitation{}, ErrNotFound
}
