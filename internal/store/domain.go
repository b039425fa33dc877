// Package store defines the storage-agnostic repository contracts for
// users, rooms, memberships, messages, sessions, and invitations, plus two
// implementations: a SQLite-backed store for production and an in-memory
// store for tests. The migration-table idiom and the
// package layout follow the teacher's own `store` package.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by repository operations. Callers map these to
// the protocol error taxonomy (NOT_FOUND, CONFLICT, ...).
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Role is a user's site-wide role.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// MemberRole is a user's role within a single room.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleMember MemberRole = "member"
)

// User is a registered account.
type User struct {
	ID             uuid.UUID
	Username       string // unique; NFC-normalized but not case-folded, so names differing only in case are distinct
	Email          string // optional
	VerifierHash   []byte // Argon2id hash
	VerifierSalt   []byte
	VerifierParams string // serialized Argon2id parameters, for forward migration
	Role           Role
	CreatedAt      time.Time
}

// Room is a chat room.
type Room struct {
	ID          uuid.UUID
	Name        string // case-folded, unique
	Topic       string
	CreatorID   uuid.UUID
	CreatedAt   time.Time
	Private     bool
	MaxMembers  *int
}

// ReservedRoomName is the always-present, non-deletable room.
const ReservedRoomName = "general"

// Membership binds a user to a room with an in-room role.
type Membership struct {
	RoomID   uuid.UUID
	UserID   uuid.UUID
	JoinedAt time.Time
	Role     MemberRole
}

// TargetKind distinguishes a room target from a direct-message target.
type TargetKind int

const (
	TargetRoom TargetKind = iota
	TargetDirect
)

// MessageTarget identifies where a message was published. For TargetDirect,
// RoomID is the zero UUID and PeerA/PeerB hold the canonical conversation
// key (min, max of the two participant ids).
type MessageTarget struct {
	Kind  TargetKind
	RoomID uuid.UUID
	PeerA uuid.UUID
	PeerB uuid.UUID
}

// RoomTarget builds a room message target.
func RoomTarget(roomID uuid.UUID) MessageTarget {
	return MessageTarget{Kind: TargetRoom, RoomID: roomID}
}

// DirectTarget builds the canonical direct-conversation target for two users.
func DirectTarget(a, b uuid.UUID) MessageTarget {
	if a.String() > b.String() {
		a, b = b, a
	}
	return MessageTarget{Kind: TargetDirect, PeerA: a, PeerB: b}
}

// key returns a stable string key for indexing messages by target in
// implementations that need a map key (e.g. the in-memory store).
func (t MessageTarget) key() string {
	if t.Kind == TargetRoom {
		return "room:" + t.RoomID.String()
	}
	return "direct:" + t.PeerA.String() + ":" + t.PeerB.String()
}

// Message is a single append-only chat message.
type Message struct {
	ID        uint64
	AuthorID  uuid.UUID
	Target    MessageTarget
	CreatedAt time.Time
	Body      string
}

// Session is a server-issued credential binding a user to a time-bounded
// right to operate.
type Session struct {
	ID          string
	UserID      uuid.UUID
	IssuedAt    time.Time
	ExpiresAt   time.Time
	LastSeen    time.Time
	Fingerprint string
	Superseded  bool
}

// Valid reports whether the session has not yet expired, relative to now.
func (s Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// InvitationStatus is the lifecycle state of a room invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationRevoked  InvitationStatus = "revoked"
)

// Invitation is a pending or resolved invite to a private room.
type Invitation struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	Inviter   uuid.UUID
	Invitee   uuid.UUID
	Status    InvitationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the full repository contract used by the services. Every
// operation that can suspend takes a context for cancellation.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	CreateRoom(ctx context.Context, r Room) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	GetRoomByName(ctx context.Context, name string) (Room, error)
	AddMember(ctx context.Context, roomID, userID uuid.UUID, role MemberRole) error
	RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error
	ListMembers(ctx context.Context, roomID uuid.UUID) ([]Membership, error)
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	UpdateMemberRole(ctx context.Context, roomID, userID uuid.UUID, role MemberRole) error

	AppendMessage(ctx context.Context, target MessageTarget, authorID uuid.UUID, body string) (Message, error)
	LoadHistory(ctx context.Context, target MessageTarget, before *uint64, limit int) ([]Message, bool, error)

	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	TouchSession(ctx context.Context, id string, now time.Time) error
	RevokeSession(ctx context.Context, id string) error
	SupersedeSession(ctx context.Context, oldID string, newSession Session) (Session, error)

	CreateInvitation(ctx context.Context, inv Invitation) (Invitation, error)
	UpdateInvitation(ctx context.Context, id uuid.UUID, status InvitationStatus) (Invitation, error)
	ListPendingInvitations(ctx context.Context, userID uuid.UUID) ([]Invitation, error)
	GetAcceptedInvitation(ctx context.Context, roomID, userID uuid.UUID) (Invitation, error)

	Close() error
}
