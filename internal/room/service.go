// Package room implements room creation, joining, and leaving. Room
// membership itself lives in the store; this package only adds the
// validation, naming, and last-owner policy on top of it. The
// snapshot-then-release idiom the dispatcher uses for fan-out is the
// same one the corpus's room broadcaster uses, generalized here to
// room membership rather than audio/control targets.
package room

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"chatcore/internal/protocol"
	"chatcore/internal/store"
)

var namePattern = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

// Error wraps a protocol error code, matching the auth package's shape so
// both can be turned into an AuthErr/Error envelope the same way.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newError(code, message string) *Error { return &Error{Code: code, Message: message} }

// Service implements room lifecycle operations against a Store.
type Service struct {
	store store.Store
}

// NewService constructs a room Service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// CreateRoom normalizes and validates the name, then creates the room
// with the given creator as its owner.
func (s *Service) CreateRoom(ctx context.Context, name, topic string, creatorID uuid.UUID, private bool, maxMembers *int) (store.Room, error) {
	name = strings.ToLower(protocol.NormalizeNFC(name))
	if !namePattern.MatchString(name) {
		return store.Room{}, newError(protocol.CodeInvalidInput, "room name must match ^[a-z0-9-]{1,64}$")
	}
	r, err := s.store.CreateRoom(ctx, store.Room{
		Name:       name,
		Topic:      topic,
		CreatorID:  creatorID,
		Private:    private,
		MaxMembers: maxMembers,
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return store.Room{}, newError(protocol.CodeConflict, "room name already exists")
	}
	if err != nil {
		return store.Room{}, fmt.Errorf("room: create: %w", err)
	}
	return r, nil
}

// ListRooms returns every known room.
func (s *Service) ListRooms(ctx context.Context) ([]store.Room, error) {
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("room: list: %w", err)
	}
	return rooms, nil
}

// JoinResult carries the data the caller needs to build a RoomJoined
// envelope and decide whether to emit a Presence event.
type JoinResult struct {
	Room    store.Room
	Members []store.Membership
}

// JoinRoom adds userID as a member of the named room. A private room
// requires an accepted Invitation; an open room accepts anyone.
func (s *Service) JoinRoom(ctx context.Context, roomName string, userID uuid.UUID) (JoinResult, error) {
	r, err := s.store.GetRoomByName(ctx, roomName)
	if errors.Is(err, store.ErrNotFound) {
		return JoinResult{}, newError(protocol.CodeNotFound, "no such room")
	}
	if err != nil {
		return JoinResult{}, fmt.Errorf("room: lookup: %w", err)
	}

	if r.Private {
		_, err := s.store.GetAcceptedInvitation(ctx, r.ID, userID)
		if errors.Is(err, store.ErrNotFound) {
			return JoinResult{}, newError(protocol.CodeForbidden, "room is private and requires an accepted invitation")
		}
		if err != nil {
			return JoinResult{}, fmt.Errorf("room: check invitation: %w", err)
		}
	}

	if err := s.store.AddMember(ctx, r.ID, userID, store.MemberRoleMember); err != nil {
		return JoinResult{}, fmt.Errorf("room: add member: %w", err)
	}
	members, err := s.store.ListMembers(ctx, r.ID)
	if err != nil {
		return JoinResult{}, fmt.Errorf("room: list members: %w", err)
	}
	return JoinResult{Room: r, Members: members}, nil
}

// LeaveRoom removes userID's membership in the named room. Leaving
// `general` is a silent no-op. If the leaver is the room's sole owner,
// ownership transfers to the next-joined member; otherwise the room is
// left orphaned (it is never deleted).
func (s *Service) LeaveRoom(ctx context.Context, roomName string, userID uuid.UUID) (store.Room, error) {
	r, err := s.store.GetRoomByName(ctx, roomName)
	if errors.Is(err, store.ErrNotFound) {
		return store.Room{}, newError(protocol.CodeNotFound, "no such room")
	}
	if err != nil {
		return store.Room{}, fmt.Errorf("room: lookup: %w", err)
	}
	if r.Name == store.ReservedRoomName {
		return r, nil
	}

	members, err := s.store.ListMembers(ctx, r.ID)
	if err != nil {
		return store.Room{}, fmt.Errorf("room: list members: %w", err)
	}

	leavingIsSoleOwner := false
	var successor *store.Membership
	for i := range members {
		m := members[i]
		if m.UserID == userID && m.Role == store.MemberRoleOwner {
			leavingIsSoleOwner = true
		}
	}
	if leavingIsSoleOwner {
		ownerCount := 0
		for _, m := range members {
			if m.Role == store.MemberRoleOwner {
				ownerCount++
			}
		}
		if ownerCount == 1 {
			for i := range members {
				if members[i].UserID != userID {
					successor = &members[i]
					break
				}
			}
		} else {
			leavingIsSoleOwner = false
		}
	}

	if err := s.store.RemoveMember(ctx, r.ID, userID); err != nil {
		return store.Room{}, fmt.Errorf("room: remove member: %w", err)
	}
	if successor != nil {
		if err := s.store.UpdateMemberRole(ctx, r.ID, successor.UserID, store.MemberRoleOwner); err != nil {
			return store.Room{}, fmt.Errorf("room: transfer ownership: %w", err)
		}
	}
	return r, nil
}
