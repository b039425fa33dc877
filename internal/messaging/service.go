// Package messaging implements room and direct-message publication plus
// history retrieval on top of the store and the dispatch hub. Fan-out
// delivery is handled entirely by dispatch.Hub; this package only
// decides who should receive what and turns persisted messages into
// wire envelopes.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"chatcore/internal/dispatch"
	"chatcore/internal/protocol"
	"chatcore/internal/store"
)

const MaxHistoryLimit = 100

// Error wraps a protocol error code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newError(code, message string) *Error { return &Error{Code: code, Message: message} }

// Service implements message publication and history retrieval.
type Service struct {
	store store.Store
	hub   *dispatch.Hub
}

// NewService constructs a messaging Service.
func NewService(st store.Store, hub *dispatch.Hub) *Service {
	return &Service{store: st, hub: hub}
}

// PublishRoomResult carries the persisted message plus any connections
// that overflowed during fan-out and must be closed with OVERLOADED.
type PublishRoomResult struct {
	Message    store.Message
	Overloaded []dispatch.ConnID
}

// PublishRoomMessage normalizes and persists a room message, then fans it
// out to every connection subscribed to the room.
func (s *Service) PublishRoomMessage(ctx context.Context, roomID uuid.UUID, roomName string, authorID uuid.UUID, authorUsername, body string) (PublishRoomResult, error) {
	normalized, err := protocol.NormalizeBody(body)
	if err != nil {
		return PublishRoomResult{}, newError(protocol.CodeInvalidInput, "message body is invalid")
	}

	isMember, err := s.store.IsMember(ctx, roomID, authorID)
	if err != nil {
		return PublishRoomResult{}, fmt.Errorf("messaging: check membership: %w", err)
	}
	if !isMember {
		return PublishRoomResult{}, newError(protocol.CodeForbidden, "not a member of this room")
	}

	target := store.RoomTarget(roomID)
	msg, err := s.store.AppendMessage(ctx, target, authorID, normalized)
	if err != nil {
		return PublishRoomResult{}, fmt.Errorf("messaging: append: %w", err)
	}

	env := protocol.Envelope{
		Type:      protocol.TypeMessage,
		ID:        msg.ID,
		Target:    &protocol.Target{Kind: protocol.TargetRoom, Name: roomName},
		Author:    authorUsername,
		Body:      normalized,
		CreatedAt: msg.CreatedAt.UnixMicro(),
	}
	overloaded := s.hub.PublishRoom(roomID, env)
	return PublishRoomResult{Message: msg, Overloaded: overloaded}, nil
}

// PublishDirectResult carries the persisted message plus overflowed
// connections across both the peer's fan-out and the author's echo.
type PublishDirectResult struct {
	Message    store.Message
	Overloaded []dispatch.ConnID
}

// PublishDirect resolves the recipient username, appends the message
// under the canonical conversation key, and fans it out to the peer's
// live connections plus an echo to the author's other live connections.
func (s *Service) PublishDirect(ctx context.Context, authorID uuid.UUID, authorUsername, toUsername, body string, authorExcludeConn dispatch.ConnID) (PublishDirectResult, error) {
	normalized, err := protocol.NormalizeBody(body)
	if err != nil {
		return PublishDirectResult{}, newError(protocol.CodeInvalidInput, "message body is invalid")
	}

	peer, err := s.store.GetUserByUsername(ctx, toUsername)
	if errors.Is(err, store.ErrNotFound) {
		return PublishDirectResult{}, newError(protocol.CodeNotFound, "no such user")
	}
	if err != nil {
		return PublishDirectResult{}, fmt.Errorf("messaging: resolve recipient: %w", err)
	}
	if peer.ID == authorID {
		return PublishDirectResult{}, newError(protocol.CodeInvalidInput, "cannot send a direct message to yourself")
	}

	target := store.DirectTarget(authorID, peer.ID)
	msg, err := s.store.AppendMessage(ctx, target, authorID, normalized)
	if err != nil {
		return PublishDirectResult{}, fmt.Errorf("messaging: append: %w", err)
	}

	// Target is recipient-relative: the peer sees the conversation keyed by
	// the author, the author's echo sees it keyed by the peer.
	peerEnv := protocol.Envelope{
		Type:      protocol.TypeMessage,
		ID:        msg.ID,
		Target:    &protocol.Target{Kind: protocol.TargetDirect, Name: authorUsername},
		Author:    authorUsername,
		Body:      normalized,
		CreatedAt: msg.CreatedAt.UnixMicro(),
	}
	echoEnv := peerEnv
	echoEnv.Target = &protocol.Target{Kind: protocol.TargetDirect, Name: toUsername}

	var overloaded []dispatch.ConnID
	overloaded = append(overloaded, s.hub.PublishUser(peer.ID, peerEnv, nil)...)
	exclude := map[dispatch.ConnID]struct{}{authorExcludeConn: {}}
	overloaded = append(overloaded, s.hub.PublishUser(authorID, echoEnv, exclude)...)

	return PublishDirectResult{Message: msg, Overloaded: overloaded}, nil
}

// HistoryPage is the result of FetchHistory, ready to be placed on a
// HistoryPage envelope.
type HistoryPage struct {
	Messages []store.Message
	HasMore  bool
}

// FetchHistory returns up to limit messages older than before (or the
// latest if before is nil) for target, in descending id order. History
// requests bypass fan-out and presence entirely.
func (s *Service) FetchHistory(ctx context.Context, target store.MessageTarget, before *uint64, limit int) (HistoryPage, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		return HistoryPage{}, newError(protocol.CodeInvalidInput, "limit must be in 1..=100")
	}
	msgs, hasMore, err := s.store.LoadHistory(ctx, target, before, limit)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("messaging: load history: %w", err)
	}
	return HistoryPage{Messages: msgs, HasMore: hasMore}, nil
}
