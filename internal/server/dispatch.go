package server

import (
	"context"

	"github.com/google/uuid"

	"chatcore/internal/dispatch"
	"chatcore/internal/messaging"
	"chatcore/internal/protocol"
	"chatcore/internal/session"
	"chatcore/internal/store"
)

// commandHandler processes one decoded envelope for a connection already
// past the phase check commandTable requires. It returns keepOpen=false
// only for a fatal outcome (currently only Logout uses this).
type commandHandler struct {
	requiresAuth bool
	fn           func(c *conn, snap session.Conn, env protocol.Envelope) (keepOpen bool, err error)
}

// commandTable maps every client->server message type to its handler.
// Types absent from this table (including every server->client type a
// misbehaving client might send) fall through to the "unknown variants
// ... are accepted on read but discarded" rule in dispatch().
var commandTable = map[string]commandHandler{
	protocol.TypeRegister:        {requiresAuth: false, fn: handleRegister},
	protocol.TypeLogin:           {requiresAuth: false, fn: handleLogin},
	protocol.TypeLogout:          {requiresAuth: true, fn: handleLogout},
	protocol.TypeListRooms:       {requiresAuth: true, fn: handleListRooms},
	protocol.TypeCreateRoom:      {requiresAuth: true, fn: handleCreateRoom},
	protocol.TypeJoinRoom:        {requiresAuth: true, fn: handleJoinRoom},
	protocol.TypeLeaveRoom:       {requiresAuth: true, fn: handleLeaveRoom},
	protocol.TypeSendRoomMessage: {requiresAuth: true, fn: handleSendRoomMessage},
	protocol.TypeSendDirect:      {requiresAuth: true, fn: handleSendDirect},
	protocol.TypeFetchHistory:    {requiresAuth: true, fn: handleFetchHistory},
	protocol.TypeListUsers:       {requiresAuth: true, fn: handleListUsers},
	protocol.TypePing:            {requiresAuth: false, fn: handleClientPing},
}

func handleClientPing(c *conn, _ session.Conn, env protocol.Envelope) (bool, error) {
	c.enqueue(protocol.Envelope{Type: protocol.TypePong, Nonce: env.Nonce})
	return true, nil
}

func handleRegister(c *conn, _ session.Conn, env protocol.Envelope) (bool, error) {
	ctx := context.Background()
	if _, err := c.srv.authSvc.Register(ctx, env.Username, env.Email, env.Password); err != nil {
		return true, err
	}
	return true, nil
}

func handleLogin(c *conn, _ session.Conn, env protocol.Envelope) (bool, error) {
	ctx := context.Background()
	remote := c.nc.RemoteAddr().String()
	user, sess, err := c.srv.authSvc.Login(ctx, env.Identifier, env.Password, remote)
	if err != nil {
		// Per the wire schema, login failures are reported as AuthErr, not
		// the generic Error envelope; translate and retag here.
		e := toErrorEnvelope(err)
		e.Type = protocol.TypeAuthErr
		c.enqueue(e)
		return true, nil
	}

	c.userID = user.ID
	c.username = user.Username
	c.sessionToken = sess.ID
	c.pendingOnlinePresence = c.srv.sessions.Authenticate(c.id, user.ID, user.Username, sess.ID)

	c.enqueue(protocol.Envelope{
		Type:         protocol.TypeAuthOk,
		SessionToken: sess.ID,
		User: &protocol.UserSummary{
			ID:       user.ID.String(),
			Username: user.Username,
			Role:     string(user.Role),
		},
	})
	return true, nil
}

func handleLogout(c *conn, snap session.Conn, _ protocol.Envelope) (bool, error) {
	_ = c.srv.authSvc.Logout(context.Background(), snap.SessionID)
	return false, nil
}

func handleListRooms(c *conn, _ session.Conn, _ protocol.Envelope) (bool, error) {
	rooms, err := c.srv.roomSvc.ListRooms(context.Background())
	if err != nil {
		return true, err
	}
	summaries := make([]protocol.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		members, err := c.srv.store.ListMembers(context.Background(), r.ID)
		if err != nil {
			return true, err
		}
		summaries = append(summaries, protocol.RoomSummary{
			ID:           r.ID.String(),
			Name:         r.Name,
			MembersCount: len(members),
			Topic:        r.Topic,
		})
	}
	c.enqueue(protocol.Envelope{Type: protocol.TypeRoomList, Rooms: summaries})
	return true, nil
}

func handleCreateRoom(c *conn, snap session.Conn, env protocol.Envelope) (bool, error) {
	private := false
	var maxMembers *int
	if env.Settings != nil {
		private = env.Settings.Private
		maxMembers = env.Settings.MaxMembers
	}
	r, err := c.srv.roomSvc.CreateRoom(context.Background(), env.Room, "", snap.UserID, private, maxMembers)
	if err != nil {
		return true, err
	}
	c.enqueue(protocol.Envelope{Type: protocol.TypeRoomList, Rooms: []protocol.RoomSummary{{
		ID: r.ID.String(), Name: r.Name, MembersCount: 1, Topic: r.Topic,
	}}})
	return true, nil
}

func handleJoinRoom(c *conn, snap session.Conn, env protocol.Envelope) (bool, error) {
	result, err := c.srv.roomSvc.JoinRoom(context.Background(), env.Room, snap.UserID)
	if err != nil {
		return true, err
	}

	// Broadcast this user's online edge to the room's existing subscribers
	// before subscribing this connection itself, so the joiner never
	// receives a presence event about its own connection.
	if c.pendingOnlinePresence {
		c.srv.broadcastPresence(result.Room.ID, c.username, "online")
		c.pendingOnlinePresence = false
	}

	c.srv.sessions.JoinRoom(c.id, result.Room.ID)
	c.joinedRooms[result.Room.ID] = result.Room.Name

	usernames := make([]string, 0, len(result.Members))
	for _, m := range result.Members {
		u, err := c.srv.store.GetUserByID(context.Background(), m.UserID)
		if err == nil {
			usernames = append(usernames, u.Username)
		}
	}
	c.enqueue(protocol.Envelope{Type: protocol.TypeRoomJoined, Room: result.Room.Name, Members: usernames})
	return true, nil
}

func handleLeaveRoom(c *conn, snap session.Conn, env protocol.Envelope) (bool, error) {
	r, err := c.srv.roomSvc.LeaveRoom(context.Background(), env.Room, snap.UserID)
	if err != nil {
		return true, err
	}
	c.srv.sessions.LeaveRoom(c.id, r.ID)
	delete(c.joinedRooms, r.ID)
	c.enqueue(protocol.Envelope{Type: protocol.TypeRoomLeft, Room: r.Name})
	return true, nil
}

func handleSendRoomMessage(c *conn, snap session.Conn, env protocol.Envelope) (bool, error) {
	r, err := c.srv.store.GetRoomByName(context.Background(), env.Room)
	if err != nil {
		return true, err
	}
	result, err := c.srv.msgSvc.PublishRoomMessage(context.Background(), r.ID, r.Name, snap.UserID, c.username, env.Body)
	if err != nil {
		return true, err
	}
	c.srv.closeOverloaded(result.Overloaded)
	return true, nil
}

func handleSendDirect(c *conn, snap session.Conn, env protocol.Envelope) (bool, error) {
	result, err := c.srv.msgSvc.PublishDirect(context.Background(), snap.UserID, c.username, env.To, env.Body, c.id)
	if err != nil {
		return true, err
	}
	c.srv.closeOverloaded(result.Overloaded)
	return true, nil
}

func handleFetchHistory(c *conn, _ session.Conn, env protocol.Envelope) (bool, error) {
	target, err := resolveTarget(c, env.Target)
	if err != nil {
		return true, err
	}
	limit := env.Limit
	if limit == 0 {
		limit = messagingDefaultLimit
	}
	page, err := c.srv.msgSvc.FetchHistory(context.Background(), target, env.Before, limit)
	if err != nil {
		return true, err
	}
	out := make([]protocol.HistoryMessage, 0, len(page.Messages))
	for _, m := range page.Messages {
		author, _ := c.srv.store.GetUserByID(context.Background(), m.AuthorID)
		out = append(out, protocol.HistoryMessage{
			ID:        m.ID,
			Target:    *env.Target,
			Author:    author.Username,
			Body:      m.Body,
			CreatedAt: m.CreatedAt.UnixMicro(),
		})
	}
	c.enqueue(protocol.Envelope{Type: protocol.TypeHistoryPage, Target: env.Target, Messages: out, HasMore: page.HasMore})
	return true, nil
}

func handleListUsers(c *conn, _ session.Conn, env protocol.Envelope) (bool, error) {
	ctx := context.Background()
	var ids []uuid.UUID
	if env.Room != "" {
		r, err := c.srv.store.GetRoomByName(ctx, env.Room)
		if err != nil {
			return true, err
		}
		members, err := c.srv.store.ListMembers(ctx, r.ID)
		if err != nil {
			return true, err
		}
		for _, m := range members {
			ids = append(ids, m.UserID)
		}
	}
	users := make([]protocol.UserSummary, 0, len(ids))
	for _, id := range ids {
		u, err := c.srv.store.GetUserByID(ctx, id)
		if err == nil {
			users = append(users, protocol.UserSummary{ID: u.ID.String(), Username: u.Username, Role: string(u.Role)})
		}
	}
	c.enqueue(protocol.Envelope{Type: protocol.TypeUserList, Room: env.Room, Users: users})
	return true, nil
}

// messagingDefaultLimit is used when a FetchHistory request omits limit.
const messagingDefaultLimit = 50

// resolveTarget turns a wire Target into a store.MessageTarget, resolving
// a direct-message peer username to a user id.
func resolveTarget(c *conn, t *protocol.Target) (store.MessageTarget, error) {
	if t == nil {
		return store.MessageTarget{}, &messaging.Error{Code: protocol.CodeBadRequest, Message: "fetch history requires a target"}
	}
	if t.Kind == protocol.TargetDirect {
		peer, err := c.srv.store.GetUserByUsername(context.Background(), t.Name)
		if err != nil {
			return store.MessageTarget{}, err
		}
		return store.DirectTarget(c.userID, peer.ID), nil
	}
	r, err := c.srv.store.GetRoomByName(context.Background(), t.Name)
	if err != nil {
		return store.MessageTarget{}, err
	}
	return store.RoomTarget(r.ID), nil
}

// closeOverloaded force-closes every connection id in overloaded. Their
// own read loop observes the resulting socket error and runs the normal
// teardown path; this only triggers that path from the fan-out side,
// which has no direct handle on the socket.
func (s *Server) closeOverloaded(overloaded []dispatch.ConnID) {
	for _, id := range overloaded {
		s.sessions.TriggerClose(id)
	}
}
