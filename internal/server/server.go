package server

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/auth"
	"chatcore/internal/dispatch"
	"chatcore/internal/messaging"
	"chatcore/internal/protocol"
	"chatcore/internal/room"
	"chatcore/internal/session"
	"chatcore/internal/store"
)

// DefaultMaxConnections is the listener's default concurrent-connection
// cap, after which new sockets are refused with an Error{code=OVERLOADED}
// frame and closed.
const DefaultMaxConnections = 10_000

// shutdownDrain is how long the listener waits for connections to react
// to a SHUTDOWN notice before forcing them closed.
const shutdownDrain = 2 * time.Second

// Server owns the TCP listener and every connection it accepts. It wires
// the auth/room/messaging services, the dispatch hub, and the session
// registry together the same way the teacher's Server wires Room to the
// HTTPS listener in server.go, generalized from one upgrade handler to a
// raw accept loop plus a per-connection state machine.
type Server struct {
	store      store.Store
	authSvc    *auth.Service
	roomSvc    *room.Service
	msgSvc     *messaging.Service
	hub        *dispatch.Hub
	sessions   *session.Manager
	maxConns   int
}

// New constructs a Server over an already-open store, wiring fresh
// service instances and a fresh dispatch hub / session manager.
func New(st store.Store) (*Server, error) {
	authSvc, err := auth.NewService(st)
	if err != nil {
		return nil, err
	}
	hub := dispatch.NewHub()
	return &Server{
		store:    st,
		authSvc:  authSvc,
		roomSvc:  room.NewService(st),
		msgSvc:   messaging.NewService(st, hub),
		hub:      hub,
		sessions: session.NewManager(hub),
		maxConns: DefaultMaxConnections,
	}, nil
}

// SetMaxConnections overrides the default listener connection cap.
func (s *Server) SetMaxConnections(n int) {
	if n > 0 {
		s.maxConns = n
	}
}

// Services exposes the auth/room/messaging services this server wired at
// construction, so the REST adapter can sit alongside the TCP listener
// without building its own copies.
func (s *Server) Services() (*auth.Service, *room.Service, *messaging.Service) {
	return s.authSvc, s.roomSvc, s.msgSvc
}

// Run accepts connections on ln until ctx is canceled. On cancellation it
// broadcasts Error{code=SHUTDOWN} to every live connection, waits
// shutdownDrain, closes every connection still open, then returns.
// Connections are served on a context that ctx's cancellation does not
// reach, so their writers stay up long enough to send the notice.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	acceptCtx, cancelAccept := context.WithCancel(ctx)
	defer cancelAccept()

	go func() {
		<-ctx.Done()
		s.shutdown()
		_ = ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if acceptCtx.Err() != nil {
				return nil
			}
			log.Printf("[server] accept error: %v", err)
			continue
		}
		if s.sessions.Count() >= s.maxConns {
			log.Printf("[server] rejecting %s: connection cap reached", nc.RemoteAddr())
			_ = writePlainError(nc, protocol.CodeOverloaded, "server connection limit reached")
			_ = nc.Close()
			continue
		}
		go s.acceptConn(context.WithoutCancel(acceptCtx), nc)
	}
}

// acceptConn wraps a freshly-dialed socket in a conn and serves it.
func (s *Server) acceptConn(ctx context.Context, nc net.Conn) {
	c := &conn{srv: s, nc: nc, joinedRooms: make(map[uuid.UUID]string)}
	c.serve(ctx)
}

// shutdown notifies every live connection of the impending shutdown and
// gives them shutdownDrain to close on their own, then force-closes every
// connection still registered. Run closes the listener afterwards, which
// unblocks its pending Accept.
func (s *Server) shutdown() {
	for _, rc := range s.sessions.All() {
		rc.Queue.Push(protocol.Envelope{Type: protocol.TypeError, Code: protocol.CodeShutdown, Message: "server is shutting down"})
	}
	time.Sleep(shutdownDrain)
	for _, rc := range s.sessions.All() {
		s.sessions.TriggerClose(rc.ID)
	}
}

// broadcastPresence fans a Presence envelope out to roomID's subscribers.
func (s *Server) broadcastPresence(roomID uuid.UUID, username, state string) {
	s.hub.PublishRoom(roomID, protocol.Envelope{Type: protocol.TypePresence, PresenceUser: username, PresenceState: state})
}
