package server

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/crypto"
	"chatcore/internal/dispatch"
	"chatcore/internal/protocol"
	"chatcore/internal/session"
)

const (
	protocolVersion = "1.0.0"

	keepaliveIdleAfter = 30 * time.Second
	keepalivePeriod    = 5 * time.Second
	pingDeadline       = 30 * time.Second

	// badRequestLimit and badRequestWindow bound how many BAD_REQUEST
	// responses a connection may accrue before it is closed outright.
	badRequestLimit  = 5
	badRequestWindow = 10 * time.Second
)

// conn drives one TCP socket end to end: handshake, auth, command loop,
// keepalive, and teardown. Its lifetime is exactly the socket's; all
// cross-connection state lives in the session.Manager and dispatch.Hub
// it was constructed with.
type conn struct {
	srv  *Server
	nc   net.Conn
	id   dispatch.ConnID
	keys *crypto.SessionKeys

	lastPingNonce   uint64
	pingOutstanding bool
	pingSentAt      time.Time

	badRequests []time.Time

	// userID and username are set once authentication succeeds; joinedRooms
	// mirrors the session manager's per-connection subscription set so
	// teardown can address a Presence(offline) broadcast to every room
	// this connection was subscribed to without re-querying the registry
	// after it has already been torn down.
	userID               uuid.UUID
	username             string
	sessionToken         string
	pendingOnlinePresence bool
	joinedRooms          map[uuid.UUID]string // roomID -> room name
}

// serve runs the full per-connection lifecycle. It never returns an
// error; all failures are logged and result in the socket being closed.
func (c *conn) serve(ctx context.Context) {
	remote := c.nc.RemoteAddr().String()
	defer c.nc.Close()

	keys, err := c.handshake()
	if err != nil {
		log.Printf("[server] %s handshake failed: %v", remote, err)
		return
	}
	c.keys = keys

	registryConn := c.srv.sessions.Open(remote, dispatch.DefaultQueueCapacity, func() { c.nc.Close() })
	c.id = registryConn.ID
	c.srv.sessions.MarkKeyExchanged(c.id)
	defer c.teardown()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(connCtx, registryConn.Queue)
	}()

	go c.keepaliveLoop(connCtx)

	c.readLoop(connCtx, cancel)
	cancel()
	<-writerDone
}

// handshake performs the X25519 exchange: the server's public key is
// sent first (plaintext), then the client's is read (plaintext), and
// session keys are derived for the server side (isClient=false).
func (c *conn) handshake() (*crypto.SessionKeys, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	if err := writeRawKey(c.nc, kp.Public); err != nil {
		return nil, fmt.Errorf("send server public key: %w", err)
	}
	theirPublic, err := readRawKey(c.nc)
	if err != nil {
		return nil, fmt.Errorf("read client public key: %w", err)
	}
	return crypto.DeriveSessionKeys(kp.Private, theirPublic, false)
}

// writeLoop drains q and writes each envelope as an encrypted frame. It
// is the connection's single writer, preserving frame atomicity.
func (c *conn) writeLoop(ctx context.Context, q *dispatch.Queue) {
	for {
		e, ok := q.Next(ctx)
		if !ok {
			return
		}
		if err := writeEnvelope(c.nc, c.keys, e); err != nil {
			log.Printf("[server] conn %d write error: %v", c.id, err)
			return
		}
	}
}

// readLoop decodes and dispatches inbound frames until a fatal error.
// cancel stops the writer and keepalive goroutines once the read side
// ends, whatever the reason.
func (c *conn) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	env, err := readEnvelope(c.nc, c.keys)
	if err != nil {
		log.Printf("[server] conn %d handshake-follow-up read failed: %v", c.id, err)
		return
	}
	if env.Type != protocol.TypeHandshake {
		c.enqueue(protocol.Envelope{Type: protocol.TypeError, Code: protocol.CodeBadRequest, Message: "first message must be handshake"})
		return
	}
	if env.Version != protocolVersion {
		c.enqueue(protocol.Envelope{Type: protocol.TypeError, Code: protocol.CodeUnsupportedVersion, Message: "unsupported protocol version"})
		return
	}
	c.enqueue(protocol.Envelope{Type: protocol.TypeHandshakeAck, Version: protocolVersion, ServerTime: time.Now().UTC().UnixMicro()})

	for {
		env, err := readEnvelope(c.nc, c.keys)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("[server] conn %d fatal read error: %v", c.id, err)
			}
			return
		}
		c.srv.sessions.Touch(c.id)
		if !c.dispatch(env) {
			return
		}
	}
}

// dispatch handles one decoded envelope. It returns false when the
// connection must be closed (a fatal protocol error or explicit logout).
func (c *conn) dispatch(env protocol.Envelope) bool {
	if env.Type == protocol.TypePong {
		c.handlePong(env)
		return true
	}

	snap, ok := c.srv.sessions.Get(c.id)
	if !ok {
		return false
	}

	handler, known := commandTable[env.Type]
	if !known {
		// Unknown variants are accepted and discarded per the wire rules.
		return true
	}
	if handler.requiresAuth && snap.Phase != session.PhaseAuthenticated {
		c.enqueue(protocol.Envelope{Type: protocol.TypeError, Code: protocol.CodeUnauthenticated, Message: "this operation requires an authenticated session"})
		return true
	}

	keepOpen, cmdErr := handler.fn(c, snap, env)
	if cmdErr != nil {
		if !c.reportError(cmdErr) {
			return false
		}
	}
	return keepOpen
}

// reportError sends the translated error envelope and applies the
// repeated-BAD_REQUEST connection-closing policy. It returns false when
// the connection must now be closed.
func (c *conn) reportError(err error) bool {
	envelope := toErrorEnvelope(err)
	c.enqueue(envelope)
	if envelope.Code != protocol.CodeBadRequest {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-badRequestWindow)
	kept := c.badRequests[:0]
	for _, t := range c.badRequests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.badRequests = append(kept, now)
	return len(c.badRequests) < badRequestLimit
}

func (c *conn) handlePong(env protocol.Envelope) {
	if c.pingOutstanding && env.Nonce == c.lastPingNonce {
		c.pingOutstanding = false
	}
}

// keepaliveLoop pings an idle connection and closes it if no Pong
// arrives within pingDeadline.
func (c *conn) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepalivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := c.srv.sessions.Get(c.id)
			if !ok {
				return
			}
			idleFor := time.Since(snap.LastSeen)
			if c.pingOutstanding {
				if time.Since(c.pingSentAt) > pingDeadline {
					log.Printf("[server] conn %d dead: no pong within deadline", c.id)
					c.nc.Close()
					return
				}
				continue
			}
			if idleFor >= keepaliveIdleAfter {
				var buf [8]byte
				_, _ = rand.Read(buf[:])
				c.lastPingNonce = binary.BigEndian.Uint64(buf[:])
				c.pingOutstanding = true
				c.pingSentAt = time.Now()
				c.enqueue(protocol.Envelope{Type: protocol.TypePing, Nonce: c.lastPingNonce})
			}
		}
	}
}

// enqueue pushes e onto this connection's outbound queue. If the queue
// overflows, the connection is closed with OVERLOADED per the fan-out
// delivery guarantee.
func (c *conn) enqueue(e protocol.Envelope) {
	snap, ok := c.srv.sessions.Get(c.id)
	if !ok {
		return
	}
	if snap.Queue.Push(e) {
		log.Printf("[server] conn %d outbound queue overloaded, closing", c.id)
		_ = writeEnvelope(c.nc, c.keys, protocol.Envelope{Type: protocol.TypeError, Code: protocol.CodeOverloaded, Message: "connection is lagging"})
		c.nc.Close()
	}
}

// teardown releases registry and hub state and, if this was the user's
// last live connection, emits a Presence(offline) event to every room
// this connection had joined.
func (c *conn) teardown() {
	userID, becameOffline := c.srv.sessions.Close(c.id)
	if becameOffline && userID != uuid.Nil {
		for roomID := range c.joinedRooms {
			c.srv.broadcastPresence(roomID, c.username, "offline")
		}
	}
}

// rawKeySize is the wire size of a handshake public-key frame.
const rawKeySize = crypto.KeySize

// writeRawKey writes the handshake public key as-is, with no length prefix:
// its size is fixed by the curve, so framing it through internal/wire like
// every post-handshake message would add nothing but a redundant header.
func writeRawKey(w io.Writer, key [rawKeySize]byte) error {
	_, err := w.Write(key[:])
	return err
}

func readRawKey(r io.Reader) ([rawKeySize]byte, error) {
	var buf [rawKeySize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return buf, fmt.Errorf("short read of handshake key: %w", err)
	}
	return buf, nil
}
