package server

import (
	"context"
	"net"
	"testing"
	"time"

	"chatcore/internal/crypto"
	"chatcore/internal/protocol"
	"chatcore/internal/store"
)

// startTestServer boots a Server on a free loopback port and returns a
// cancel func that triggers its graceful shutdown, mirroring the
// corpus's own real-listener, real-dial server test idiom.
func startTestServer(t *testing.T) (addr string, cancel context.CancelFunc) {
	t.Helper()

	st := store.NewMemStore()
	srv, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = srv.Run(ctx, ln)
	}()

	t.Cleanup(cancel)
	return ln.Addr().String(), cancel
}

// testClient is a minimal hand-rolled client speaking the exact wire
// protocol: raw key exchange followed by encrypted length-prefixed
// envelopes, used to exercise the server without depending on the TUI.
type testClient struct {
	nc   net.Conn
	keys *crypto.SessionKeys
}

func dialTestClient(t *testing.T, addr string) *testClient {
	t.Helper()

	nc, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	serverPub, err := readRawKey(nc)
	if err != nil {
		t.Fatalf("read server public key: %v", err)
	}
	if err := writeRawKey(nc, kp.Public); err != nil {
		t.Fatalf("write client public key: %v", err)
	}
	keys, err := crypto.DeriveSessionKeys(kp.Private, serverPub, true)
	if err != nil {
		t.Fatalf("derive keys: %v", err)
	}

	c := &testClient{nc: nc, keys: keys}
	c.send(t, protocol.Envelope{Type: protocol.TypeHandshake, Version: protocolVersion})
	ack := c.recv(t)
	if ack.Type != protocol.TypeHandshakeAck {
		t.Fatalf("expected handshake_ack, got %q", ack.Type)
	}
	return c
}

func (c *testClient) send(t *testing.T, e protocol.Envelope) {
	t.Helper()
	if err := writeEnvelope(c.nc, c.keys, e); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
}

func (c *testClient) recv(t *testing.T) protocol.Envelope {
	t.Helper()
	_ = c.nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	e, err := readEnvelope(c.nc, c.keys)
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return e
}

func (c *testClient) register(t *testing.T, username, password string) {
	t.Helper()
	c.send(t, protocol.Envelope{Type: protocol.TypeRegister, Username: username, Email: "", Password: password})
}

func (c *testClient) login(t *testing.T, username, password string) protocol.Envelope {
	t.Helper()
	c.send(t, protocol.Envelope{Type: protocol.TypeLogin, Identifier: username, Password: password})
	return c.recv(t)
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)
	defer c.nc.Close()

	c.register(t, "alice", "hunter2pass")
	env := c.login(t, "alice", "hunter2pass")
	if env.Type != protocol.TypeAuthOk {
		t.Fatalf("expected auth_ok, got %+v", env)
	}
	if env.User == nil || env.User.Username != "alice" {
		t.Fatalf("expected user summary for alice, got %+v", env.User)
	}
}

func TestLoginWrongPasswordReturnsAuthErr(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)
	defer c.nc.Close()

	c.register(t, "bob", "correct-horse")
	env := c.login(t, "bob", "wrong-password")
	if env.Type != protocol.TypeAuthErr {
		t.Fatalf("expected auth_err, got %+v", env)
	}
	if env.Code != protocol.CodeInvalidCredentials {
		t.Fatalf("expected INVALID_CREDENTIALS, got %q", env.Code)
	}
}

func TestRoomJoinAndBroadcast(t *testing.T) {
	addr, _ := startTestServer(t)

	alice := dialTestClient(t, addr)
	defer alice.nc.Close()
	alice.register(t, "alice", "alice-password")
	if env := alice.login(t, "alice", "alice-password"); env.Type != protocol.TypeAuthOk {
		t.Fatalf("alice login failed: %+v", env)
	}

	bob := dialTestClient(t, addr)
	defer bob.nc.Close()
	bob.register(t, "bob", "bob-password")
	if env := bob.login(t, "bob", "bob-password"); env.Type != protocol.TypeAuthOk {
		t.Fatalf("bob login failed: %+v", env)
	}

	alice.send(t, protocol.Envelope{Type: protocol.TypeJoinRoom, Room: "general"})
	if env := alice.recv(t); env.Type != protocol.TypeRoomJoined {
		t.Fatalf("alice expected room_joined, got %+v", env)
	}

	bob.send(t, protocol.Envelope{Type: protocol.TypeJoinRoom, Room: "general"})
	if env := bob.recv(t); env.Type != protocol.TypeRoomJoined {
		t.Fatalf("bob expected room_joined, got %+v", env)
	}
	// alice should observe bob's presence(online) edge now that she is
	// subscribed to the room bob just joined.
	if env := alice.recv(t); env.Type != protocol.TypePresence || env.PresenceUser != "bob" {
		t.Fatalf("alice expected presence(bob online), got %+v", env)
	}

	bob.send(t, protocol.Envelope{Type: protocol.TypeSendRoomMessage, Room: "general", Body: "hello room"})
	msg := alice.recv(t)
	if msg.Type != protocol.TypeMessage || msg.Body != "hello room" || msg.Author != "bob" {
		t.Fatalf("alice expected bob's room message, got %+v", msg)
	}
	if msg.Target == nil || msg.Target.Kind != protocol.TargetRoom || msg.Target.Name != "general" {
		t.Fatalf("alice expected target room(general), got %+v", msg.Target)
	}
}

func TestDirectMessageFanOut(t *testing.T) {
	addr, _ := startTestServer(t)

	alice := dialTestClient(t, addr)
	defer alice.nc.Close()
	alice.register(t, "alice", "alice-password")
	alice.login(t, "alice", "alice-password")

	carol := dialTestClient(t, addr)
	defer carol.nc.Close()
	carol.register(t, "carol", "carol-password")
	carol.login(t, "carol", "carol-password")

	alice.send(t, protocol.Envelope{Type: protocol.TypeSendDirect, To: "carol", Body: "psst"})
	env := carol.recv(t)
	if env.Type != protocol.TypeMessage || env.Body != "psst" || env.Author != "alice" {
		t.Fatalf("carol expected direct message from alice, got %+v", env)
	}
	// Target is recipient-relative: carol must see the conversation keyed
	// by the author, not by herself.
	if env.Target == nil || env.Target.Kind != protocol.TargetDirect || env.Target.Name != "alice" {
		t.Fatalf("carol expected target direct(alice), got %+v", env.Target)
	}
}

func TestFetchHistoryAfterRoomMessages(t *testing.T) {
	addr, _ := startTestServer(t)

	alice := dialTestClient(t, addr)
	defer alice.nc.Close()
	alice.register(t, "alice", "alice-password")
	alice.login(t, "alice", "alice-password")
	alice.send(t, protocol.Envelope{Type: protocol.TypeJoinRoom, Room: "general"})
	alice.recv(t) // room_joined

	for i := 0; i < 3; i++ {
		alice.send(t, protocol.Envelope{Type: protocol.TypeSendRoomMessage, Room: "general", Body: "msg"})
		alice.recv(t) // own broadcast echo
	}

	alice.send(t, protocol.Envelope{
		Type:   protocol.TypeFetchHistory,
		Target: &protocol.Target{Kind: protocol.TargetRoom, Name: "general"},
		Limit:  10,
	})
	page := alice.recv(t)
	if page.Type != protocol.TypeHistoryPage {
		t.Fatalf("expected history_page, got %+v", page)
	}
	if len(page.Messages) != 3 {
		t.Fatalf("expected 3 history messages, got %d: %+v", len(page.Messages), page.Messages)
	}
}

func TestSendRoomMessageToUnknownRoomIsNotFound(t *testing.T) {
	addr, _ := startTestServer(t)

	alice := dialTestClient(t, addr)
	defer alice.nc.Close()
	alice.register(t, "alice", "alice-password")
	alice.login(t, "alice", "alice-password")

	alice.send(t, protocol.Envelope{Type: protocol.TypeSendRoomMessage, Room: "no-such-room", Body: "hi"})
	env := alice.recv(t)
	if env.Type != protocol.TypeError || env.Code != protocol.CodeNotFound {
		t.Fatalf("expected NOT_FOUND error, got %+v", env)
	}
}

func TestUnauthenticatedCommandIsRejected(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)
	defer c.nc.Close()

	c.send(t, protocol.Envelope{Type: protocol.TypeListRooms})
	env := c.recv(t)
	if env.Type != protocol.TypeError || env.Code != protocol.CodeUnauthenticated {
		t.Fatalf("expected UNAUTHENTICATED error, got %+v", env)
	}
}

func TestPingPong(t *testing.T) {
	addr, _ := startTestServer(t)
	c := dialTestClient(t, addr)
	defer c.nc.Close()

	c.send(t, protocol.Envelope{Type: protocol.TypePing, Nonce: 42})
	env := c.recv(t)
	if env.Type != protocol.TypePong || env.Nonce != 42 {
		t.Fatalf("expected pong echoing nonce 42, got %+v", env)
	}
}
