// Package tui implements the client side of the wire protocol: the X25519
// handshake, login/register, the default general-room join, command
// translation, and reconnect-with-backoff. Its own terminal rendering is
// intentionally thin — only the protocol-visible behavior is in scope —
// but the connection lifecycle follows the teacher's Transport: callbacks
// registered before Connect, a single background reader goroutine per
// session, and mutex-guarded reconnect state.
package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"chatcore/internal/crypto"
	"chatcore/internal/protocol"
	"chatcore/internal/wire"
)

const (
	protocolVersion = "1.0.0"

	// reconnectBaseDelay and reconnectMaxDelay bound the exponential
	// backoff schedule: min(30s, 1s*2^attempts) with +/-20% jitter.
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Callbacks are invoked from the client's single reader goroutine; callers
// that touch shared state from these must synchronize themselves.
type Callbacks struct {
	OnAuthOk      func(protocol.Envelope)
	OnAuthErr     func(protocol.Envelope)
	OnRoomList    func(protocol.Envelope)
	OnRoomJoined  func(protocol.Envelope)
	OnRoomLeft    func(protocol.Envelope)
	OnMessage     func(protocol.Envelope)
	OnHistoryPage func(protocol.Envelope)
	OnPresence    func(protocol.Envelope)
	OnUserList    func(protocol.Envelope)
	OnError       func(protocol.Envelope)
	OnDisconnect  func(reason string)
}

// Client drives one logical session against the chat server: dial,
// handshake, authenticate, join "general", then translate user commands
// into wire envelopes until told to disconnect.
type Client struct {
	addr     string
	username string
	password string
	cb       Callbacks

	mu      sync.Mutex
	nc      net.Conn
	keys    *crypto.SessionKeys
	cancel  context.CancelFunc
	pingSeq uint64
}

// New constructs a Client for the given server address; callbacks may be
// left as the zero value for events the caller does not care about.
func New(addr string, cb Callbacks) *Client {
	return &Client{addr: addr, cb: cb}
}

// Connect dials the server, performs the handshake and login (registering
// first if register is true), joins "general" by default on success, and
// starts the background reader. It returns once the handshake round trip
// completes and the login request has been sent, or on the first failure;
// the login outcome arrives later through OnAuthOk or OnAuthErr.
func (c *Client) Connect(ctx context.Context, username, password string, register bool) error {
	c.username, c.password = username, password

	nc, err := net.DialTimeout("tcp", c.addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("tui: dial %s: %w", c.addr, err)
	}

	keys, err := c.handshake(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("tui: handshake: %w", err)
	}

	c.mu.Lock()
	c.nc, c.keys = nc, keys
	c.mu.Unlock()

	if err := c.writeEnvelope(protocol.Envelope{Type: protocol.TypeHandshake, Version: protocolVersion}); err != nil {
		nc.Close()
		return fmt.Errorf("tui: send handshake: %w", err)
	}
	ack, err := c.readEnvelope()
	if err != nil {
		nc.Close()
		return fmt.Errorf("tui: read handshake ack: %w", err)
	}
	if ack.Type != protocol.TypeHandshakeAck {
		nc.Close()
		return fmt.Errorf("tui: unexpected first reply %q", ack.Type)
	}

	if register {
		if err := c.writeEnvelope(protocol.Envelope{Type: protocol.TypeRegister, Username: username, Password: password}); err != nil {
			nc.Close()
			return fmt.Errorf("tui: send register: %w", err)
		}
	}
	if err := c.writeEnvelope(protocol.Envelope{Type: protocol.TypeLogin, Identifier: username, Password: password}); err != nil {
		nc.Close()
		return fmt.Errorf("tui: send login: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(sessCtx)
	return nil
}

// handshake reads the server's ephemeral public key first (the server
// sends first; see conn.go's handshake), then sends this client's key,
// and derives session keys as the client side.
func (c *Client) handshake(nc net.Conn) (*crypto.SessionKeys, error) {
	serverPub, err := readRawKey(nc)
	if err != nil {
		return nil, fmt.Errorf("read server public key: %w", err)
	}
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	if err := writeRawKey(nc, kp.Public); err != nil {
		return nil, fmt.Errorf("send client public key: %w", err)
	}
	return crypto.DeriveSessionKeys(kp.Private, serverPub, true)
}

// readLoop decodes and dispatches every inbound envelope to the
// registered callback until the connection ends.
func (c *Client) readLoop(ctx context.Context) {
	for {
		env, err := c.readEnvelope()
		if err != nil {
			reason := "connection closed"
			if err != io.EOF {
				reason = err.Error()
			}
			if c.cb.OnDisconnect != nil {
				c.cb.OnDisconnect(reason)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAuthOk:
		if c.cb.OnAuthOk != nil {
			c.cb.OnAuthOk(env)
		}
		// After AuthOk, the default behavior is to list rooms and join
		// "general" without waiting on the user.
		_ = c.ListRooms()
		_ = c.JoinRoom("general")
	case protocol.TypeAuthErr:
		if c.cb.OnAuthErr != nil {
			c.cb.OnAuthErr(env)
		}
	case protocol.TypeRoomList:
		if c.cb.OnRoomList != nil {
			c.cb.OnRoomList(env)
		}
	case protocol.TypeRoomJoined:
		if c.cb.OnRoomJoined != nil {
			c.cb.OnRoomJoined(env)
		}
	case protocol.TypeRoomLeft:
		if c.cb.OnRoomLeft != nil {
			c.cb.OnRoomLeft(env)
		}
	case protocol.TypeMessage:
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(env)
		}
	case protocol.TypeHistoryPage:
		if c.cb.OnHistoryPage != nil {
			c.cb.OnHistoryPage(env)
		}
	case protocol.TypePresence:
		if c.cb.OnPresence != nil {
			c.cb.OnPresence(env)
		}
	case protocol.TypeUserList:
		if c.cb.OnUserList != nil {
			c.cb.OnUserList(env)
		}
	case protocol.TypePing:
		_ = c.writeEnvelope(protocol.Envelope{Type: protocol.TypePong, Nonce: env.Nonce})
	case protocol.TypeError:
		if c.cb.OnError != nil {
			c.cb.OnError(env)
		}
	}
}

// SendRoomMessage sends a chat message to a joined room.
func (c *Client) SendRoomMessage(room, body string) error {
	return c.writeEnvelope(protocol.Envelope{Type: protocol.TypeSendRoomMessage, Room: room, Body: body})
}

// SendDirect implements the "/dm user message..." command.
func (c *Client) SendDirect(toUsername, body string) error {
	return c.writeEnvelope(protocol.Envelope{Type: protocol.TypeSendDirect, To: toUsername, Body: body})
}

// ListRooms implements the "/rooms" command.
func (c *Client) ListRooms() error {
	return c.writeEnvelope(protocol.Envelope{Type: protocol.TypeListRooms})
}

// CreateRoom implements the "/create name" command.
func (c *Client) CreateRoom(name string) error {
	return c.writeEnvelope(protocol.Envelope{Type: protocol.TypeCreateRoom, Room: name})
}

// JoinRoom sends a JoinRoom command, used both for the default "general"
// join after login and for user-driven room switches.
func (c *Client) JoinRoom(name string) error {
	return c.writeEnvelope(protocol.Envelope{Type: protocol.TypeJoinRoom, Room: name})
}

// LeaveRoom sends a LeaveRoom command.
func (c *Client) LeaveRoom(name string) error {
	return c.writeEnvelope(protocol.Envelope{Type: protocol.TypeLeaveRoom, Room: name})
}

// FetchHistory requests history for a room or DM target.
func (c *Client) FetchHistory(target protocol.Target, before *uint64, limit int) error {
	return c.writeEnvelope(protocol.Envelope{Type: protocol.TypeFetchHistory, Target: &target, Before: before, Limit: limit})
}

// Quit implements the "/quit" command: sends Logout and closes the socket.
func (c *Client) Quit() error {
	_ = c.writeEnvelope(protocol.Envelope{Type: protocol.TypeLogout})
	return c.Close()
}

// Close tears down the session's goroutine and socket without sending
// Logout, used for reconnect and abrupt shutdown paths.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.nc != nil {
		err := c.nc.Close()
		c.nc = nil
		return err
	}
	return nil
}

func (c *Client) writeEnvelope(e protocol.Envelope) error {
	c.mu.Lock()
	nc, keys := c.nc, c.keys
	c.mu.Unlock()
	if nc == nil || keys == nil {
		return fmt.Errorf("tui: not connected")
	}
	plaintext, err := protocol.Encode(e)
	if err != nil {
		return fmt.Errorf("tui: encode: %w", err)
	}
	frame, err := keys.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("tui: encrypt: %w", err)
	}
	return wire.WriteFrame(nc, frame)
}

func (c *Client) readEnvelope() (protocol.Envelope, error) {
	c.mu.Lock()
	nc, keys := c.nc, c.keys
	c.mu.Unlock()
	if nc == nil || keys == nil {
		return protocol.Envelope{}, fmt.Errorf("tui: not connected")
	}
	frame, err := wire.ReadFrame(nc)
	if err != nil {
		return protocol.Envelope{}, err
	}
	plaintext, err := keys.Open(frame)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("tui: decrypt: %w", err)
	}
	return protocol.Decode(plaintext)
}

// writeRawKey writes the handshake public key as-is, with no length prefix,
// matching the server side: the key size is fixed by the curve, so there is
// nothing for a wire.WriteFrame header to add here.
func writeRawKey(w io.Writer, key [crypto.KeySize]byte) error {
	_, err := w.Write(key[:])
	return err
}

func readRawKey(r io.Reader) ([crypto.KeySize]byte, error) {
	var buf [crypto.KeySize]byte
	_, err := io.ReadFull(r, buf[:])
	return buf, err
}

// ReconnectDelay returns the backoff delay for the given zero-based retry
// attempt: min(30s, 1s*2^attempt) with +/-20% jitter, per the reconnect
// schedule.
func ReconnectDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= reconnectMaxDelay {
			delay = reconnectMaxDelay
			break
		}
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(float64(delay) * jitter)
}

// RunWithReconnect calls connect in a loop, waiting ReconnectDelay between
// failed attempts, until ctx is canceled or connect succeeds. It returns
// as soon as one connect call succeeds and does not watch the session
// after that, so a connection lost later is not re-established by it.
// cmd/client does not call it.
func RunWithReconnect(ctx context.Context, connect func(context.Context) error) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := connect(ctx); err != nil {
			log.Printf("[tui] connect failed: %v", err)
			delay := ReconnectDelay(attempt)
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		return
	}
}

// ParseCommand translates one line of user input into a command the
// caller can act on. It recognizes "/dm user message...", "/rooms",
// "/create name", "/join name", "/leave name", and "/quit"; anything else
// is a plain room message.
type Command struct {
	Kind string // "message", "dm", "rooms", "create", "quit", "join", "leave"
	Arg1 string
	Arg2 string
}

func ParseCommand(line string) Command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: "message", Arg1: line}
	}
	fields := strings.SplitN(line, " ", 3)
	switch fields[0] {
	case "/dm":
		if len(fields) < 3 {
			return Command{Kind: "message", Arg1: line}
		}
		return Command{Kind: "dm", Arg1: fields[1], Arg2: fields[2]}
	case "/rooms":
		return Command{Kind: "rooms"}
	case "/create":
		if len(fields) < 2 {
			return Command{Kind: "message", Arg1: line}
		}
		return Command{Kind: "create", Arg1: fields[1]}
	case "/join":
		if len(fields) < 2 {
			return Command{Kind: "message", Arg1: line}
		}
		return Command{Kind: "join", Arg1: fields[1]}
	case "/leave":
		if len(fields) < 2 {
			return Command{Kind: "message", Arg1: line}
		}
		return Command{Kind: "leave", Arg1: fields[1]}
	case "/quit":
		return Command{Kind: "quit"}
	default:
		return Command{Kind: "message", Arg1: line}
	}
}

// ReadCommands scans lines from r and sends a Command for each onto the
// returned channel, closing it when r reaches EOF. Used to drive a Client
// from a terminal or, in tests, from a strings.Reader.
func ReadCommands(r io.Reader) <-chan Command {
	out := make(chan Command)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			out <- ParseCommand(line)
		}
	}()
	return out
}
