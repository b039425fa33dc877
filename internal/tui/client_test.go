package tui

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"chatcore/internal/protocol"
	"chatcore/internal/server"
	"chatcore/internal/store"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	st := store.NewMemStore()
	srv, err := server.New(st)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Run(ctx, ln) }()
	t.Cleanup(cancel)
	return ln.Addr().String()
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line string
		want Command
	}{
		{"hello there", Command{Kind: "message", Arg1: "hello there"}},
		{"/dm bob hey you", Command{Kind: "dm", Arg1: "bob", Arg2: "hey you"}},
		{"/rooms", Command{Kind: "rooms"}},
		{"/create watercooler", Command{Kind: "create", Arg1: "watercooler"}},
		{"/join watercooler", Command{Kind: "join", Arg1: "watercooler"}},
		{"/leave watercooler", Command{Kind: "leave", Arg1: "watercooler"}},
		{"/quit", Command{Kind: "quit"}},
		{"/dm onlyuser", Command{Kind: "message", Arg1: "/dm onlyuser"}},
	}
	for _, tc := range cases {
		if got := ParseCommand(tc.line); got != tc.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tc.line, got, tc.want)
		}
	}
}

func TestReadCommandsDrainsUntilEOF(t *testing.T) {
	r := strings.NewReader("hello\n/rooms\n\n/quit\n")
	var kinds []string
	for cmd := range ReadCommands(r) {
		kinds = append(kinds, cmd.Kind)
	}
	want := []string{"message", "rooms", "quit"}
	if len(kinds) != len(want) {
		t.Fatalf("got %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("got %v, want %v", kinds, want)
		}
	}
}

func TestReconnectDelayBounds(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := ReconnectDelay(attempt)
		if d < 0 || d > reconnectMaxDelay+reconnectMaxDelay/5 {
			t.Fatalf("attempt %d: delay %v out of expected bounds", attempt, d)
		}
	}
}

func TestClientEndToEndLoginAndGeneralJoin(t *testing.T) {
	addr := startTestServer(t)

	authOk := make(chan struct{}, 1)
	roomJoined := make(chan string, 1)
	client := New(addr, Callbacks{
		OnAuthOk:     func(protocol.Envelope) { authOk <- struct{}{} },
		OnRoomJoined: func(e protocol.Envelope) { roomJoined <- e.Room },
	})

	if err := client.Connect(context.Background(), "alice", "alice-password", true); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	select {
	case <-authOk:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for auth_ok")
	}
	select {
	case room := <-roomJoined:
		if room != "general" {
			t.Fatalf("expected default join of general, got %q", room)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for room_joined(general)")
	}
}
