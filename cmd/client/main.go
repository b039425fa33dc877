// Command chatcore-client is the terminal chat client: it dials the
// server, drives the tui.Client protocol state machine, and prints
// server events to stdout while reading user commands from stdin. Its
// rendering is deliberately plain; only the protocol-visible behavior of
// the TUI is in scope here.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"chatcore/internal/protocol"
	"chatcore/internal/tui"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("server", "127.0.0.1:8080", "chat server address")
	username := flag.String("username", "", "pre-fill username (prompted if empty)")
	flag.Parse()

	reader := bufio.NewReader(os.Stdin)
	name := *username
	if name == "" {
		fmt.Print("username: ")
		line, _ := reader.ReadString('\n')
		name = strings.TrimSpace(line)
	}
	fmt.Print("password: ")
	line, _ := reader.ReadString('\n')
	password := strings.TrimSpace(line)

	quit := make(chan struct{})
	var client *tui.Client
	client = tui.New(*addr, tui.Callbacks{
		OnAuthOk: func(env protocol.Envelope) {
			if env.User != nil {
				fmt.Printf("logged in as %s\n", env.User.Username)
			}
		},
		OnAuthErr: func(env protocol.Envelope) {
			fmt.Printf("auth error [%s]: %s\n", env.Code, env.Message)
		},
		OnRoomList: func(env protocol.Envelope) {
			for _, r := range env.Rooms {
				fmt.Printf("room %s (%d members)\n", r.Name, r.MembersCount)
			}
		},
		OnRoomJoined: func(env protocol.Envelope) {
			fmt.Printf("joined %s, members: %s\n", env.Room, strings.Join(env.Members, ", "))
		},
		OnRoomLeft: func(env protocol.Envelope) {
			fmt.Printf("left %s\n", env.Room)
		},
		OnMessage: func(env protocol.Envelope) {
			label := "?"
			if env.Target != nil {
				label = targetLabel(*env.Target)
			}
			fmt.Printf("[%s] %s: %s\n", label, env.Author, env.Body)
		},
		OnHistoryPage: func(env protocol.Envelope) {
			for _, m := range env.Messages {
				fmt.Printf("(history) %s: %s\n", m.Author, m.Body)
			}
		},
		OnPresence: func(env protocol.Envelope) {
			fmt.Printf("* %s is %s\n", env.PresenceUser, env.PresenceState)
		},
		OnUserList: func(env protocol.Envelope) {
			names := make([]string, 0, len(env.Users))
			for _, u := range env.Users {
				names = append(names, u.Username)
			}
			fmt.Printf("users: %s\n", strings.Join(names, ", "))
		},
		OnError: func(env protocol.Envelope) {
			fmt.Printf("error [%s]: %s\n", env.Code, env.Message)
		},
		OnDisconnect: func(reason string) {
			fmt.Printf("disconnected: %s\n", reason)
			close(quit)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	var userQuit atomic.Bool
	go func() {
		<-sigCh
		userQuit.Store(true)
		_ = client.Quit()
	}()

	if err := client.Connect(ctx, name, password, false); err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		return 1
	}

	cmds := tui.ReadCommands(reader)
	for {
		select {
		case <-quit:
			if userQuit.Load() {
				return 0
			}
			return 1
		case cmd, ok := <-cmds:
			if !ok {
				_ = client.Quit()
				return 0
			}
			if !dispatchCommand(client, cmd) {
				return 0
			}
		}
	}
}

// dispatchCommand translates one parsed command into a client call; it
// returns false when the client has requested to quit.
func dispatchCommand(client *tui.Client, cmd tui.Command) bool {
	var err error
	switch cmd.Kind {
	case "message":
		err = client.SendRoomMessage("general", cmd.Arg1)
	case "dm":
		err = client.SendDirect(cmd.Arg1, cmd.Arg2)
	case "rooms":
		err = client.ListRooms()
	case "create":
		err = client.CreateRoom(cmd.Arg1)
	case "join":
		err = client.JoinRoom(cmd.Arg1)
	case "leave":
		err = client.LeaveRoom(cmd.Arg1)
	case "quit":
		_ = client.Quit()
		return false
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
	}
	return true
}

func targetLabel(t protocol.Target) string {
	if t.Kind == protocol.TargetDirect {
		return "dm:" + t.Name
	}
	return "#" + t.Name
}
