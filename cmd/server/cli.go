package main

import (
	"context"
	"fmt"
	"os"

	"chatcore/internal/store"
)

// Version is the server's reported build version.
const Version = "1.0.0"

// RunCLI handles administrative subcommands that bypass the normal listen
// loop, generalized from the teacher's RunCLI dispatch in cli.go to this
// schema's "status" notion (room count, general's member count) instead
// of channel counts.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "version":
		fmt.Printf("chatcore server %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	default:
		return false
	}
}

func cliStatus(dbPath string) bool {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	rooms, err := st.ListRooms(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error listing rooms: %v\n", err)
		os.Exit(1)
	}
	generalMembers := 0
	if general, err := st.GetRoomByName(ctx, store.ReservedRoomName); err == nil {
		if members, err := st.ListMembers(ctx, general.ID); err == nil {
			generalMembers = len(members)
		}
	}
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Rooms: %d\n", len(rooms))
	fmt.Printf("General members: %d\n", generalMembers)
	fmt.Printf("Version: %s\n", Version)
	return true
}
