// Command chatcore-server is the TCP chat server: it opens the SQLite
// store, wires the auth/room/messaging services, and runs the length-
// prefixed wire listener alongside the REST adapter, the same two-listener
// shape as the teacher's server/main.go (its WebSocket+TLS listener next
// to its REST api.go).
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"chatcore/internal/httpapi"
	"chatcore/internal/server"
	"chatcore/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := loadConfig()

	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], cfg.databaseURL) {
			return 0
		}
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	st, err := store.Open(cfg.databaseURL)
	if err != nil {
		log.Printf("[server] open store: %v", err)
		return 1
	}
	defer st.Close()

	srv, err := server.New(st)
	if err != nil {
		log.Printf("[server] init: %v", err)
		return 1
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.tcpPort))
	if err != nil {
		log.Printf("[server] bind :%d: %v", cfg.tcpPort, err)
		return 2
	}
	log.Printf("[server] tcp listening on %s", ln.Addr())

	authSvc, roomSvc, msgSvc := srv.Services()
	api := httpapi.New(st, authSvc, roomSvc, msgSvc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[server] shutdown signal received")
		cancel()
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Run(ctx, ln) }()
	go func() { errCh <- api.Run(ctx, fmt.Sprintf(":%d", cfg.httpPort)) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		log.Printf("[server] fatal: %v", firstErr)
		return 1
	}
	return 0
}

// config holds the recognized environment options. Other environment
// variables are not read, and no warning is logged for them.
type config struct {
	tcpPort     int
	httpPort    int
	databaseURL string
	logLevel    string
}

func loadConfig() config {
	cfg := config{
		tcpPort:     8080,
		httpPort:    8082,
		databaseURL: "chatcore.db",
		logLevel:    "info",
	}
	if v := os.Getenv("TCP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.tcpPort = n
		} else {
			log.Printf("[server] ignoring invalid TCP_PORT=%q", v)
		}
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.httpPort = n
		} else {
			log.Printf("[server] ignoring invalid HTTP_PORT=%q", v)
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.databaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.logLevel = v
	}
	return cfg
}
