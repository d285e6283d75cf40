package nats

import (
	"fmt"
	"log"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer runs an in-process NATS server so the daemon can ship
// as a single binary.
type EmbeddedServer struct {
	server  *natsserver.Server
	mu      sync.Mutex
	running bool
}

// NewEmbeddedServer creates a server listening on the given port.
func NewEmbeddedServer(port int) (*EmbeddedServer, error) {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	return &EmbeddedServer{server: srv}, nil
}

// Start launches the server and waits for it to accept connections.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	go e.server.Start()

	if !e.server.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("NATS server not ready within 10s")
	}

	e.running = true
	log.Printf("[NATS] Embedded server listening on %s", e.server.ClientURL())
	return nil
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	e.server.Shutdown()
	e.server.WaitForShutdown()
	e.running = false
	log.Println("[NATS] Embedded server stopped")
}

// URL returns the client connection URL.
func (e *EmbeddedServer) URL() string {
	return e.server.ClientURL()
}

// IsRunning reports whether Start has succeeded and Shutdown has not run.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}
