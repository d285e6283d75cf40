// Package server exposes the coordinator over HTTP: a JSON API for
// starting and inspecting coordinations, an SSE stream and a WebSocket
// hub for live agent progress.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/COORDINATOR/internal/events"
	"github.com/COORDINATOR/internal/registry"
	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

// Coordinator starts a coordination session. Satisfied by
// orchestrator.Orchestrator.
type Coordinator interface {
	Coordinate(ctx context.Context, task, strategy string) (types.CoordinationResult, error)
}

// Server is the coordinator HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub

	db          *storage.DB
	registry    *registry.Registry
	coordinator Coordinator
	bus         *events.Bus

	version   string
	startTime time.Time
	stopChan  chan struct{}
}

// Options configures a Server. DB is required; the coordinator and bus
// are optional (without a coordinator, POST /api/coordinate only
// acknowledges).
type Options struct {
	DB          *storage.DB
	Registry    *registry.Registry
	Coordinator Coordinator
	Bus         *events.Bus
	Version     string
}

// NewServer creates the server and wires its routes.
func NewServer(opts Options) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("server requires a database")
	}
	if opts.Registry == nil {
		opts.Registry = registry.New(opts.DB)
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		hub:         NewHub(),
		db:          opts.DB,
		registry:    opts.Registry,
		coordinator: opts.Coordinator,
		bus:         opts.Bus,
		version:     opts.Version,
		startTime:   time.Now(),
		stopChan:    make(chan struct{}),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(loggingMiddleware, securityHeadersMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/coordinate", s.handleCoordinate).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	api.HandleFunc("/stream", s.handleStream).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run()
	if s.bus != nil {
		go s.forwardEvents()
	}

	log.Printf("[SERVER] Coordinator API listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops background work and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopChan)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// forwardEvents pipes coordination events from the bus to connected
// WebSocket clients.
func (s *Server) forwardEvents() {
	ch := s.bus.Subscribe("all")
	defer s.bus.Unsubscribe("all", ch)

	for {
		select {
		case <-s.stopChan:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			s.hub.BroadcastEvent(event)
		}
	}
}
