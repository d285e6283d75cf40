// Package bootstrap assembles the coordinator's components from a
// loaded configuration. Both the daemon and the CLI build their world
// through Build so the wiring exists in exactly one place.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/COORDINATOR/internal/events"
	"github.com/COORDINATOR/internal/executor"
	"github.com/COORDINATOR/internal/locks"
	"github.com/COORDINATOR/internal/nats"
	"github.com/COORDINATOR/internal/orchestrator"
	"github.com/COORDINATOR/internal/registry"
	"github.com/COORDINATOR/internal/server"
	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

// Runtime holds the assembled coordinator components.
type Runtime struct {
	Config       *types.Config
	DB           *storage.DB
	Bus          *events.Bus
	Registry     *registry.Registry
	Locks        *locks.Manager
	Executor     *executor.Executor
	Orchestrator *orchestrator.Orchestrator
	Server       *server.Server

	natsClient *nats.Client
	embedded   *nats.EmbeddedServer
}

// Options configures Build. Config is required. Invoker overrides the
// default claude CLI invoker, which the tests use to avoid spawning
// subprocesses.
type Options struct {
	Config  *types.Config
	Invoker executor.Invoker
	Confirm orchestrator.ConfirmFunc
	Version string
}

// Build opens the store and wires bus, registry, locks, executor,
// orchestrator, and HTTP server together. Callers own the returned
// runtime and must Shutdown it.
func Build(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap requires a config")
	}

	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	rt := &Runtime{Config: cfg, DB: db, Bus: events.NewBus()}

	sink := events.MultiSink{rt.Bus, events.NewStoreSink(db)}
	if cfg.NATS.Enabled {
		if natsSink := rt.connectNATS(cfg.NATS); natsSink != nil {
			sink = append(sink, natsSink)
		}
	}

	rt.Registry = registry.New(db)
	rt.Locks = locks.NewManager(db)

	invoker := opts.Invoker
	if invoker == nil {
		invoker, err = executor.NewCLIInvoker(cfg.Executor.BinaryPath, cfg.Executor.MaxTurns)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to build invoker: %w", err)
		}
	}
	rt.Executor = executor.New(rt.Registry, rt.Locks, invoker, cfg.Executor.MaxWorkers)

	rt.Orchestrator, err = orchestrator.New(orchestrator.Options{
		DB:       db,
		Registry: rt.Registry,
		Locks:    rt.Locks,
		Executor: rt.Executor,
		Sink:     sink,
		Confirm:  opts.Confirm,
	})
	if err != nil {
		rt.Shutdown(context.Background())
		return nil, err
	}

	rt.Server, err = server.NewServer(server.Options{
		DB:          db,
		Registry:    rt.Registry,
		Coordinator: rt.Orchestrator,
		Bus:         rt.Bus,
		Version:     opts.Version,
	})
	if err != nil {
		rt.Shutdown(context.Background())
		return nil, err
	}

	return rt, nil
}

// connectNATS starts the embedded server when configured and connects
// a client. NATS is best-effort; failures degrade to local-only events.
func (rt *Runtime) connectNATS(cfg types.NATSConfig) events.Sink {
	url := cfg.URL
	if cfg.Embedded {
		embedded, err := nats.NewEmbeddedServer(cfg.Port)
		if err != nil {
			log.Printf("[NATS] Failed to create embedded server: %v", err)
			return nil
		}
		if err := embedded.Start(); err != nil {
			log.Printf("[NATS] Failed to start embedded server: %v", err)
			return nil
		}
		rt.embedded = embedded
		url = embedded.URL()
	}

	client, err := nats.NewClient(url)
	if err != nil {
		log.Printf("[NATS] Connect failed, events stay local: %v", err)
		return nil
	}
	rt.natsClient = client
	return events.NewNATSSink(client)
}

// Addr is the configured HTTP listen address.
func (rt *Runtime) Addr() string {
	return fmt.Sprintf("%s:%d", rt.Config.Server.Host, rt.Config.Server.Port)
}

// Shutdown stops the server, NATS, and store in dependency order.
func (rt *Runtime) Shutdown(ctx context.Context) {
	if rt.Server != nil {
		if err := rt.Server.Shutdown(ctx); err != nil {
			log.Printf("[SERVER] Shutdown error: %v", err)
		}
	}
	if rt.natsClient != nil {
		rt.natsClient.Close()
	}
	if rt.embedded != nil {
		rt.embedded.Shutdown()
	}
	if rt.DB != nil {
		rt.DB.Close()
	}
}
