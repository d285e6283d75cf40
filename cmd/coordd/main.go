package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/COORDINATOR/internal/bootstrap"
	"github.com/COORDINATOR/internal/types"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	// Parse command line flags
	host := flag.String("host", "", "HTTP server host (overrides config)")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	configPath := flag.String("config", "", "Configuration file (default ~/.coordinator/config.yaml)")
	withNATS := flag.Bool("nats", false, "Enable NATS event transport (overrides config)")
	flag.Parse()

	_ = godotenv.Load()

	path := *configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve home directory: %v\n", err)
			os.Exit(1)
		}
		path = filepath.Join(home, ".coordinator", "config.yaml")
	}

	cfg, err := types.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *withNATS {
		cfg.NATS.Enabled = true
	}

	printBanner()

	rt, err := bootstrap.Build(bootstrap.Options{Config: cfg, Version: version})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build runtime: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  Data directory: %s\n", cfg.DataDir)
	fmt.Println("  Components initialized")

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- rt.Server.Start(rt.Addr())
	}()

	fmt.Println()
	fmt.Println("  Press Ctrl+C to shutdown")
	fmt.Println()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		}
	case <-shutdown:
		fmt.Println()
		fmt.Println("Shutting down...")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.Shutdown(ctx)

	fmt.Println("Goodbye!")
}

func printBanner() {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Printf("  ║              COORDINATOR %-10s                   ║\n", version)
	fmt.Println("  ║       Self-Optimizing Multi-Agent Coordination        ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()
}
