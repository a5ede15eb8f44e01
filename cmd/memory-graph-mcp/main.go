// cmd/memory-graph-mcp is the entry point for the memory graph MCP (Model
// Context Protocol) server.
//
// Startup sequence:
//  1. Load configuration (defaults, optional YAML file, env vars).
//  2. Open the configured storage backend (sqlite or postgres).
//  3. Create the MCP server over the store.
//  4. Serve JSON-RPC 2.0 requests from stdin, writing responses to stdout.
//
// CRITICAL: ALL logging MUST go to stderr.  Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/1broseidon/memory-graph-mcp/internal/api/mcp"
	"github.com/1broseidon/memory-graph-mcp/internal/config"
	"github.com/1broseidon/memory-graph-mcp/internal/storage"
	"github.com/1broseidon/memory-graph-mcp/internal/storage/postgres"
	"github.com/1broseidon/memory-graph-mcp/internal/storage/sqlite"
)

func main() {
	// Redirect the default logger to stderr so that any incidental log calls
	// never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("memory-graph-mcp: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
	}()

	// Root context cancelled on SIGINT / SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	srv := mcp.NewServer(store, mcp.WithConfig(cfg))

	// Wrap the server in a StdioTransport that reads line-delimited JSON-RPC
	// from stdin and writes responses to stdout.  All logging inside the
	// transport is directed to stderr.
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)

	log.Printf("ready, serving JSON-RPC 2.0 on stdin/stdout (engine=%s)", cfg.Storage.Engine)

	if err := transport.Serve(ctx); err != nil {
		// A non-nil error here is normal (context cancellation) or indicates a
		// fatal stdin/stdout problem.  Either way it is informational only.
		log.Printf("transport stopped: %v", err)
	}
}

// openStore opens the storage backend selected by the configuration.
func openStore(cfg *config.Config) (storage.MemoryStore, error) {
	switch cfg.Storage.Engine {
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		dbPath := filepath.Join(cfg.Storage.DataPath, "memory-graph.db")
		store, err := sqlite.NewStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database at %q: %w", dbPath, err)
		}
		log.Printf("opened sqlite store at %s", dbPath)
		return store, nil
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		log.Println("opened postgres store")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}
