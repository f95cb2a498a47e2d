// Beacon SSE fan-out server. Publishes events through a durable,
// globally-ordered outbox and streams them to connected clients.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/beacon/pkg/api"
	"github.com/codeready-toolchain/beacon/pkg/cleanup"
	"github.com/codeready-toolchain/beacon/pkg/config"
	"github.com/codeready-toolchain/beacon/pkg/database"
	"github.com/codeready-toolchain/beacon/pkg/outbox"
	"github.com/codeready-toolchain/beacon/pkg/stream"
	"github.com/codeready-toolchain/beacon/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica logging.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_FILE", ""), "Path to config file (optional)")
	envPath := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	memoryMode := flag.Bool("memory", false, "Run on in-memory stores (no PostgreSQL; for local development)")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	podID := resolvePodID()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting beacon",
		"version", version.GitCommit,
		"http_port", cfg.Server.Port,
		"pod_id", podID,
		"memory_mode", *memoryMode)

	ctx := context.Background()

	// 1. Stores: PostgreSQL by default, process-local in memory mode.
	var (
		store       outbox.Store
		sequence    outbox.SequenceAllocator
		checkpoints outbox.CheckpointStore
		dbClient    *database.Client
	)
	if *memoryMode {
		store = outbox.NewMemoryStore()
		sequence = outbox.NewMemorySequence()
		checkpoints = outbox.NewMemoryCheckpoints()
		slog.Info("Using in-memory stores")
	} else {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database")

		store = outbox.NewPostgresStore(dbClient.DB())
		sequence = outbox.NewPostgresSequence(dbClient.DB())
		checkpoints = outbox.NewPostgresCheckpoints(dbClient.DB())
	}

	// 2. Write side.
	publisher := outbox.NewPublisher(sequence, store, cfg.Publish)

	// 3. Delivery side.
	registry := stream.NewRegistry()
	replayer := stream.NewReplayer(store, cfg.Stream)

	poller := stream.NewPoller(store, registry, cfg.Stream)
	poller.Start(ctx)

	heartbeater := stream.NewHeartbeater(publisher, registry, cfg.Stream)
	heartbeater.Start(ctx)

	// 4. Retention.
	reaper := cleanup.NewService(cfg.Retention, store)
	reaper.Start(ctx)

	// 5. HTTP server.
	httpServer := api.NewServer(cfg.Server, cfg.Stream, publisher, registry, replayer, checkpoints, dbClient)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Beacon started successfully", "pod_id", podID)

	// 6. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: stop the HTTP server first so SSE streams
	// end and clients reconnect elsewhere, then the background loops.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := heartbeater.Stop(shutdownCtx); err != nil {
		slog.Error("Heartbeater shutdown error", "error", err)
	}
	if err := poller.Stop(shutdownCtx); err != nil {
		slog.Error("Poller shutdown error", "error", err)
	}
	reaper.Stop()

	// Connection handlers finish their last checkpoint write as they
	// unwind; wait for them before the database pool closes.
	if !registry.WaitDrained(shutdownCtx) {
		slog.Warn("Shutdown deadline passed with clients still connected",
			"active", registry.ActiveClients())
	}

	slog.Info("Beacon stopped")
}
