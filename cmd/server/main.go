/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Rentfold ledger engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Open the ledger store (Postgres if DATABASE_URL set, else SQLite)
  3. Load and seed the chart of accounts
  4. Wire the posting engine, event publisher, and reconciliation service
  5. Start the charge scheduler and HTTP server with graceful shutdown

CONFIGURATION (environment, see config/config.go):
  PORT                HTTP server port (default: 8080)
  DB_PATH             SQLite database path (default: ./data/ledger.db)
  DATABASE_URL        Postgres DSN; overrides SQLite when set
  CHART_FILE          YAML chart of accounts; built-in chart when unset
  KAFKA_BROKERS       Comma-separated brokers; events disabled when unset
  SCHEDULER_ENABLED   Recurring charge scheduler toggle (default: true)
  SCHEDULER_INTERVAL  Scheduler check interval (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, close the publisher and database
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Persistence
*/
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rentfold/ledger-engine/api"
	"github.com/rentfold/ledger-engine/chart"
	"github.com/rentfold/ledger-engine/config"
	"github.com/rentfold/ledger-engine/events/kafka"
	"github.com/rentfold/ledger-engine/ledger"
	"github.com/rentfold/ledger-engine/recon"
	"github.com/rentfold/ledger-engine/store/postgres"
	"github.com/rentfold/ledger-engine/store/sqlite"
)

// ledgerStore is the full persistence surface the server needs.
type ledgerStore interface {
	ledger.TxStore
	ledger.AccountStore
	recon.Store
	io.Closer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	// Open the store. Postgres when a DSN is configured, SQLite otherwise.
	var store ledgerStore
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		store = pg
		log.Println("Using Postgres store")
	} else {
		sq, err := sqlite.New(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		store = sq
		log.Printf("Using SQLite store at %s", cfg.DBPath)
	}
	defer store.Close()

	// Chart of accounts: file if configured, built-in chart otherwise.
	accounts := chart.Default()
	if cfg.ChartFile != "" {
		accounts, err = chart.LoadFile(cfg.ChartFile)
		if err != nil {
			log.Fatalf("Failed to load chart of accounts from %s: %v", cfg.ChartFile, err)
		}
	}
	registry, err := chart.NewRegistry(ctx, store)
	if err != nil {
		log.Fatalf("Failed to load account registry: %v", err)
	}
	if err := registry.Seed(ctx, accounts); err != nil {
		log.Fatalf("Failed to seed chart of accounts: %v", err)
	}

	// Posting engine with optional Kafka event publishing.
	engine := ledger.NewEngine(store, registry)
	var publisher *kafka.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafka.NewPublisher(cfg.KafkaBrokers)
		engine.Events = publisher
		log.Printf("Publishing entry events to Kafka brokers %v", cfg.KafkaBrokers)
	}

	reconSvc := recon.NewService(store, store, registry)

	// HTTP surface
	handler := api.NewHandler(engine, registry, reconSvc)
	router := api.NewRouter(handler)

	// Recurring charge scheduler
	scheduler := api.NewChargeScheduler(engine)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	scheduler.Stop()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Printf("Error closing event publisher: %v", err)
		}
	}

	log.Println("Server stopped")
}
