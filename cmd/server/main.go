/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger service. Handles configuration,
  dependency injection, and graceful shutdown. The store client is
  constructed here and injected everywhere; there is no process-wide
  database handle.

STARTUP SEQUENCE:
  1. Parse flags, load configuration (yaml + env overrides)
  2. Construct the zap logger
  3. Open the configured store (memory, sqlite, or postgres)
  4. Wire token issuer, repository, engine, history, identity service
  5. Start HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain the event publisher and close the store
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/auth"
	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/ledger"
	memstore "github.com/warp/ledger-engine/ledger/store"
	"github.com/warp/ledger-engine/store/postgres"
	"github.com/warp/ledger-engine/store/sqlite"
)

// stores pairs the two interfaces every backend implements.
type stores interface {
	ledger.TxStore
	auth.UserStore
}

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not up yet.
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := zap.NewProduction()
	if err != nil {
		os.Stderr.WriteString("logger error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	var (
		store   stores
		closeFn func() error = func() error { return nil }
	)
	switch cfg.Store.Driver {
	case "memory":
		store = memstore.NewTxMemory()
	case "sqlite":
		s, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			log.Fatal("failed to open sqlite store", zap.Error(err))
		}
		store, closeFn = s, s.Close
	case "postgres":
		s, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			log.Fatal("failed to open postgres store", zap.Error(err))
		}
		store, closeFn = s, s.Close
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal("failed to configure tokens", zap.Error(err))
	}

	opening, err := decimal.NewFromString(cfg.Ledger.OpeningBalance)
	if err != nil {
		log.Fatal("invalid opening balance", zap.String("value", cfg.Ledger.OpeningBalance))
	}

	repo := ledger.NewRepository(store)
	engine := ledger.NewEngine(store, log).WithTimeout(cfg.Ledger.TransferTimeout)
	history := ledger.NewHistory(store)

	var pub interface {
		ledger.Publisher
		Close()
	}
	if cfg.Events.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.Events.NATSURL, log)
		if err != nil {
			log.Fatal("failed to connect to nats", zap.Error(err))
		}
		engine.WithPublisher(np)
		pub = np
	} else {
		engine.WithPublisher(events.Noop{})
	}

	authSvc, err := auth.NewService(store, repo, tokens, opening, log)
	if err != nil {
		log.Fatal("failed to configure identity service", zap.Error(err))
	}

	handler := api.NewHandler(authSvc, engine, repo, history, log)
	router := api.NewRouter(handler, tokens, cfg.Server.CORSOrigins, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting",
			zap.String("addr", cfg.Server.Addr),
			zap.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}

	if pub != nil {
		pub.Close()
	}
	if err := closeFn(); err != nil {
		log.Error("store close failed", zap.Error(err))
	}

	log.Info("server stopped")
}
