// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/checkinpass"
	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/config"
	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/database"
	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/handler"
	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/ledger"
	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/logger"
	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/repository"
	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Configuration and logging ─────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// ── 2. Pick the ledger store ─────────────────────────────────────────
	var store service.Store
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := database.NewPool(ctx, cfg.DB, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		log.Info("connected to postgres", zap.String("host", cfg.DB.Host), zap.String("db", cfg.DB.DBName))
		store = repository.NewLedgerRepository(pool)
	default:
		log.Warn("using in-memory ledger; state is lost on restart")
		store = ledger.New()
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	passes, err := checkinpass.New(checkinpass.Config{
		Secret: []byte(cfg.PassSecret),
		Issuer: cfg.PassIssuer,
		TTL:    cfg.PassTTL,
	})
	if err != nil {
		return fmt.Errorf("check-in passes: %w", err)
	}
	svc := service.NewLedgerService(store, passes, passes, log)
	router := handler.NewRouter(handler.NewEventHandler(svc, log), log)

	// ── 4. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info("server stopped")
		return nil
	})
	return g.Wait()
}
