package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/api"
	"github.com/tusharbhayani/paradym-wallet/internal/backend"
	"github.com/tusharbhayani/paradym-wallet/internal/engine"
	"github.com/tusharbhayani/paradym-wallet/internal/presence"
	"github.com/tusharbhayani/paradym-wallet/internal/server"
	"github.com/tusharbhayani/paradym-wallet/pkg/config"
	"github.com/tusharbhayani/paradym-wallet/pkg/logging"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Wallet Backend Server",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	// Initialize storage backend
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := backend.New(ctx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize storage backend", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	logger.Info("Storage backend initialized", zap.String("type", cfg.Storage.Type))

	// Ping storage to verify connection
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(ctx); err != nil {
		cancel()
		logger.Fatal("Failed to ping storage", zap.Error(err))
	}
	cancel()

	// Session records for connected wallets (memory or Redis)
	sessionStore, err := engine.NewSessionStore(cfg.SessionStore)
	if err != nil {
		logger.Fatal("Failed to initialize session store", zap.Error(err))
	}
	defer func() { _ = sessionStore.Close() }()

	// Wallet engine: one WebSocket session per paired device, hosting the
	// unlock state machine and credential issuance flows.
	trustSvc := engine.NewTrustService(cfg, logger)
	engineMgr := engine.NewManager(cfg, store, sessionStore, trustSvc, logger)
	engineMgr.RegisterFlowHandler(engine.FlowTypeIssuance, engine.NewIssuanceHandler)

	// Device pairing and presence verification (WebAuthn ceremonies)
	presenceSvc, err := presence.NewService(store, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize presence service", zap.Error(err))
	}

	handlers := api.NewHandlers(presenceSvc, store, engineMgr, cfg, logger)

	srv := server.NewManager(cfg, logger)
	srv.AddProvider(handlers)

	// Periodic cleanup of expired pairing challenges and session records
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	go runCleanup(cleanupCtx, store, sessionStore, logger)

	if err := srv.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func runCleanup(ctx context.Context, store backend.Backend, sessions engine.SessionStore, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := store.Challenges().DeleteExpired(cleanupCtx); err != nil {
				logger.Warn("Failed to delete expired challenges", zap.Error(err))
			}
			if err := sessions.Cleanup(cleanupCtx); err != nil {
				logger.Warn("Failed to clean up expired sessions", zap.Error(err))
			}
			cancel()
		}
	}
}
