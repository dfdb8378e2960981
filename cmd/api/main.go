package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kislikjeka/booksync/internal/app"
	"github.com/kislikjeka/booksync/internal/transport/httpapi"
	"github.com/kislikjeka/booksync/internal/transport/httpapi/handler"
	"github.com/kislikjeka/booksync/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/booksync/pkg/config"
	"github.com/kislikjeka/booksync/pkg/logger"
)

func main() {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("Starting BookSync API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Initialize HTTP handlers
	jwtSvc := middleware.NewJWTService(cfg.JWTSecret)
	healthHandler := handler.NewHealthHandler(handler.PingFunc(a.DB.Health)).
		WithDependency("redis", handler.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}))

	routerCfg := httpapi.Config{
		Logger:             log,
		AllowedOrigins:     cfg.AllowedOrigins,
		ConnectionHandler:  handler.NewConnectionHandler(a.Mirror, a.Tokens, a.Meter),
		TransactionHandler: handler.NewTransactionHandler(a.Mirror, a.Writeback),
		ReferenceHandler:   handler.NewReferenceHandler(a.Mirror),
		RuleHandler:        handler.NewRuleHandler(a.Mirror),
		AuditHandler:       handler.NewAuditHandler(a.Mirror),
		JobHandler:         handler.NewJobHandler(a.Jobs, a.Mirror),
		HealthHandler:      healthHandler,
		JWTMiddleware:      middleware.JWTMiddleware(jwtSvc),
	}
	r := httpapi.NewRouter(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start background workers
	a.Jobs.Start(ctx)
	log.Info("Job dispatcher started", "workers", cfg.JobWorkers)

	go a.Sync.Run(ctx)
	log.Info("Sync service started", "poll_interval", cfg.SyncPollInterval)

	// Start server in a goroutine
	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}

	a.Sync.Stop()
	log.Info("Sync service stopped")

	a.Jobs.Stop()
	log.Info("Job dispatcher stopped")

	log.Info("Server stopped gracefully")
}
