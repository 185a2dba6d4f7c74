package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"webinarfeedback/internal/server/api"
	"webinarfeedback/internal/server/auth"
	"webinarfeedback/internal/server/config"
	"webinarfeedback/internal/server/database"
	"webinarfeedback/internal/server/service"
	"webinarfeedback/internal/server/storage"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
		os.Exit(1)
	}

	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"database_driver", cfg.DatabaseDriver,
		"deliverable", cfg.DeliverablePath,
		"downloads_enabled", cfg.DownloadsEnabled,
		"submission_cooldown", cfg.SubmissionCooldown,
		"download_token_ttl", cfg.DownloadTokenTTL,
		"retention", cfg.Retention,
	)

	// Connect to database and run migrations
	ctx := context.Background()
	repo, closeDB, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer closeDB()
	slog.Info("database ready")

	// Initialize deliverable storage
	files := storage.NewFileSystemStore(cfg.DeliverablePath, cfg.DeliverableFilename, cfg.DeliverableContentType)
	if err := files.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	if _, err := files.GetPath(); err != nil {
		slog.Warn("deliverable not found; downloads will fail until it is published", "path", cfg.DeliverablePath)
	}

	authManager, err := auth.NewManager(auth.Config{
		Password:     cfg.AdminPassword,
		PasswordHash: cfg.AdminPasswordHash,
		HashKey:      cfg.SessionHashKey,
		BlockKey:     cfg.SessionBlockKey,
		TTL:          cfg.SessionTTL,
	})
	if err != nil {
		slog.Error("failed to initialize admin auth", "error", err)
		os.Exit(1)
	}

	svc := service.NewFeedbackService(repo, files, cfg)

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanup := storage.NewCleanupService(repo, cfg.CleanupInterval, cfg.Retention)
	cleanup.Start(cleanupCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, authManager)
	e := api.SetupRouter(handler, authManager, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop cleanup service
	cleanupCancel()
	cleanup.Wait()

	slog.Info("server exited cleanly")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
