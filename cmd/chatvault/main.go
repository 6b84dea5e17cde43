package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chatvault/internal/api"
	"chatvault/internal/config"
	"chatvault/internal/crypto"
	"chatvault/internal/importer"
	"chatvault/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("chatvault starting", "port", cfg.Port, "db", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Crypto service
	cs := crypto.New(cfg.SaltPath)
	if cfg.Password != "" {
		if err := cs.Initialize(cfg.Password); err != nil {
			slog.Error("failed to unlock vault", "error", err)
			os.Exit(1)
		}
		slog.Info("vault unlocked")
	} else {
		slog.Info("vault locked, waiting for unlock via API")
	}

	// Database
	db, err := store.Open(cfg.DBPath, cs)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	slog.Info("database ready")

	// Import pipeline
	imp := importer.New(importer.NewRegistry(), db, slog.Default())

	// HTTP API
	srv := api.NewServer(fmt.Sprintf("127.0.0.1:%d", cfg.Port), cs, db, imp, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("chatvault ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	cs.Clear()
	slog.Info("chatvault stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
