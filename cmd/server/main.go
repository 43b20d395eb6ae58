package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"

	"github.com/peerline/chatrelay/internal/config"
	"github.com/peerline/chatrelay/internal/relay"
	"github.com/peerline/chatrelay/internal/server"
	"github.com/peerline/chatrelay/internal/store"
)

// Exit codes to provide meaningful status to the operating system or service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// main is a thin wrapper so every defer in run executes before the
	// process exits.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return exitConfig, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	options := badger.DefaultOptions(cfg.BadgerPath)
	if cfg.SlogLevel() == slog.LevelDebug {
		options = options.WithLoggingLevel(badger.INFO)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}
	db, err := badger.Open(options)
	if err != nil {
		return exitRuntime, fmt.Errorf("opening message store: %w", err)
	}
	defer func() {
		logger.Info("closing message store")
		_ = db.Close()
	}()

	messageStore := store.New(db, logger)
	registry := relay.NewRegistry(logger)
	router := relay.NewRouter(registry, messageStore, logger, cfg.HistoryLimit)
	gateway := server.New(logger, cfg, registry, router, messageStore)

	httpServer := server.CreateServer(cfg.Port, gateway.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting chat relay", "addr", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		return exitRuntime, err
	}
	registry.CloseAll()
	logger.Info("chat relay stopped cleanly")

	return exitOK, nil
}
