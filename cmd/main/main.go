package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/drosera/pkg/store"
	"github.com/CTAG07/drosera/pkg/templating"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(config.Server.LogLevel),
	}))
	logger.Info("Starting drosera", "version", Version, "commit", Commit, "build_date", BuildDate)

	if err := os.MkdirAll(filepath.Dir(strings.SplitN(config.Server.DatabasePath, "?", 2)[0]), 0o755); err != nil {
		return err
	}
	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := store.SetupSchema(db); err != nil {
		return err
	}
	st, err := store.New(db, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tm, err := templating.NewManager(logger, config.Templates, st)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	api := NewTemplateAPI(st, tm, config, configPath, logger)
	api.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    config.Server.ApiAddr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", config.Server.ApiAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logger.Info("OS signal received, shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func main() {
	configPath := flag.String("config", "./data/config.json", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}
