// cmd/kiosk/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"swimdesk/internal/app"
	"swimdesk/internal/config"
	"swimdesk/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("SWIMDESK_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "swimdesk-kiosk")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, "swimdesk-kiosk", logger)
	if err != nil {
		logger.Fatal("Failed to start", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      a.KioskHandler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	if cfg.HTTP.AdminToken == "" {
		logger.Warn("No admin token configured, staff routes will reject every request")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting kiosk service", zap.String("addr", cfg.HTTP.Addr), zap.String("facility", cfg.Facility.Name))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("Failed to release resources", zap.Error(err))
	}
}
