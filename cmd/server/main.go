package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/hive-online/internal/config"
	"github.com/DoyleJ11/hive-online/internal/httpapi"
	"github.com/DoyleJ11/hive-online/internal/hub"
	"github.com/DoyleJ11/hive-online/internal/logging"
	"github.com/DoyleJ11/hive-online/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(ctx, hub.Options{IdleTimeout: cfg.RelayIdle, Logger: logger})
	workers := supervisor.NewRegistry(cfg.BootstrapURL, supervisor.Options{
		Retry:   cfg.Retry,
		Timeout: cfg.ProvisionTimeout,
		Logger:  logger,
	})

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:       h,
		Workers:   workers,
		PublicURL: cfg.PublicURL,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.Addr), zap.Duration("relay_idle", cfg.RelayIdle))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server", zap.Error(err))
	}
}
