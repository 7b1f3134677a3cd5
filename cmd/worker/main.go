// Package main runs the trusted worker manager: an enclave pool behind the
// work-order HTTP API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Bavaji9/avalon/internal/config"
	"github.com/Bavaji9/avalon/internal/logging"
	"github.com/Bavaji9/avalon/tcf/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger(worker.ServiceID, "info").
			WithField("error", err.Error()).Fatal("load config")
	}

	logger := logging.NewLogger(cfg.Service.Name, cfg.Service.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := worker.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.WithField("error", err.Error()).Fatal("bootstrap worker")
	}

	server := &http.Server{
		Addr:         cfg.Service.ListenAddr,
		Handler:      rt.Service.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Service.ListenAddr).
			WithField("pool_size", cfg.Enclave.PoolSize).
			Info("worker listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err.Error()).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Warn("server shutdown")
	}
	if err := rt.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Warn("runtime shutdown")
	}

	logger.Info("worker stopped")
}
