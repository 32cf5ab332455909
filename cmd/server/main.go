// Package main runs the backtest API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panya30/MaxTrade-sub000/internal/api"
	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/internal/config"
	"github.com/panya30/MaxTrade-sub000/internal/data"
	"github.com/panya30/MaxTrade-sub000/internal/logging"
	"github.com/panya30/MaxTrade-sub000/internal/strategy"
	"github.com/panya30/MaxTrade-sub000/internal/telemetry"
	"github.com/panya30/MaxTrade-sub000/internal/workers"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Server config file (yaml, json or toml)")
	host := flag.String("host", "", "Server host (overrides config)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	dataDir := flag.String("data", "", "Data directory (overrides config)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "console", "Log encoding (console, json)")
	flag.Parse()

	logger, err := logging.New(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.NewLoader(logger).LoadServerConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger.Info("Starting backtest server",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("dataDir", cfg.DataDir),
		zap.Int("workers", cfg.Workers),
	)

	store, err := data.NewStore(logger, cfg.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	registry := strategy.NewRegistry(logger)
	logger.Info("Registered strategies", zap.Strings("strategies", registry.List()))

	poolCfg := workers.DefaultPoolConfig("backtests")
	poolCfg.NumWorkers = cfg.Workers
	pool := workers.NewPool(logger, poolCfg)
	pool.Start()

	recorder := telemetry.NewRecorder()
	runner := workers.NewBatchRunner(logger, pool, backtester.WithRecorder(recorder))

	server := api.NewServer(logger, cfg, store, registry, runner, recorder)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	logger.Info("Server started successfully",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Host, cfg.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Host, cfg.Port, cfg.WebSocketPath)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := pool.Stop(); err != nil {
		logger.Error("Error stopping worker pool", zap.Error(err))
	}

	logger.Info("Server stopped")
}
