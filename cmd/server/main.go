// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/go-astroduel/pkg/api"
	"github.com/opd-ai/go-astroduel/pkg/config"
	"github.com/opd-ai/go-astroduel/pkg/event"
	"github.com/opd-ai/go-astroduel/pkg/gateway"
	"github.com/opd-ai/go-astroduel/pkg/health"
	"github.com/opd-ai/go-astroduel/pkg/logging"
	"github.com/opd-ai/go-astroduel/pkg/room"
	"github.com/opd-ai/go-astroduel/pkg/store"
)

func main() {
	logger := logging.NewLogger()
	ctx := context.Background()

	configPath := flag.String("config", "config.json", "Path to configuration file")
	createDefault := flag.Bool("default", false, "Create default configuration file")
	flag.Parse()

	if *createDefault {
		if err := config.SaveConfig(config.DefaultConfig(), *configPath); err != nil {
			logger.Error(ctx, "failed to create default configuration", err, "config_path", *configPath)
			os.Exit(1)
		}
		logger.Info(ctx, "created default configuration file", "config_path", *configPath)
		return
	}

	var gameConfig *config.GameConfig
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Info(ctx, "configuration file not found, using defaults", "config_path", *configPath)
		gameConfig = config.DefaultConfig()
	} else {
		gameConfig, err = config.LoadConfig(*configPath)
		if err != nil {
			logger.Error(ctx, "failed to load configuration", err, "config_path", *configPath)
			os.Exit(1)
		}
	}
	if err := config.ApplyEnvironmentOverrides(gameConfig); err != nil {
		logger.Error(ctx, "failed to apply environment overrides", err)
		os.Exit(1)
	}
	envConfig, err := config.LoadConfigFromEnv()
	if err != nil {
		logger.Error(ctx, "failed to load environment configuration", err)
		os.Exit(1)
	}

	// Persistence layer.
	st, err := store.NewStore(gameConfig.DatabasePath, envConfig, logger)
	if err != nil {
		logger.Error(ctx, "failed to open store", err, "database_path", gameConfig.DatabasePath)
		os.Exit(1)
	}
	defer st.Close()

	// Realtime layer: gateway ↔ registry ↔ hazard ticker. The stats
	// observer subscribes before any room can publish.
	bus := event.NewEventBus()
	stats := room.NewStats(bus, logger)
	gw := gateway.NewGateway(gameConfig, logger)
	registry := room.NewRegistry(gameConfig, gw, bus, st, logger)
	gw.SetRegistry(registry)

	tickInterval := time.Duration(gameConfig.NetworkConfig.TickIntervalMillis) * time.Millisecond
	ticker := room.NewTicker(registry, tickInterval, logger)
	ticker.Start()

	// Game server: websocket endpoint plus the HTTP query surface.
	apiServer := api.NewServer(st, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	mux.Handle("/", apiServer.Routes())

	gameServer := &http.Server{
		Addr:         gameConfig.NetworkConfig.ListenAddress,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info(ctx, "starting game server", "address", gameConfig.NetworkConfig.ListenAddress)
		if err := gameServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "game server failed", err)
			os.Exit(1)
		}
	}()

	// Health probes on their own port.
	checker := health.NewChecker()
	checker.Add(health.NewGatewayCheck(gw.Running))
	checker.Add(health.NewDatabaseCheck(st.Ping))
	checker.Add(health.NewMemoryCheck(envConfig.MaxMemoryMB, nil))

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", checker.LivenessHandler)
	healthMux.HandleFunc("/ready", checker.ReadinessHandler)
	healthMux.HandleFunc("/stats", stats.Handler)

	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", gameConfig.NetworkConfig.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info(ctx, "starting health check server", "port", gameConfig.NetworkConfig.HealthPort)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "health check server failed", err)
		}
	}()

	// Graceful shutdown.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), envConfig.ShutdownTimeout)
	defer cancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "health server shutdown failed", err)
	}
	gw.Shutdown(shutdownCtx)
	ticker.Stop()
	if err := gameServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "game server shutdown failed", err)
	}
}
