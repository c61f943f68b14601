/*
Package main is the entry point for the sigchat development relay.

It is responsible for loading configuration, initializing the global logging system,
setting up the HTTP server with the WebSocket signaling endpoint, and gracefully handling
operating system interrupt signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sigchat/internal/configs"
	"sigchat/internal/handler"
	"sigchat/internal/pkg/logx"
)

func main() {
	if err := configs.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to read .env file: %v\n", err)
		os.Exit(1)
	}

	// Load configuration from environment variables
	cfg, err := configs.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(os.Stdout, cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("room_capacity", cfg.RoomCapacity).
		Float64("join_rate", cfg.JoinRate).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := handler.NewAppDeps(cfg)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           handler.Router(deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("sigchat relay listening on ws://localhost%s/ws", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Shutdown does not wait for hijacked WebSocket connections; deps.Close stops the rooms.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	deps.Close()

	logx.Info("Server gracefully stopped.")
}
