// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jaycherian/gcp-go-media-caption/internal/api"
	"github.com/jaycherian/gcp-go-media-caption/internal/telemetry"
	"github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to read .env file: %v\n", err)
	}

	config, err := GetConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, closeLog, err := telemetry.SetupLogging(config)
	if err != nil {
		log.Fatal(err)
	}
	defer closeLog()
	logger.Info("Logging initialized", "level", config.Telemetry.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		logger.Error("Failed to setup OpenTelemetry", "error", err)
		os.Exit(1)
	}
	slog.Info("Tracing initialized", "enabled", config.Telemetry.Enabled)

	if err := InitState(ctx, config, logger); err != nil {
		logger.Error("Failed to initialize state", "error", err)
		os.Exit(1)
	}
	defer state.cloud.Close()
	logger.Info("Initialized State")

	srv := &http.Server{
		Addr:    config.Application.ListenAddress,
		Handler: api.NewRouter(config.Application.Name, state.workflow, state.stats, logger),
	}

	// Start the server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to listen", "error", err)
			cancel()
		}
	}()
	logger.Info("Server ready", "address", config.Application.ListenAddress)

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("Shutdown Server ...")

	// In-flight captions get the configured grace period to finish streaming.
	grace := time.Duration(config.Application.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server Shutdown Failed", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("Failed to flush telemetry", "error", err)
	}

	logger.Info("Server exiting")
}
