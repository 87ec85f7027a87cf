// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tracker starts the MOTK cell update HTTP server.
//
// This is the main entry point for the containerized tracker service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - TRACKER_PORT: HTTP server port (default: 12410)
//   - TRACKER_DATA_DIR: Badger database directory (default: ./data/cells)
//   - TRACKER_IN_MEMORY: Run without disk persistence (default: false)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: motk-otel-collector:4317)
//   - OTEL_DISABLED: Skip tracer setup (default: false)
//
// # Usage
//
//	# Build
//	go build -o tracker ./cmd/tracker
//
//	# Run
//	./tracker
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := tracker.Config{
		Port:           getEnvInt("TRACKER_PORT", 12410),
		DataDir:        getEnvString("TRACKER_DATA_DIR", "./data/cells"),
		InMemory:       getEnvBool("TRACKER_IN_MEMORY", false),
		OTelEndpoint:   getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "motk-otel-collector:4317"),
		DisableTracing: getEnvBool("OTEL_DISABLED", false),
	}

	slog.Info("Starting tracker",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"in_memory", cfg.InMemory,
	)

	svc, err := tracker.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create tracker: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Tracker error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
