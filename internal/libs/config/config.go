// Package config provides application configuration management from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the operator-facing settings for a ledgerwal instance.
type Config struct {
	Dir            string
	MaxSegmentSize int64
	FsyncMode      string // "always", "batch", or "os"
	FsyncWindow    time.Duration
	ManifestDSN    string // empty = in-memory manifest
	MetricsEnabled bool
	NodeID         string
	LogLevel       string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	maxSegmentSize, err := strconv.ParseInt(getEnv("WAL_MAX_SEGMENT_SIZE", "67108864"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("WAL_MAX_SEGMENT_SIZE: %w", err)
	}

	fsyncWindowMs, err := strconv.Atoi(getEnv("WAL_FSYNC_WINDOW_MS", "5"))
	if err != nil {
		return nil, fmt.Errorf("WAL_FSYNC_WINDOW_MS: %w", err)
	}

	metricsEnabled, err := strconv.ParseBool(getEnv("WAL_METRICS_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("WAL_METRICS_ENABLED: %w", err)
	}

	cfg := &Config{
		Dir:            getEnv("WAL_DIR", "./data/wal"),
		MaxSegmentSize: maxSegmentSize,
		FsyncMode:      getEnv("WAL_FSYNC_MODE", "always"),
		FsyncWindow:    time.Duration(fsyncWindowMs) * time.Millisecond,
		ManifestDSN:    getEnv("WAL_MANIFEST_DSN", ""),
		MetricsEnabled: metricsEnabled,
		NodeID:         getEnv("WAL_NODE_ID", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Dir == "" {
		return nil, fmt.Errorf("WAL_DIR is required")
	}

	switch cfg.FsyncMode {
	case "always", "batch", "os":
	default:
		return nil, fmt.Errorf("WAL_FSYNC_MODE must be one of always, batch, os, got %q", cfg.FsyncMode)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
