// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/jellysync/config.yaml",
	"/etc/jellysync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL: "",
		},
		Auth: AuthConfig{},
		Device: DeviceConfig{
			ID:      "", // generated at load time when empty
			Name:    "jellysync",
			Client:  "Jellysync",
			Version: "1.0.0",
		},
		Socket: SocketConfig{
			ReconnectMin:     1 * time.Second,
			ReconnectMax:     32 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      0,
		},
		Tasks: TasksConfig{
			FinishedTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Path: "", // in memory
		},
		API: APIConfig{
			Timeout:        30 * time.Second,
			RateLimit:      10,
			RateBurst:      20,
			CircuitBreaker: true,
		},
		Status: StatusConfig{
			Enabled:         true,
			Listen:          "127.0.0.1:8097",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: 1 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults
//  2. Config File: optional YAML config file (if exists)
//  3. Environment Variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if cfg.Device.ID == "" {
		cfg.Device.ID = uuid.NewString()
	}
	cfg.Server.URL = strings.TrimSuffix(cfg.Server.URL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"status.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings, YAML lists arrive as slices and are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// Server and session
	"jellyfin_url":       "server.url",
	"jellyfin_token":     "auth.token",
	"jellyfin_user_id":   "auth.user_id",
	"jellyfin_user_name": "auth.user_name",

	// Device identity
	"device_id":      "device.id",
	"device_name":    "device.name",
	"client_name":    "device.client",
	"client_version": "device.version",

	// Socket
	"socket_reconnect_min":     "socket.reconnect_min",
	"socket_reconnect_max":     "socket.reconnect_max",
	"socket_handshake_timeout": "socket.handshake_timeout",
	"socket_read_timeout":      "socket.read_timeout",

	// Tasks
	"tasks_finished_timeout": "tasks.finished_timeout",

	// Storage
	"storage_path": "storage.path",

	// Outbound API
	"api_timeout":         "api.timeout",
	"api_rate_limit":      "api.rate_limit",
	"api_rate_burst":      "api.rate_burst",
	"api_circuit_breaker": "api.circuit_breaker",

	// Status server
	"status_enabled":           "status.enabled",
	"status_listen":            "status.listen",
	"cors_origins":             "status.cors_origins",
	"status_rate_limit_reqs":   "status.rate_limit_reqs",
	"status_rate_limit_window": "status.rate_limit_window",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - JELLYFIN_URL -> server.url
//   - SOCKET_RECONNECT_MIN -> socket.reconnect_min
//   - LOG_LEVEL -> logging.level
//
// Unmapped variables return "" and are skipped, so unrelated environment
// variables never reach the config.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
