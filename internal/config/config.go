// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package config loads jellysync configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in values from defaultConfig
//  2. Config File: optional YAML file (CONFIG_PATH, config.yaml, /etc/jellysync/config.yaml)
//  3. Environment Variables: JELLYFIN_URL, JELLYFIN_TOKEN, LOG_LEVEL, ...
//
// Example:
//
//	cfg, err := config.LoadWithKoanf()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("failed to load config")
//	}
//	session := auth.NewSession(cfg.Device.ID)
//	session.SetServer(cfg.Server.URL)
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Auth    AuthConfig    `koanf:"auth"`
	Device  DeviceConfig  `koanf:"device"`
	Socket  SocketConfig  `koanf:"socket"`
	Tasks   TasksConfig   `koanf:"tasks"`
	Storage StorageConfig `koanf:"storage"`
	API     APIConfig     `koanf:"api"`
	Status  StatusConfig  `koanf:"status"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig points at the Jellyfin server. URL is a base URL and may carry
// a path prefix (https://media.example.com/jellyfin).
type ServerConfig struct {
	URL string `koanf:"url" validate:"omitempty,httpbase"`
}

// AuthConfig seeds the session. An empty token leaves the process signed out:
// the socket stays idle and every store keeps its defaults.
type AuthConfig struct {
	Token    string `koanf:"token"`
	UserID   string `koanf:"user_id"`
	UserName string `koanf:"user_name"`
}

// DeviceConfig identifies this client to the server. An empty ID is replaced
// by a generated one at load time.
type DeviceConfig struct {
	ID      string `koanf:"id"`
	Name    string `koanf:"name" validate:"required"`
	Client  string `koanf:"client" validate:"required"`
	Version string `koanf:"version" validate:"required"`
}

// SocketConfig controls the realtime connection.
type SocketConfig struct {
	// ReconnectMin is the first reconnect delay, doubled after every failure.
	ReconnectMin time.Duration `koanf:"reconnect_min" validate:"gt=0"`

	// ReconnectMax caps the reconnect delay.
	ReconnectMax time.Duration `koanf:"reconnect_max" validate:"gtefield=ReconnectMin"`

	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`

	// ReadTimeout of zero disables the read deadline. The server pushes
	// keepalive requests on its own schedule, so a deadline is only useful
	// when that schedule is known.
	ReadTimeout time.Duration `koanf:"read_timeout" validate:"gte=0"`
}

// TasksConfig controls the task registry.
type TasksConfig struct {
	// FinishedTimeout is how long a finished task stays visible. Zero or
	// negative removes finished tasks immediately.
	FinishedTimeout time.Duration `koanf:"finished_timeout"`
}

// StorageConfig selects the persisted-state backend. An empty Path keeps state
// in memory for the lifetime of the process.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// APIConfig controls outbound REST calls to the server.
type APIConfig struct {
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RateLimit is requests per second; zero disables pacing.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=1"`

	CircuitBreaker bool `koanf:"circuit_breaker"`
}

// StatusConfig controls the local HTTP status surface.
type StatusConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Listen          string        `koanf:"listen" validate:"required_if=Enabled true"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gte=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SocketConfigured reports whether enough is known to open the realtime
// connection.
func (c *Config) SocketConfigured() bool {
	return c.Server.URL != "" && c.Auth.Token != ""
}
