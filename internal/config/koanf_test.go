// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/jellysync/internal/validation"
)

// isolateEnv clears the process environment for the duration of the test.
func isolateEnv(t *testing.T) {
	t.Helper()
	saved := os.Environ()
	os.Clearenv()
	t.Cleanup(func() {
		os.Clearenv()
		for _, kv := range saved {
			if k, v, ok := strings.Cut(kv, "="); ok {
				os.Setenv(k, v)
			}
		}
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.URL != "" {
		t.Errorf("Server.URL should be empty by default, got %q", cfg.Server.URL)
	}
	if cfg.Socket.ReconnectMin != time.Second {
		t.Errorf("Socket.ReconnectMin = %v, want 1s", cfg.Socket.ReconnectMin)
	}
	if cfg.Socket.ReconnectMax != 32*time.Second {
		t.Errorf("Socket.ReconnectMax = %v, want 32s", cfg.Socket.ReconnectMax)
	}
	if cfg.Socket.ReadTimeout != 0 {
		t.Errorf("Socket.ReadTimeout = %v, want 0 (disabled)", cfg.Socket.ReadTimeout)
	}
	if cfg.Tasks.FinishedTimeout != 5*time.Second {
		t.Errorf("Tasks.FinishedTimeout = %v, want 5s", cfg.Tasks.FinishedTimeout)
	}
	if cfg.Storage.Path != "" {
		t.Errorf("Storage.Path = %q, want empty (in memory)", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig().Validate() = %v, want nil", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"JELLYFIN_URL", "server.url"},
		{"JELLYFIN_TOKEN", "auth.token"},
		{"JELLYFIN_USER_ID", "auth.user_id"},
		{"DEVICE_ID", "device.id"},
		{"SOCKET_RECONNECT_MIN", "socket.reconnect_min"},
		{"TASKS_FINISHED_TIMEOUT", "tasks.finished_timeout"},
		{"STORAGE_PATH", "storage.path"},
		{"STATUS_LISTEN", "status.listen"},
		{"LOG_LEVEL", "logging.level"},
		{"log_format", "logging.format"},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := envTransformFunc(tt.input); got != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFindConfigFile(t *testing.T) {
	isolateEnv(t)

	path := writeConfigFile(t, "logging:\n  level: debug\n")
	os.Setenv(ConfigPathEnvVar, path)
	if got := findConfigFile(); got != path {
		t.Errorf("findConfigFile() = %q, want %q", got, path)
	}

	os.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	if got := findConfigFile(); got != "" {
		t.Errorf("findConfigFile() with missing CONFIG_PATH = %q, want empty", got)
	}
}

func TestLoadWithKoanfEnvVars(t *testing.T) {
	isolateEnv(t)

	os.Setenv("JELLYFIN_URL", "http://jellyfin.local:8096/")
	os.Setenv("JELLYFIN_TOKEN", "abc123")
	os.Setenv("DEVICE_ID", "dev-1")
	os.Setenv("SOCKET_RECONNECT_MIN", "2s")
	os.Setenv("SOCKET_RECONNECT_MAX", "1m")
	os.Setenv("TASKS_FINISHED_TIMEOUT", "750ms")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("CORS_ORIGINS", "http://a.local, http://b.local")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Server.URL != "http://jellyfin.local:8096" {
		t.Errorf("Server.URL = %q, want trailing slash trimmed", cfg.Server.URL)
	}
	if cfg.Auth.Token != "abc123" {
		t.Errorf("Auth.Token = %q, want abc123", cfg.Auth.Token)
	}
	if cfg.Device.ID != "dev-1" {
		t.Errorf("Device.ID = %q, want dev-1", cfg.Device.ID)
	}
	if cfg.Socket.ReconnectMin != 2*time.Second {
		t.Errorf("Socket.ReconnectMin = %v, want 2s", cfg.Socket.ReconnectMin)
	}
	if cfg.Socket.ReconnectMax != time.Minute {
		t.Errorf("Socket.ReconnectMax = %v, want 1m", cfg.Socket.ReconnectMax)
	}
	if cfg.Tasks.FinishedTimeout != 750*time.Millisecond {
		t.Errorf("Tasks.FinishedTimeout = %v, want 750ms", cfg.Tasks.FinishedTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if len(cfg.Status.CORSOrigins) != 2 || cfg.Status.CORSOrigins[1] != "http://b.local" {
		t.Errorf("Status.CORSOrigins = %v, want two trimmed origins", cfg.Status.CORSOrigins)
	}

	// Defaults survive for unset values
	if cfg.Socket.HandshakeTimeout != 10*time.Second {
		t.Errorf("Socket.HandshakeTimeout = %v, want 10s (default)", cfg.Socket.HandshakeTimeout)
	}
	if !cfg.SocketConfigured() {
		t.Error("SocketConfigured() = false, want true")
	}
}

func TestLoadWithKoanfGeneratesDeviceID(t *testing.T) {
	isolateEnv(t)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Device.ID == "" {
		t.Error("Device.ID should be generated when unset")
	}
	if cfg.SocketConfigured() {
		t.Error("SocketConfigured() = true without server or token")
	}
}

func TestLoadWithKoanfEnvOverridesFile(t *testing.T) {
	isolateEnv(t)

	path := writeConfigFile(t, `
server:
  url: "https://media.example.com/jellyfin"
auth:
  token: "file-token"
socket:
  reconnect_max: 10s
logging:
  level: "warn"
`)
	os.Setenv(ConfigPathEnvVar, path)
	os.Setenv("LOG_LEVEL", "error")
	os.Setenv("STORAGE_PATH", "/var/lib/jellysync")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Server.URL != "https://media.example.com/jellyfin" {
		t.Errorf("Server.URL = %q (from file)", cfg.Server.URL)
	}
	if cfg.Auth.Token != "file-token" {
		t.Errorf("Auth.Token = %q, want file-token (from file)", cfg.Auth.Token)
	}
	if cfg.Socket.ReconnectMax != 10*time.Second {
		t.Errorf("Socket.ReconnectMax = %v, want 10s (from file)", cfg.Socket.ReconnectMax)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %q, want error (env override)", cfg.Logging.Level)
	}
	if cfg.Storage.Path != "/var/lib/jellysync" {
		t.Errorf("Storage.Path = %q, want /var/lib/jellysync (env override)", cfg.Storage.Path)
	}
}

func TestLoadWithKoanfValidation(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		errMsg  string
	}{
		{
			name:    "non-http server url",
			envVars: map[string]string{"JELLYFIN_URL": "ftp://jellyfin.local"},
			errMsg:  "base URL",
		},
		{
			name:    "token without server",
			envVars: map[string]string{"JELLYFIN_TOKEN": "abc"},
			errMsg:  "JELLYFIN_URL is empty",
		},
		{
			name:    "reconnect max below min",
			envVars: map[string]string{"SOCKET_RECONNECT_MIN": "5s", "SOCKET_RECONNECT_MAX": "1s"},
			errMsg:  "reconnect_max",
		},
		{
			name:    "negative read timeout",
			envVars: map[string]string{"SOCKET_READ_TIMEOUT": "-1s"},
			errMsg:  "read_timeout",
		},
		{
			name:    "invalid log level",
			envVars: map[string]string{"LOG_LEVEL": "loud"},
			errMsg:  "level",
		},
		{
			name:    "status enabled without listen address",
			envVars: map[string]string{"STATUS_ENABLED": "true", "STATUS_LISTEN": ""},
			errMsg:  "listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			_, err := LoadWithKoanf()
			if err == nil {
				t.Fatalf("LoadWithKoanf() expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("LoadWithKoanf() error = %v, want containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestValidateReturnsFieldErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.API.RateBurst = 0

	err := cfg.Validate()
	var verr *validation.RequestValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() = %v, want *validation.RequestValidationError", err)
	}
	if _, ok := verr.Fields()["api.rate_burst"]; !ok {
		t.Errorf("Fields() = %v, want api.rate_burst", verr.Fields())
	}
}
