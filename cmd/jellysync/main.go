// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/jellysync/internal/auth"
	"github.com/tomtom215/jellysync/internal/bus"
	"github.com/tomtom215/jellysync/internal/config"
	"github.com/tomtom215/jellysync/internal/jellyfin"
	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/player"
	"github.com/tomtom215/jellysync/internal/socket"
	"github.com/tomtom215/jellysync/internal/statusapi"
	"github.com/tomtom215/jellysync/internal/storage"
	"github.com/tomtom215/jellysync/internal/store"
	"github.com/tomtom215/jellysync/internal/supervisor"
	"github.com/tomtom215/jellysync/internal/supervisor/services"
)

//nolint:gocyclo // sequential setup steps
func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("server", cfg.Server.URL).
		Str("device_id", cfg.Device.ID).
		Bool("persistent_storage", cfg.Storage.Path != "").
		Msg("Starting jellysync")

	backend, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := auth.NewSession(cfg.Device.ID)
	session.SetServer(cfg.Server.URL)

	api := newAPI(cfg, session)
	restoreSession(ctx, session, api, cfg.Auth)

	source := jellyfin.NewUserItemSource(api, session)

	messages := bus.New()
	defer func() {
		if err := messages.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing message bus")
		}
	}()

	transport := socket.New(socket.Config{
		ReconnectMin:     cfg.Socket.ReconnectMin,
		ReconnectMax:     cfg.Socket.ReconnectMax,
		HandshakeTimeout: cfg.Socket.HandshakeTimeout,
		ReadTimeout:      cfg.Socket.ReadTimeout,
	}, session, messages)

	stores, err := store.New(store.Deps{
		Storage:         backend,
		Bus:             messages,
		Session:         session,
		Items:           source,
		Views:           source,
		Router:          player.NewHistoryRouter("/"),
		FinishedTimeout: cfg.Tasks.FinishedTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize stores")
	}
	defer stores.Close()
	store.SetDefault(stores)
	logging.Info().Msg("Stores initialized")

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Sync layer
	tree.AddSyncService(transport)
	tree.AddSyncService(services.NewLibraryRefreshService(stores.Libraries, session))
	if !cfg.SocketConfigured() {
		logging.Info().Msg("No server or token configured; socket stays idle until the session is populated")
	}

	// API layer
	if cfg.Status.Enabled {
		handler, err := statusapi.NewHandler(statusapi.Deps{
			Tasks:     stores.Tasks,
			Items:     stores.Items,
			Libraries: stores.Libraries,
			Socket:    transport,
			Session:   session,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create status handler")
		}

		mwCfg := statusapi.DefaultMiddlewareConfig()
		mwCfg.CORSAllowedOrigins = cfg.Status.CORSOrigins
		mwCfg.RateLimitRequests = cfg.Status.RateLimitReqs
		mwCfg.RateLimitWindow = cfg.Status.RateLimitWindow

		server := statusapi.NewServer(cfg.Status.Listen, statusapi.NewRouter(handler, mwCfg))
		tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
		logging.Info().Str("addr", server.Addr).Msg("Status server service added")
	}

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("jellysync stopped")
}

// newAPI builds the REST client, wrapped in a circuit breaker when enabled.
func newAPI(cfg *config.Config, session *auth.Session) jellyfin.API {
	client := jellyfin.NewClient(jellyfin.Config{
		DeviceName:    cfg.Device.Name,
		ClientName:    cfg.Device.Client,
		ClientVersion: cfg.Device.Version,
		Timeout:       cfg.API.Timeout,
		RateLimit:     cfg.API.RateLimit,
		RateBurst:     cfg.API.RateBurst,
	}, session)

	if !cfg.API.CircuitBreaker {
		return client
	}
	logging.Info().Msg("Jellyfin API circuit breaker enabled")
	return jellyfin.NewCircuitBreakerClient(client)
}

// restoreSession signs the configured user in. Without a user ID the user is
// resolved from the token; if that fails the process starts signed out.
func restoreSession(ctx context.Context, session *auth.Session, api jellyfin.API, cfg config.AuthConfig) {
	if cfg.Token == "" {
		logging.Info().Msg("No access token configured; starting signed out")
		return
	}
	if cfg.UserID != "" {
		session.Login(auth.User{ID: cfg.UserID, Name: cfg.UserName}, cfg.Token)
		logging.Info().Str("user_id", cfg.UserID).Msg("Session restored from configuration")
		return
	}

	session.SetToken(cfg.Token)
	lookupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	user, err := api.GetCurrentUser(lookupCtx)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to resolve the user of the configured token; starting signed out")
		return
	}
	session.Login(auth.User{ID: user.ID, Name: user.Name}, cfg.Token)
	logging.Info().Str("user_id", user.ID).Str("user", user.Name).Msg("Signed in")
}
