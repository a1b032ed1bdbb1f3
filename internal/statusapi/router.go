// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package statusapi is the local HTTP surface of a jellysync process. It
// exposes the mirrored state read-only, lets an operator end the session and
// serves Prometheus metrics.
//
//	GET  /healthz
//	GET  /metrics
//	GET  /api/tasks
//	GET  /api/items/{id}
//	GET  /api/libraries
//	POST /api/libraries/refresh
//	GET  /api/socket
//	GET  /api/session
//	POST /api/session/logout
package statusapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the status API reads from.
type Deps struct {
	Tasks     TaskLister
	Items     ItemReader
	Libraries LibraryReader
	Socket    SocketStatus
	Session   SessionControl
}

// NewHandler checks deps and returns a Handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Tasks == nil || deps.Items == nil || deps.Libraries == nil || deps.Socket == nil || deps.Session == nil {
		return nil, errors.New("statusapi: every dependency is required")
	}
	return &Handler{
		tasks:     deps.Tasks,
		items:     deps.Items,
		libraries: deps.Libraries,
		socket:    deps.Socket,
		session:   deps.Session,
		startTime: time.Now(),
	}, nil
}

// NewRouter builds the chi router of h.
func NewRouter(h *Handler, cfg MiddlewareConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(cfg))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimit(cfg))
		r.Use(Metrics)

		r.Get("/tasks", h.Tasks)
		r.Get("/items/{id}", h.Item)
		r.Get("/libraries", h.Libraries)
		r.Post("/libraries/refresh", h.RefreshLibraries)
		r.Get("/socket", h.Socket)
		r.Get("/session", h.Session)
		r.Post("/session/logout", h.Logout)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}

// NewServer returns an *http.Server for addr with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
