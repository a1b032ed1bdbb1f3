// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package statusapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/jellysync/internal/auth"
	"github.com/tomtom215/jellysync/internal/jellyfin"
	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/socket"
	"github.com/tomtom215/jellysync/internal/store"
)

// TaskLister is satisfied by *store.TaskRegistry.
type TaskLister interface {
	Tasks() []store.RunningTask
	FinishedTimeout() time.Duration
}

// ItemReader is satisfied by *store.ItemCache.
type ItemReader interface {
	Get(id string) (jellyfin.Item, bool)
	Len() int
}

// LibraryReader is satisfied by *store.UserLibraries.
type LibraryReader interface {
	Libraries() []jellyfin.Item
	IsReady() bool
	Refresh(ctx context.Context) error
}

// SocketStatus is satisfied by *socket.Transport.
type SocketStatus interface {
	State() socket.State
	Target() string
	LastRaw() []byte
}

// SessionControl is satisfied by *auth.Session.
type SessionControl interface {
	CurrentUser() (auth.User, bool)
	ServerURL() string
	DeviceID() string
	Logout()
}

// Handler serves the status endpoints.
type Handler struct {
	tasks     TaskLister
	items     ItemReader
	libraries LibraryReader
	socket    SocketStatus
	session   SessionControl
	startTime time.Time
}

// Health is the body of /healthz.
type Health struct {
	Status        string  `json:"status"`
	Socket        string  `json:"socket"`
	Authenticated bool    `json:"authenticated"`
	Uptime        float64 `json:"uptime_seconds"`
}

// TasksResponse is the body of /api/tasks.
type TasksResponse struct {
	Tasks                []store.RunningTask `json:"tasks"`
	FinishedTasksTimeout int64               `json:"finishedTasksTimeout"`
}

// LibrariesResponse is the body of /api/libraries.
type LibrariesResponse struct {
	Views   []jellyfin.Item `json:"views"`
	IsReady bool            `json:"isReady"`
}

// SocketResponse is the body of /api/socket.
type SocketResponse struct {
	State   string `json:"state"`
	Target  string `json:"target,omitempty"`
	LastRaw string `json:"last_raw,omitempty"`
}

// SessionResponse is the body of /api/session.
type SessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	User          *auth.User `json:"user,omitempty"`
	ServerURL     string     `json:"server_url,omitempty"`
	DeviceID      string     `json:"device_id"`
}

// Health reports healthy once the socket is open and degraded otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.socket.State()
	status := "healthy"
	if state != socket.StateOpen {
		status = "degraded"
	}
	_, authenticated := h.session.CurrentUser()

	respondJSON(w, http.StatusOK, Health{
		Status:        status,
		Socket:        state.String(),
		Authenticated: authenticated,
		Uptime:        time.Since(h.startTime).Seconds(),
	})
}

// Tasks lists running tasks and the finished-task timeout in milliseconds.
func (h *Handler) Tasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, TasksResponse{
		Tasks:                h.tasks.Tasks(),
		FinishedTasksTimeout: h.tasks.FinishedTimeout().Milliseconds(),
	})
}

// Item returns the cached snapshot of {id}. It never fetches.
func (h *Handler) Item(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok := h.items.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Item is not cached", nil)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// Libraries returns the user's views as last fetched.
func (h *Handler) Libraries(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, LibrariesResponse{
		Views:   h.libraries.Libraries(),
		IsReady: h.libraries.IsReady(),
	})
}

// RefreshLibraries fetches the user's views before answering.
func (h *Handler) RefreshLibraries(w http.ResponseWriter, r *http.Request) {
	if err := h.libraries.Refresh(r.Context()); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("[status] library refresh failed")
		respondError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Failed to fetch libraries", nil)
		return
	}
	h.Libraries(w, r)
}

// Socket reports the connection state and the redacted target.
func (h *Handler) Socket(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SocketResponse{
		State:   h.socket.State().String(),
		Target:  h.socket.Target(),
		LastRaw: string(h.socket.LastRaw()),
	})
}

// Session describes the signed-in user. The access token is never included.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	resp := SessionResponse{
		ServerURL: h.session.ServerURL(),
		DeviceID:  h.session.DeviceID(),
	}
	if user, ok := h.session.CurrentUser(); ok {
		resp.Authenticated = true
		resp.User = &user
	}
	respondJSON(w, http.StatusOK, resp)
}

// Logout ends the session. Every store resets and the socket closes.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout()
	logging.Ctx(r.Context()).Info().Msg("[status] session ended by request")
	w.WriteHeader(http.StatusNoContent)
}
