// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package statusapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/jellysync/internal/auth"
	"github.com/tomtom215/jellysync/internal/jellyfin"
	"github.com/tomtom215/jellysync/internal/socket"
	"github.com/tomtom215/jellysync/internal/store"
)

type fakeTasks struct{ tasks []store.RunningTask }

func (f *fakeTasks) Tasks() []store.RunningTask      { return f.tasks }
func (f *fakeTasks) FinishedTimeout() time.Duration { return 5 * time.Second }

type fakeItems map[string]jellyfin.Item

func (f fakeItems) Get(id string) (jellyfin.Item, bool) {
	it, ok := f[id]
	return it, ok
}

func (f fakeItems) Len() int { return len(f) }

type fakeLibraries struct {
	views     []jellyfin.Item
	ready     bool
	err       error
	refreshes int
}

func (f *fakeLibraries) Libraries() []jellyfin.Item { return f.views }
func (f *fakeLibraries) IsReady() bool              { return f.ready }

func (f *fakeLibraries) Refresh(context.Context) error {
	f.refreshes++
	if f.err != nil {
		return f.err
	}
	f.ready = true
	return nil
}

type fakeSocket struct {
	state   socket.State
	target  string
	lastRaw []byte
}

func (f *fakeSocket) State() socket.State { return f.state }
func (f *fakeSocket) Target() string      { return f.target }
func (f *fakeSocket) LastRaw() []byte     { return f.lastRaw }

type fixture struct {
	router    http.Handler
	session   *auth.Session
	libraries *fakeLibraries
	socket    *fakeSocket
}

func newFixture(t *testing.T, cfg MiddlewareConfig) *fixture {
	t.Helper()
	session := auth.NewSession("dev-1")
	session.SetServer("http://jf.local:8096")
	session.Login(auth.User{ID: "u1", Name: "alice"}, "secret-token")

	progress := 45.0
	f := &fixture{
		session:   session,
		libraries: &fakeLibraries{views: []jellyfin.Item{{ID: "L1", Name: "Movies"}}},
		socket: &fakeSocket{
			state:   socket.StateOpen,
			target:  "ws://jf.local:8096/socket?api_key=REDACTED&deviceId=dev-1",
			lastRaw: []byte(`{"MessageType":"ForceKeepAlive","Data":30}`),
		},
	}
	h, err := NewHandler(Deps{
		Tasks:     &fakeTasks{tasks: []store.RunningTask{{Type: store.TaskLibraryRefresh, ID: "lib1", Data: "Movies", Progress: &progress}}},
		Items:     fakeItems{"A": {ID: "A", Name: "Alien"}},
		Libraries: f.libraries,
		Socket:    f.socket,
		Session:   session,
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	f.router = NewRouter(h, cfg)
	return f
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *APIError       `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	if data != nil {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			t.Fatalf("invalid data %s: %v", resp.Data, err)
		}
	}
	return Response{Status: resp.Status, Error: resp.Error}
}

func checkStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, want, rec.Body.String())
	}
}

func TestNewHandlerRequiresDeps(t *testing.T) {
	if _, err := NewHandler(Deps{}); err == nil {
		t.Error("NewHandler(empty) error = nil")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, DefaultMiddlewareConfig())

	rec := f.do(t, http.MethodGet, "/healthz")
	checkStatus(t, rec, http.StatusOK)
	var health Health
	resp := decode(t, rec, &health)
	if resp.Status != "success" || health.Status != "healthy" || health.Socket != "open" || !health.Authenticated {
		t.Errorf("health = %+v (%s)", health, resp.Status)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("response carries no request id")
	}

	f.socket.state = socket.StateReconnecting
	decode(t, f.do(t, http.MethodGet, "/healthz"), &health)
	if health.Status != "degraded" || health.Socket != "reconnecting" {
		t.Errorf("health while reconnecting = %+v", health)
	}
}

func TestTasksEndpoint(t *testing.T) {
	f := newFixture(t, DefaultMiddlewareConfig())

	rec := f.do(t, http.MethodGet, "/api/tasks")
	checkStatus(t, rec, http.StatusOK)
	var body TasksResponse
	decode(t, rec, &body)
	if len(body.Tasks) != 1 || body.Tasks[0].ID != "lib1" || *body.Tasks[0].Progress != 45 {
		t.Errorf("tasks = %+v", body.Tasks)
	}
	if body.FinishedTasksTimeout != 5000 {
		t.Errorf("finishedTasksTimeout = %d", body.FinishedTasksTimeout)
	}
}

func TestItemEndpoint(t *testing.T) {
	f := newFixture(t, DefaultMiddlewareConfig())

	rec := f.do(t, http.MethodGet, "/api/items/A")
	checkStatus(t, rec, http.StatusOK)
	var item jellyfin.Item
	decode(t, rec, &item)
	if item.Name != "Alien" {
		t.Errorf("item = %+v", item)
	}

	rec = f.do(t, http.MethodGet, "/api/items/missing")
	checkStatus(t, rec, http.StatusNotFound)
	if resp := decode(t, rec, nil); resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestLibrariesEndpoints(t *testing.T) {
	f := newFixture(t, DefaultMiddlewareConfig())

	var body LibrariesResponse
	decode(t, f.do(t, http.MethodGet, "/api/libraries"), &body)
	if body.IsReady || len(body.Views) != 1 {
		t.Errorf("libraries = %+v", body)
	}

	rec := f.do(t, http.MethodPost, "/api/libraries/refresh")
	checkStatus(t, rec, http.StatusOK)
	decode(t, rec, &body)
	if !body.IsReady || f.libraries.refreshes != 1 {
		t.Errorf("after refresh: %+v, refreshes %d", body, f.libraries.refreshes)
	}

	f.libraries.err = errors.New("server down")
	checkStatus(t, f.do(t, http.MethodPost, "/api/libraries/refresh"), http.StatusBadGateway)
}

func TestSocketEndpoint(t *testing.T) {
	f := newFixture(t, DefaultMiddlewareConfig())

	var body SocketResponse
	decode(t, f.do(t, http.MethodGet, "/api/socket"), &body)
	if body.State != "open" || !strings.Contains(body.Target, "REDACTED") || !strings.Contains(body.LastRaw, "ForceKeepAlive") {
		t.Errorf("socket = %+v", body)
	}
}

func TestSessionLogout(t *testing.T) {
	f := newFixture(t, DefaultMiddlewareConfig())

	var body SessionResponse
	rec := f.do(t, http.MethodGet, "/api/session")
	decode(t, rec, &body)
	if !body.Authenticated || body.User == nil || body.User.ID != "u1" || body.DeviceID != "dev-1" {
		t.Fatalf("session = %+v", body)
	}
	if strings.Contains(rec.Body.String(), "secret-token") {
		t.Fatal("session response leaks the access token")
	}

	checkStatus(t, f.do(t, http.MethodGet, "/api/session/logout"), http.StatusMethodNotAllowed)
	checkStatus(t, f.do(t, http.MethodPost, "/api/session/logout"), http.StatusNoContent)
	if f.session.Authenticated() {
		t.Error("session still authenticated after logout")
	}

	body = SessionResponse{}
	decode(t, f.do(t, http.MethodGet, "/api/session"), &body)
	if body.Authenticated || body.User != nil {
		t.Errorf("session after logout = %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, DefaultMiddlewareConfig())
	f.do(t, http.MethodGet, "/api/tasks")

	rec := f.do(t, http.MethodGet, "/metrics")
	checkStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `jellysync_status_request_duration_seconds_count{method="GET",route="/api/tasks",status="200"}`) {
		t.Error("metrics output lacks the status request histogram")
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, DefaultMiddlewareConfig())
	rec := f.do(t, http.MethodGet, "/api/nope")
	checkStatus(t, rec, http.StatusNotFound)
	if resp := decode(t, rec, nil); resp.Status != "error" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultMiddlewareConfig()
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindow = time.Minute
	f := newFixture(t, cfg)

	checkStatus(t, f.do(t, http.MethodGet, "/api/tasks"), http.StatusOK)
	checkStatus(t, f.do(t, http.MethodGet, "/api/tasks"), http.StatusOK)
	rec := f.do(t, http.MethodGet, "/api/tasks")
	checkStatus(t, rec, http.StatusTooManyRequests)
	if resp := decode(t, rec, nil); resp.Error == nil || resp.Error.Code != "RATE_LIMITED" {
		t.Errorf("error = %+v", resp.Error)
	}

	// Health checks are not limited.
	checkStatus(t, f.do(t, http.MethodGet, "/healthz"), http.StatusOK)
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := DefaultMiddlewareConfig()
	cfg.RateLimitRequests = 0
	f := newFixture(t, cfg)
	for i := 0; i < 5; i++ {
		checkStatus(t, f.do(t, http.MethodGet, "/api/tasks"), http.StatusOK)
	}
}

func TestCORS(t *testing.T) {
	cfg := DefaultMiddlewareConfig()
	cfg.CORSAllowedOrigins = []string{"http://localhost:5173"}
	f := newFixture(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewServer(t *testing.T) {
	srv := NewServer("127.0.0.1:0", http.NotFoundHandler())
	if srv.Addr != "127.0.0.1:0" || srv.ReadHeaderTimeout == 0 {
		t.Errorf("server = %+v", srv)
	}
}
