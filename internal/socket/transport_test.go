// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package socket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// mockServer simulates the Jellyfin /socket endpoint.
type mockServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	connChan chan *websocket.Conn

	mu    sync.Mutex
	paths []string
	keys  []string
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	mock := &mockServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		connChan: make(chan *websocket.Conn, 8),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.paths = append(mock.paths, r.URL.Path)
		mock.keys = append(mock.keys, r.URL.Query().Get("api_key"))
		mock.mu.Unlock()

		if r.URL.Query().Get("api_key") == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := mock.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mock.connChan <- conn
	}))
	t.Cleanup(mock.server.Close)
	return mock
}

func (m *mockServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-m.connChan:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (m *mockServer) apiKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

// fakeCredentials is a minimal session.
type fakeCredentials struct {
	mu        sync.Mutex
	token     string
	serverURL string
	deviceID  string
	observers map[int]func()
	nextID    int
}

func newFakeCredentials(token, serverURL, deviceID string) *fakeCredentials {
	return &fakeCredentials{token: token, serverURL: serverURL, deviceID: deviceID, observers: map[int]func(){}}
}

func (f *fakeCredentials) SocketCredentials() (string, string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.serverURL, f.deviceID
}

func (f *fakeCredentials) OnChange(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.observers[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.observers, id)
	}
}

func (f *fakeCredentials) setToken(token string) {
	f.mu.Lock()
	f.token = token
	observers := make([]func(), 0, len(f.observers))
	for _, fn := range f.observers {
		observers = append(observers, fn)
	}
	f.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// recordingPublisher collects published envelopes.
type recordingPublisher struct {
	mu   sync.Mutex
	envs []*Envelope
	ch   chan *Envelope
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan *Envelope, 32)}
}

func (p *recordingPublisher) Publish(env *Envelope) {
	p.mu.Lock()
	p.envs = append(p.envs, env)
	p.mu.Unlock()
	p.ch <- env
}

func (p *recordingPublisher) next(t *testing.T) *Envelope {
	t.Helper()
	select {
	case env := <-p.ch:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published envelope")
		return nil
	}
}

func fastConfig() Config {
	return Config{
		ReconnectMin:     10 * time.Millisecond,
		ReconnectMax:     40 * time.Millisecond,
		HandshakeTimeout: 2 * time.Second,
	}
}

func startTransport(t *testing.T, tr *Transport) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("transport did not stop")
		}
	})
}

func waitForState(t *testing.T, tr *Transport, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tr.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", tr.State(), want)
}

func TestTransportAnswersForceKeepAliveOnce(t *testing.T) {
	mock := newMockServer(t)
	pub := newRecordingPublisher()
	tr := New(fastConfig(), newFakeCredentials("tok", mock.server.URL, "dev1"), pub)
	startTransport(t, tr)

	conn := mock.accept(t)
	checkNoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"MessageType":"ForceKeepAlive","Data":60}`)))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := conn.ReadMessage()
	checkNoError(t, err)
	checkStringEqual(t, "reply", string(frame), `{"MessageType":"KeepAlive"}`)

	env := pub.next(t)
	checkStringEqual(t, "published kind", env.Kind, KindForceKeepAlive)

	// No second reply follows.
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, extra, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected second frame %q", extra)
	}
}

func TestTransportDropsMalformedFrames(t *testing.T) {
	mock := newMockServer(t)
	pub := newRecordingPublisher()
	tr := New(fastConfig(), newFakeCredentials("tok", mock.server.URL, "dev1"), pub)
	startTransport(t, tr)

	conn := mock.accept(t)
	for _, frame := range []string{"   ", "not json", "[]", `{"MessageType":"LibraryChanged","Data":{"ItemsUpdated":["A"]}}`} {
		checkNoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	env := pub.next(t)
	checkStringEqual(t, "kind", env.Kind, KindLibraryChanged)
	waitForState(t, tr, StateOpen)
	checkStringEqual(t, "LastRaw", string(tr.LastRaw()), `{"MessageType":"LibraryChanged","Data":{"ItemsUpdated":["A"]}}`)
}

func TestTransportStaysIdleWithoutCredentials(t *testing.T) {
	mock := newMockServer(t)
	creds := newFakeCredentials("", mock.server.URL, "dev1")
	tr := New(fastConfig(), creds, newRecordingPublisher())

	err := tr.Send("Anything", nil)
	checkTrue(t, "ErrNotConnected before connect", errors.Is(err, ErrNotConnected))

	startTransport(t, tr)
	waitForState(t, tr, StateIdle)
	time.Sleep(50 * time.Millisecond)
	checkIntEqual(t, "connection attempts", len(mock.apiKeys()), 0)

	creds.setToken("tok")
	mock.accept(t)
	waitForState(t, tr, StateOpen)
}

func TestTransportReconnectsAfterDrop(t *testing.T) {
	mock := newMockServer(t)
	tr := New(fastConfig(), newFakeCredentials("tok", mock.server.URL, "dev1"), newRecordingPublisher())
	startTransport(t, tr)

	first := mock.accept(t)
	waitForState(t, tr, StateOpen)
	_ = first.Close()

	mock.accept(t)
	waitForState(t, tr, StateOpen)
	checkIntEqual(t, "connections", len(mock.apiKeys()), 2)
}

func TestTransportFollowsCredentialChanges(t *testing.T) {
	mock := newMockServer(t)
	creds := newFakeCredentials("tok-a", mock.server.URL, "dev1")
	tr := New(fastConfig(), creds, newRecordingPublisher())
	startTransport(t, tr)

	mock.accept(t)
	waitForState(t, tr, StateOpen)

	creds.setToken("tok-b")
	mock.accept(t)
	waitForState(t, tr, StateOpen)

	keys := mock.apiKeys()
	checkStringEqual(t, "last api_key", keys[len(keys)-1], "tok-b")

	creds.setToken("")
	waitForState(t, tr, StateIdle)
	checkStringEqual(t, "Target when idle", tr.Target(), "")
}

func TestTransportSendOmitsData(t *testing.T) {
	mock := newMockServer(t)
	tr := New(fastConfig(), newFakeCredentials("tok", mock.server.URL, "dev1"), newRecordingPublisher())
	startTransport(t, tr)

	conn := mock.accept(t)
	waitForState(t, tr, StateOpen)

	checkNoError(t, tr.Send("SessionsStart", "0,1500"))
	checkNoError(t, tr.Send("SessionsStop", nil))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, first, err := conn.ReadMessage()
	checkNoError(t, err)
	var decoded map[string]interface{}
	checkNoError(t, json.Unmarshal(first, &decoded))
	checkStringEqual(t, "Data", decoded["Data"].(string), "0,1500")

	_, second, err := conn.ReadMessage()
	checkNoError(t, err)
	checkStringEqual(t, "second frame", string(second), `{"MessageType":"SessionsStop"}`)
}
