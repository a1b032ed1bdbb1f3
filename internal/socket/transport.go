// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package socket owns the realtime connection to the Jellyfin server.
//
// The Transport keeps at most one connection open. Its target is a pure
// function of the session credentials (token, server base URL, device id):
// when any of them is missing the transport stays idle, and when they change
// the current connection is closed and a new one opened. Dropped connections
// are retried forever with exponential backoff. The client never pings; it
// only answers the server's ForceKeepAlive with a single KeepAlive frame.
//
// Every decoded frame is handed to a Publisher (the dispatch bus). Frames
// that do not decode are counted and dropped.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/metrics"
)

// ErrNotConnected is returned by Send when no connection is open.
var ErrNotConnected = errors.New("socket: not connected")

const writeWait = 10 * time.Second

// State is the lifecycle state of the connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateReconnecting
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Credentials is the session view the transport derives its target from.
type Credentials interface {
	SocketCredentials() (token, serverURL, deviceID string)
	OnChange(fn func()) (unsubscribe func())
}

// Publisher receives every decoded envelope in arrival order.
type Publisher interface {
	Publish(env *Envelope)
}

// Config controls dialing and reconnection.
type Config struct {
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	HandshakeTimeout time.Duration

	// ReadTimeout of zero disables the read deadline.
	ReadTimeout time.Duration
}

// DefaultConfig returns 1s to 32s reconnect backoff and no read deadline.
func DefaultConfig() Config {
	return Config{
		ReconnectMin:     time.Second,
		ReconnectMax:     32 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Transport maintains the connection. Create it with New and run it with
// Serve, usually under the supervisor.
type Transport struct {
	cfg       Config
	creds     Credentials
	publisher Publisher
	dialer    *websocket.Dialer

	state   atomic.Int32
	changed chan struct{}

	mu      sync.Mutex // guards conn, target, lastRaw
	conn    *websocket.Conn
	target  string
	lastRaw []byte

	writeMu sync.Mutex
}

// New creates a transport. Zero durations in cfg fall back to DefaultConfig.
func New(cfg Config, creds Credentials, publisher Publisher) *Transport {
	def := DefaultConfig()
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = def.ReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = max(def.ReconnectMax, cfg.ReconnectMin)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	t := &Transport{
		cfg:       cfg,
		creds:     creds,
		publisher: publisher,
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  cfg.HandshakeTimeout,
			EnableCompression: true,
		},
		changed: make(chan struct{}, 1),
	}
	t.setState(StateIdle)
	return t
}

// String implements fmt.Stringer for the supervisor.
func (t *Transport) String() string {
	return "socket-transport"
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// Target returns the current connection target with the token redacted, or
// "" when no connection is open.
func (t *Transport) Target() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.target == "" {
		return ""
	}
	return redact(t.target)
}

// LastRaw returns a copy of the last frame received, or nil.
func (t *Transport) LastRaw() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastRaw == nil {
		return nil
	}
	out := make([]byte, len(t.lastRaw))
	copy(out, t.lastRaw)
	return out
}

func (t *Transport) setState(s State) {
	t.state.Store(int32(s))
	metrics.SocketState.Set(float64(s))
}

func (t *Transport) notifyChange() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

func (t *Transport) deriveTarget() (string, bool) {
	return SocketURL(t.creds.SocketCredentials())
}

// Serve connects and keeps the connection alive until ctx is canceled.
// It implements suture.Service.
func (t *Transport) Serve(ctx context.Context) error {
	unsubscribe := t.creds.OnChange(t.notifyChange)
	defer unsubscribe()

	delay := t.cfg.ReconnectMin
	retrying := false

	for {
		if ctx.Err() != nil {
			t.setState(StateClosed)
			return ctx.Err()
		}

		target, ok := t.deriveTarget()
		if !ok {
			t.setState(StateIdle)
			retrying = false
			delay = t.cfg.ReconnectMin
			select {
			case <-ctx.Done():
				continue
			case <-t.changed:
				continue
			}
		}

		if retrying {
			t.setState(StateReconnecting)
			metrics.SocketReconnects.Inc()
		} else {
			t.setState(StateConnecting)
		}

		connCtx := logging.ContextWithNewCorrelationID(ctx)
		conn, err := t.dial(connCtx, target)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logging.Ctx(connCtx).Warn().Err(err).Dur("retry_in", delay).Msg("[socket] connect failed")
			retrying = true
			if t.sleep(ctx, delay) {
				delay = t.cfg.ReconnectMin
			} else {
				delay = min(delay*2, t.cfg.ReconnectMax)
			}
			continue
		}

		delay = t.cfg.ReconnectMin
		targetChanged := t.serveConn(connCtx, conn, target)

		switch {
		case ctx.Err() != nil:
			continue
		case targetChanged:
			logging.Ctx(connCtx).Info().Msg("[socket] session changed, reconnecting")
			retrying = false
		default:
			logging.Ctx(connCtx).Info().Dur("retry_in", delay).Msg("[socket] connection lost")
			t.setState(StateReconnecting)
			retrying = true
			if t.sleep(ctx, delay) {
				retrying = false
			}
			delay = min(delay*2, t.cfg.ReconnectMax)
		}
	}
}

// sleep waits for d, ctx cancellation, or a session change. It reports true
// when woken by a session change.
func (t *Transport) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	case <-t.changed:
		return true
	}
}

func (t *Transport) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	logging.Ctx(ctx).Info().Str("url", redact(target)).Msg("[socket] connecting")

	conn, resp, err := t.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Ctx(ctx).Debug().Err(cerr).Msg("[socket] failed to close handshake response body")
		}
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", redact(target), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", redact(target), err)
	}
	return conn, nil
}

// serveConn publishes frames from conn until it fails, ctx is canceled, or
// the session target changes. It reports whether the target changed.
func (t *Transport) serveConn(ctx context.Context, conn *websocket.Conn, target string) bool {
	t.mu.Lock()
	t.conn = conn
	t.target = target
	t.mu.Unlock()
	t.setState(StateOpen)
	logging.Ctx(ctx).Info().Msg("[socket] connected")

	done := make(chan struct{})
	var targetChanged atomic.Bool
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				t.closeConn(conn)
				return
			case <-t.changed:
				if next, ok := t.deriveTarget(); ok && next == target {
					continue
				}
				targetChanged.Store(true)
				t.closeConn(conn)
				return
			}
		}
	}()

	err := t.readLoop(ctx, conn)
	close(done)
	watcher.Wait()

	t.mu.Lock()
	t.conn = nil
	t.target = ""
	t.mu.Unlock()
	t.closeConn(conn)

	if err != nil && !targetChanged.Load() && ctx.Err() == nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logging.Ctx(ctx).Info().Msg("[socket] server closed connection")
		} else {
			logging.Ctx(ctx).Warn().Err(err).Msg("[socket] read failed")
		}
	}
	t.setState(StateClosed)
	return targetChanged.Load()
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if t.cfg.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout)); err != nil {
				return err
			}
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		metrics.SocketFramesReceived.Inc()

		t.mu.Lock()
		t.lastRaw = raw
		t.mu.Unlock()

		env := Decode(raw)
		if env == nil {
			metrics.SocketDecodeFailures.Inc()
			logging.Ctx(ctx).Debug().Int("bytes", len(raw)).Msg("[socket] dropped undecodable frame")
			continue
		}

		if env.Kind == KindForceKeepAlive {
			if err := t.write(conn, KindKeepAlive, nil); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("[socket] keepalive reply failed")
			}
		}

		t.publisher.Publish(env)
	}
}

// Send writes one frame. Data is omitted from the frame when data is nil.
func (t *Transport) Send(kind string, data interface{}) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return t.write(conn, kind, data)
}

func (t *Transport) write(conn *websocket.Conn, kind string, data interface{}) error {
	frame, err := Encode(kind, data)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	metrics.RecordFrameSent(kind)
	return nil
}

// closeConn sends a close frame and closes conn. Safe to call more than once.
func (t *Transport) closeConn(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
