// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package auth holds the authenticated session the rest of jellysync keys
// off: the current user, the access token, the active server and the device
// identifier. Observers registered with OnChange are told about every change.
package auth

import (
	"sync"

	"github.com/tomtom215/jellysync/internal/logging"
)

// User identifies the authenticated Jellyfin user.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is safe for concurrent use. Observers run synchronously on the
// goroutine that made the change, after the session lock is released.
type Session struct {
	mu        sync.RWMutex
	user      *User
	token     string
	serverURL string
	deviceID  string

	obsMu     sync.Mutex
	observers map[uint64]func()
	nextObs   uint64
}

// NewSession creates a session with no user, token or server.
func NewSession(deviceID string) *Session {
	return &Session{
		deviceID:  deviceID,
		observers: make(map[uint64]func()),
	}
}

// OnChange registers fn and returns a function that removes it.
func (s *Session) OnChange(fn func()) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Session) notify() {
	s.obsMu.Lock()
	fns := make([]func(), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// update applies fn under the lock and notifies observers if it reports a change.
func (s *Session) update(fn func() bool) {
	s.mu.Lock()
	changed := fn()
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// SetServer sets the active server base URL.
func (s *Session) SetServer(baseURL string) {
	s.update(func() bool {
		if s.serverURL == baseURL {
			return false
		}
		s.serverURL = baseURL
		return true
	})
}

// SetDeviceID replaces the device identifier.
func (s *Session) SetDeviceID(id string) {
	s.update(func() bool {
		if s.deviceID == id {
			return false
		}
		s.deviceID = id
		return true
	})
}

// SetToken replaces the access token without touching the user.
func (s *Session) SetToken(token string) {
	s.update(func() bool {
		if s.token == token {
			return false
		}
		s.token = token
		return true
	})
}

// Login sets the user and token together, so observers see one change.
func (s *Session) Login(user User, token string) {
	s.update(func() bool {
		if s.user != nil && *s.user == user && s.token == token {
			return false
		}
		u := user
		s.user = &u
		s.token = token
		return true
	})
	logging.Info().Str("user_id", user.ID).Str("token", logging.SanitizeToken(token)).Msg("[auth] logged in")
}

// Logout clears the user and the token. The server and device stay.
func (s *Session) Logout() {
	s.update(func() bool {
		if s.user == nil && s.token == "" {
			return false
		}
		s.user = nil
		s.token = ""
		return true
	})
	logging.Info().Msg("[auth] logged out")
}

// CurrentUser returns the authenticated user.
func (s *Session) CurrentUser() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// CurrentUserID returns "" when nobody is logged in.
func (s *Session) CurrentUserID() string {
	u, _ := s.CurrentUser()
	return u.ID
}

// Authenticated reports whether a user is present.
func (s *Session) Authenticated() bool {
	_, ok := s.CurrentUser()
	return ok
}

// Token returns the access token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ServerURL returns the server base URL last passed to SetServer.
func (s *Session) ServerURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverURL
}

// DeviceID returns the device ID sent with every request.
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// SocketCredentials returns the inputs of the socket URL in one consistent read.
func (s *Session) SocketCredentials() (token, serverURL, deviceID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.serverURL, s.deviceID
}
