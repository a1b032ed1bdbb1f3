// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package services

import (
	"context"

	"github.com/tomtom215/jellysync/internal/logging"
)

// LibraryRefresher is satisfied by *store.UserLibraries.
type LibraryRefresher interface {
	Refresh(ctx context.Context) error
}

// SessionWatcher is satisfied by *auth.Session.
type SessionWatcher interface {
	CurrentUserID() string
	OnChange(fn func()) (unsubscribe func())
}

// LibraryRefreshService refreshes the user's libraries when the service
// starts with a user signed in and whenever a different user signs in.
// Failed refreshes are logged by the store and never restart the service.
type LibraryRefreshService struct {
	libraries LibraryRefresher
	session   SessionWatcher
	name      string
}

// NewLibraryRefreshService creates the service.
func NewLibraryRefreshService(libraries LibraryRefresher, session SessionWatcher) *LibraryRefreshService {
	return &LibraryRefreshService{
		libraries: libraries,
		session:   session,
		name:      "library-refresh",
	}
}

// Serve implements suture.Service.
func (s *LibraryRefreshService) Serve(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	unsubscribe := s.session.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	log := logging.WithComponent("library-refresh")
	var lastUser string
	check := func() {
		user := s.session.CurrentUserID()
		if user == lastUser {
			return
		}
		lastUser = user
		if user == "" {
			return
		}
		if err := s.libraries.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Str("user_id", user).Msg("[libraries] refresh after sign-in failed")
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			check()
		}
	}
}

// String names the service in supervisor logs.
func (s *LibraryRefreshService) String() string {
	return s.name
}
