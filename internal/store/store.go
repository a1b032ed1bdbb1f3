// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package store holds the client-side state mirrored from the server: the
// task registry, the item cache, the user's libraries and the local player
// element.
//
// Each store takes its collaborators in its constructor, subscribes to the
// dispatch bus and the session there, and releases both in Close. New builds
// all of them; the process keeps the result as the Default instance between
// startup and shutdown.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/jellysync/internal/bus"
	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/player"
	"github.com/tomtom215/jellysync/internal/storage"
)

// Subscriber is the dispatch bus as seen by a store.
type Subscriber interface {
	Subscribe(name string, h bus.Handler) (unsubscribe func(), err error)
}

// Session is the part of the auth session stores react to.
type Session interface {
	Authenticated() bool
	OnChange(fn func()) (unsubscribe func())
}

// Clock schedules deferred work. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

// AfterFunc runs f after d on its own goroutine.
func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// RealClock schedules with time.AfterFunc.
var RealClock Clock = realClock{}

// onSessionEnd calls reset whenever the session changes and no user is left.
func onSessionEnd(s Session, reset func()) func() {
	return s.OnChange(func() {
		if !s.Authenticated() {
			reset()
		}
	})
}

// Deps are the collaborators shared by every store.
type Deps struct {
	Storage storage.Storage
	Bus     Subscriber
	Session Session

	// Items fetches item snapshots. Required.
	Items ItemSource

	// Views fetches the user's libraries. Required.
	Views ViewSource

	Router    player.Router
	Renderers player.RendererFactory

	// FinishedTimeout is the default eviction delay of finished tasks. Zero
	// removes them immediately.
	FinishedTimeout time.Duration

	// Clock defaults to RealClock.
	Clock Clock
}

// Stores is the set of stores of one process.
type Stores struct {
	Tasks         *TaskRegistry
	Items         *ItemCache
	Libraries     *UserLibraries
	PlayerElement *PlayerElement
}

// New builds every store. On failure the stores built so far are closed.
func New(deps Deps) (*Stores, error) {
	if deps.Storage == nil || deps.Bus == nil || deps.Session == nil {
		return nil, errors.New("store: storage, bus and session are required")
	}
	if deps.Items == nil || deps.Views == nil {
		return nil, errors.New("store: item and view sources are required")
	}
	if deps.Clock == nil {
		deps.Clock = RealClock
	}

	s := &Stores{}
	var err error

	s.Tasks, err = NewTaskRegistry(TaskRegistryConfig{
		FinishedTimeout: deps.FinishedTimeout,
		Clock:           deps.Clock,
	}, deps.Storage, deps.Bus, deps.Session)
	if err != nil {
		return nil, fmt.Errorf("task registry: %w", err)
	}

	s.Items, err = NewItemCache(deps.Items, deps.Bus, deps.Session)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("item cache: %w", err)
	}

	s.Libraries = NewUserLibraries(deps.Views, deps.Storage, deps.Session)
	s.PlayerElement = NewPlayerElement(deps.Router, deps.Renderers, deps.Session)

	logging.Debug().Msg("[store] stores ready")
	return s, nil
}

// Close releases every store. Safe to call more than once.
func (s *Stores) Close() {
	if s.PlayerElement != nil {
		s.PlayerElement.Close()
	}
	if s.Libraries != nil {
		s.Libraries.Close()
	}
	if s.Items != nil {
		s.Items.Close()
	}
	if s.Tasks != nil {
		s.Tasks.Close()
	}

	defaultMu.Lock()
	if defaultStores == s {
		defaultStores = nil
	}
	defaultMu.Unlock()
}

var (
	defaultMu     sync.RWMutex
	defaultStores *Stores
)

// SetDefault publishes s as the process-wide instance. main calls it once
// after New; Close on the same instance clears it.
func SetDefault(s *Stores) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultStores = s
}

// Default returns the process-wide stores, or nil before startup and after
// shutdown.
func Default() *Stores {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultStores
}
