// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tomtom215/jellysync/internal/jellyfin"
	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/persist"
	"github.com/tomtom215/jellysync/internal/storage"
)

const librariesKey = "userLibraries"

// ViewSource fetches the top-level libraries of the current user.
type ViewSource interface {
	UserViews(ctx context.Context) ([]jellyfin.Item, error)
}

// UserLibrariesState is the persisted state of UserLibraries.
type UserLibrariesState struct {
	Views   []jellyfin.Item `json:"views"`
	IsReady bool            `json:"isReady"`
}

func defaultLibrariesState() UserLibrariesState {
	return UserLibrariesState{Views: []jellyfin.Item{}}
}

// UserLibraries keeps the current user's libraries.
type UserLibraries struct {
	source ViewSource
	cell   *persist.Cell[UserLibrariesState]

	// refreshMu serializes Refresh so two fetches never interleave their writes.
	refreshMu sync.Mutex
	// resets counts session resets; a fetch that spans one is dropped.
	resets      atomic.Uint64
	unsubscribe func()
	closeOnce   sync.Once
	log         zerolog.Logger
}

// NewUserLibraries loads the stored libraries and resets them when the
// session ends.
func NewUserLibraries(source ViewSource, s storage.Storage, session Session) *UserLibraries {
	l := &UserLibraries{
		source: source,
		cell:   persist.NewCell(s, librariesKey, defaultLibrariesState),
		log:    logging.WithComponent("libraries"),
	}
	if err := l.cell.Load(); err != nil {
		l.log.Warn().Err(err).Msg("[libraries] failed to persist loaded state")
	}
	l.unsubscribe = onSessionEnd(session, l.reset)
	return l
}

// Refresh fetches the user's views. A failed fetch is logged and returned,
// the previous views are kept and the store is still marked ready.
func (l *UserLibraries) Refresh(ctx context.Context) error {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	epoch := l.resets.Load()
	views, err := l.source.UserViews(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("[libraries] failed to fetch user views")
	}
	if l.resets.Load() != epoch {
		return err
	}

	if uerr := l.cell.Update(func(st *UserLibrariesState) {
		if err == nil {
			if views == nil {
				views = []jellyfin.Item{}
			}
			st.Views = views
		}
		st.IsReady = true
	}); uerr != nil {
		l.log.Warn().Err(uerr).Msg("[libraries] failed to persist state")
	}
	return err
}

// Libraries returns a copy of the user's views.
func (l *UserLibraries) Libraries() []jellyfin.Item {
	views := l.cell.Get().Views
	out := make([]jellyfin.Item, len(views))
	for i, v := range views {
		out[i] = cloneItem(v)
	}
	return out
}

// IsReady reports whether Refresh has completed since the last reset.
func (l *UserLibraries) IsReady() bool {
	return l.cell.Get().IsReady
}

func (l *UserLibraries) reset() {
	l.resets.Add(1)
	if err := l.cell.Reset(); err != nil {
		l.log.Warn().Err(err).Msg("[libraries] failed to persist reset")
	}
}

// Close stops reacting to session changes.
func (l *UserLibraries) Close() {
	l.closeOnce.Do(l.unsubscribe)
}
