// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package storage is the key/value byte storage behind persisted store state.
//
// Two backends exist. Badger is used by the process: in memory when no path
// is configured, which scopes persisted state to the lifetime of the process
// the way browser session storage is scoped to a browser session, or on disk
// when a path is set. Memory is a plain map for tests.
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get for a key that was never set or was deleted.
var ErrNotFound = errors.New("storage: key not found")

// Storage reads and writes whole values by key.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Backend is a Storage that owns resources.
type Backend interface {
	Storage
	Close() error
}

// Open returns the badger backend for path; an empty path keeps data in memory.
func Open(path string) (Backend, error) {
	b, err := OpenBadger(path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return b, nil
}
