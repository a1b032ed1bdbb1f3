// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package persist

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/storage"
)

// Cell holds one piece of store state of type T and writes it to storage
// under a fixed key on every change.
//
// T must round-trip through JSON. The default value returned by the
// defaults function must be freshly allocated on each call.
type Cell[T any] struct {
	storage  storage.Storage
	key      string
	defaults func() T

	mu    sync.RWMutex
	value T
}

// NewCell creates a cell holding defaults(). Call Load to pick up a stored
// snapshot.
func NewCell[T any](s storage.Storage, key string, defaults func() T) *Cell[T] {
	return &Cell[T]{
		storage:  s,
		key:      key,
		defaults: defaults,
		value:    defaults(),
	}
}

// Key returns the storage key of the cell.
func (c *Cell[T]) Key() string {
	return c.key
}

// Load reads the stored snapshot, merges it into the defaults and writes the
// result back. A missing, unreadable or undecodable snapshot yields the
// defaults. The returned error only reports a failed write.
func (c *Cell[T]) Load() error {
	value := c.defaults()

	raw, err := c.storage.Get(c.key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		logging.Warn().Err(err).Str("key", c.key).Msg("[persist] read failed, using defaults")
	default:
		merged, mergeErr := c.merge(raw)
		if mergeErr != nil {
			logging.Warn().Err(mergeErr).Str("key", c.key).Msg("[persist] discarding stored snapshot")
		} else {
			value = merged
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	return c.writeLocked()
}

func (c *Cell[T]) merge(raw []byte) (T, error) {
	var zero T

	stored, err := decodeTree(raw)
	if err != nil {
		return zero, fmt.Errorf("decode stored snapshot: %w", err)
	}

	defRaw, err := json.Marshal(c.defaults())
	if err != nil {
		return zero, fmt.Errorf("encode defaults: %w", err)
	}
	defaults, err := decodeTree(defRaw)
	if err != nil {
		return zero, fmt.Errorf("decode defaults: %w", err)
	}

	mergedRaw, err := json.Marshal(Merge(stored, defaults))
	if err != nil {
		return zero, fmt.Errorf("encode merged snapshot: %w", err)
	}

	out := c.defaults()
	if err := json.Unmarshal(mergedRaw, &out); err != nil {
		return zero, fmt.Errorf("decode merged snapshot: %w", err)
	}
	return out, nil
}

// decodeTree keeps numbers as json.Number so large integers survive the merge.
func decodeTree(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// Get returns the current value. Reference fields are shared with the cell;
// treat them as read-only and mutate through Update.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Update applies fn to the value and persists the result. The in-memory
// value is updated even when the write fails.
func (c *Cell[T]) Update(fn func(*T)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.value)
	return c.writeLocked()
}

// Reset restores the defaults and overwrites the stored snapshot.
func (c *Cell[T]) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = c.defaults()
	return c.writeLocked()
}

func (c *Cell[T]) writeLocked() error {
	raw, err := json.Marshal(c.value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.key, err)
	}
	if err := c.storage.Set(c.key, raw); err != nil {
		return fmt.Errorf("write %s: %w", c.key, err)
	}
	return nil
}
