// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/jellysync/internal/jellyfin"
	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/metrics"
	"github.com/tomtom215/jellysync/internal/socket"
)

var (
	// ErrItemNotFound is returned for ids that are not cached or that the
	// server did not return.
	ErrItemNotFound = errors.New("item not found")

	// ErrMissingID is returned when an operation needs an item id and got none.
	ErrMissingID = errors.New("missing item id")
)

// ItemSource fetches item snapshots from the server.
type ItemSource interface {
	ItemsByIDs(ctx context.Context, ids []string) ([]jellyfin.Item, error)
	ItemsByParent(ctx context.Context, parentID string) ([]jellyfin.Item, error)
}

// ItemCache holds item snapshots by id and ordered parent to children
// associations. It lives in memory only.
//
// Snapshots go in and come out by value. Removing an item leaves the
// associations that mention it in place; readers skip ids that are gone.
type ItemCache struct {
	mu          sync.RWMutex
	byID        map[string]jellyfin.Item
	collections map[string][]string
	// epoch changes on every session reset; fetches started in an older
	// epoch discard their results.
	epoch uint64

	source ItemSource

	ctx         context.Context
	cancel      context.CancelFunc
	refreshes   sync.WaitGroup
	unsubscribe []func()
	closeOnce   sync.Once
	log         zerolog.Logger
}

// NewItemCache creates an empty cache refreshing cached items on
// LibraryChanged and UserDataChanged messages.
func NewItemCache(source ItemSource, b Subscriber, session Session) (*ItemCache, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &ItemCache{
		byID:        make(map[string]jellyfin.Item),
		collections: make(map[string][]string),
		source:      source,
		ctx:         ctx,
		cancel:      cancel,
		log:         logging.WithComponent("items"),
	}

	unsubscribe, err := b.Subscribe("items", c.handleMessage)
	if err != nil {
		cancel()
		return nil, err
	}
	c.unsubscribe = append(c.unsubscribe, unsubscribe, onSessionEnd(session, c.reset))
	return c, nil
}

// Get returns the cached snapshot of id. It never fetches.
func (c *ItemCache) Get(id string) (jellyfin.Item, bool) {
	if id == "" {
		return jellyfin.Item{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.byID[id]
	if !ok {
		return jellyfin.Item{}, false
	}
	return cloneItem(item), true
}

// GetMany returns the snapshots of ids in order. Every id must be cached.
func (c *ItemCache) GetMany(ids []string) ([]jellyfin.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]jellyfin.Item, 0, len(ids))
	for _, id := range ids {
		item, ok := c.byID[id]
		if !ok {
			return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
		}
		out = append(out, cloneItem(item))
	}
	return out, nil
}

// GetChildren returns the children associated with parentID in their
// recorded order. ok is false when there is no association.
func (c *ItemCache) GetChildren(parentID string) (children []jellyfin.Item, ok bool, err error) {
	if parentID == "" {
		return nil, false, ErrMissingID
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	children, ok = c.childrenLocked(parentID)
	return children, ok, nil
}

func (c *ItemCache) childrenLocked(parentID string) ([]jellyfin.Item, bool) {
	ids := c.collections[parentID]
	if len(ids) == 0 {
		return nil, false
	}
	out := make([]jellyfin.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := c.byID[id]; ok {
			out = append(out, cloneItem(item))
		}
	}
	return out, true
}

// Add upserts item. An item without an id cannot be cached and is returned
// unchanged.
func (c *ItemCache) Add(item jellyfin.Item) jellyfin.Item {
	if item.ID == "" {
		return item
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(item)
	return cloneItem(item)
}

func (c *ItemCache) addLocked(item jellyfin.Item) {
	c.byID[item.ID] = cloneItem(item)
	metrics.ItemsCached.Set(float64(len(c.byID)))
}

// Remove deletes the given snapshots. Associations are left untouched.
func (c *ItemCache) Remove(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.byID, id)
	}
	metrics.ItemsCached.Set(float64(len(c.byID)))
}

// SetCollection caches children that are not cached yet and records them,
// in order, as the children of parent. Children without an id are skipped.
func (c *ItemCache) SetCollection(parent jellyfin.Item, children []jellyfin.Item) ([]jellyfin.Item, error) {
	if parent.ID == "" {
		return nil, fmt.Errorf("set collection: %w", ErrMissingID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setCollectionLocked(parent.ID, children), nil
}

func (c *ItemCache) setCollectionLocked(parentID string, children []jellyfin.Item) []jellyfin.Item {
	ids := make([]string, 0, len(children))
	for _, child := range children {
		if child.ID == "" {
			continue
		}
		if _, ok := c.byID[child.ID]; !ok {
			c.addLocked(child)
		}
		ids = append(ids, child.ID)
	}
	c.collections[parentID] = ids

	out, _ := c.childrenLocked(parentID)
	if out == nil {
		out = []jellyfin.Item{}
	}
	return out
}

// FetchAndCache makes sure parentID is cached, fetching it if needed, then
// fetches its children and records them as its collection.
func (c *ItemCache) FetchAndCache(ctx context.Context, parentID string) ([]jellyfin.Item, error) {
	if parentID == "" {
		return nil, fmt.Errorf("fetch collection: %w", ErrMissingID)
	}
	epoch := c.currentEpoch()

	if _, ok := c.Get(parentID); !ok {
		parents, err := c.source.ItemsByIDs(ctx, []string{parentID})
		if err != nil {
			return nil, fmt.Errorf("fetch parent %s: %w", parentID, err)
		}
		parent, found := findItem(parents, parentID)
		if !found {
			return nil, fmt.Errorf("parent %s: %w", parentID, ErrItemNotFound)
		}
		if !c.addIfEpoch(epoch, parent) {
			return nil, fmt.Errorf("parent %s: %w", parentID, ErrItemNotFound)
		}
	}

	children, err := c.source.ItemsByParent(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("fetch children of %s: %w", parentID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// The parent may have been removed or the session reset while fetching.
	if _, ok := c.byID[parentID]; !ok || c.epoch != epoch {
		return nil, fmt.Errorf("parent %s: %w", parentID, ErrItemNotFound)
	}
	return c.setCollectionLocked(parentID, children), nil
}

// RefreshByIDs re-fetches ids and upserts what the server returns.
func (c *ItemCache) RefreshByIDs(ctx context.Context, ids []string) error {
	return c.refresh(ctx, ids, c.currentEpoch())
}

func (c *ItemCache) refresh(ctx context.Context, ids []string, epoch uint64) error {
	if len(ids) == 0 {
		return nil
	}

	items, err := c.source.ItemsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("refresh %d items: %w", len(ids), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return nil
	}
	for _, item := range items {
		if item.ID != "" {
			c.addLocked(item)
		}
	}
	return nil
}

// CachedIDs returns the ids of every cached snapshot, sorted.
func (c *ItemCache) CachedIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.byID))
}

// Len returns the number of cached snapshots.
func (c *ItemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

func (c *ItemCache) handleMessage(env *socket.Envelope) {
	var (
		candidates []string
		trigger    string
	)
	switch p := env.Payload.(type) {
	case socket.LibraryChanged:
		candidates, trigger = p.ItemsUpdated, "library_changed"
	case socket.UserDataChanged:
		candidates = make([]string, 0, len(p.Entries))
		for _, e := range p.Entries {
			candidates = append(candidates, e.ItemID)
		}
		trigger = "user_data_changed"
	default:
		return
	}

	ids, epoch := c.cachedSubset(candidates)
	if len(ids) == 0 {
		return
	}

	c.refreshes.Add(1)
	go func() {
		defer c.refreshes.Done()
		err := c.refresh(c.ctx, ids, epoch)
		metrics.RecordItemRefresh(trigger, err)
		if err != nil {
			c.log.Warn().Err(err).Str("trigger", trigger).Strs("item_ids", ids).Msg("[items] refresh failed")
			return
		}
		c.log.Debug().Str("trigger", trigger).Int("count", len(ids)).Msg("[items] refreshed")
	}()
}

// cachedSubset keeps the ids that are cached, in order and without repeats,
// and returns the epoch they were read in.
func (c *ItemCache) cachedSubset(ids []string) ([]string, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := c.byID[id]; ok {
			out = append(out, id)
		}
	}
	return out, c.epoch
}

func (c *ItemCache) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

func (c *ItemCache) addIfEpoch(epoch uint64, item jellyfin.Item) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.addLocked(item)
	return true
}

func (c *ItemCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.byID = make(map[string]jellyfin.Item)
	c.collections = make(map[string][]string)
	metrics.ItemsCached.Set(0)
	c.log.Debug().Msg("[items] cache reset")
}

// Wait blocks until every refresh started by a notification has finished.
func (c *ItemCache) Wait() {
	c.refreshes.Wait()
}

// Close unsubscribes the cache, cancels in-flight refreshes and waits for them.
func (c *ItemCache) Close() {
	c.closeOnce.Do(func() {
		for _, fn := range c.unsubscribe {
			fn()
		}
		c.cancel()
		c.refreshes.Wait()
	})
}

func findItem(items []jellyfin.Item, id string) (jellyfin.Item, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return jellyfin.Item{}, false
}

// cloneItem copies the reference fields of item so cached snapshots never
// share memory with callers.
func cloneItem(item jellyfin.Item) jellyfin.Item {
	if item.ProviderIDs != nil {
		item.ProviderIDs = maps.Clone(item.ProviderIDs)
	}
	if item.ImageTags != nil {
		item.ImageTags = maps.Clone(item.ImageTags)
	}
	if item.UserData != nil {
		ud := *item.UserData
		item.UserData = &ud
	}
	return item
}
