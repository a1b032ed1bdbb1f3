// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/jellysync/internal/auth"
	"github.com/tomtom215/jellysync/internal/bus"
	"github.com/tomtom215/jellysync/internal/jellyfin"
	"github.com/tomtom215/jellysync/internal/socket"
)

// manualClock fires scheduled callbacks only when Advance moves past them.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New()
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newLoggedInSession() *auth.Session {
	s := auth.NewSession("dev-1")
	s.SetServer("http://jellyfin.local:8096")
	s.Login(auth.User{ID: "u1", Name: "alice"}, "tok")
	return s
}

// publish decodes raw like the transport does and publishes it. It returns
// once every subscriber has handled the envelope.
func publish(t *testing.T, b *bus.Bus, raw string) {
	t.Helper()
	env := socket.Decode([]byte(raw))
	if env == nil {
		t.Fatalf("socket.Decode(%s) = nil", raw)
	}
	b.Publish(env)
}

// fakeSource serves items from memory and records every call.
type fakeSource struct {
	mu          sync.Mutex
	items       map[string]jellyfin.Item
	children    map[string][]jellyfin.Item
	views       []jellyfin.Item
	err         error
	byIDCalls   [][]string
	parentCalls []string
	viewCalls   int

	// release, when set, blocks ItemsByIDs until it is closed.
	release chan struct{}
	started chan struct{}
}

func newFakeSource(items ...jellyfin.Item) *fakeSource {
	f := &fakeSource{
		items:    make(map[string]jellyfin.Item),
		children: make(map[string][]jellyfin.Item),
	}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

func (f *fakeSource) ItemsByIDs(ctx context.Context, ids []string) ([]jellyfin.Item, error) {
	f.mu.Lock()
	f.byIDCalls = append(f.byIDCalls, slices.Clone(ids))
	release, started := f.release, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []jellyfin.Item
	for _, id := range ids {
		if it, ok := f.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeSource) ItemsByParent(_ context.Context, parentID string) ([]jellyfin.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parentCalls = append(f.parentCalls, parentID)
	if f.err != nil {
		return nil, f.err
	}
	return f.children[parentID], nil
}

func (f *fakeSource) UserViews(_ context.Context) ([]jellyfin.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.views, nil
}

func (f *fakeSource) setItem(it jellyfin.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[it.ID] = it
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) idCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.byIDCalls)
}

func ptr(v float64) *float64 {
	return &v
}
