// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package store

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/jellysync/internal/auth"
	"github.com/tomtom215/jellysync/internal/bus"
	"github.com/tomtom215/jellysync/internal/jellyfin"
	"github.com/tomtom215/jellysync/internal/storage"
)

func newTestStores(t *testing.T, clock Clock) (*Stores, Deps) {
	t.Helper()
	source := newFakeSource()
	deps := Deps{
		Storage:         storage.NewMemory(),
		Bus:             newTestBus(t),
		Session:         newLoggedInSession(),
		Items:           source,
		Views:           source,
		FinishedTimeout: DefaultFinishedTimeout,
		Clock:           clock,
	}
	s, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s, deps
}

func TestNewRequiresCollaborators(t *testing.T) {
	source := newFakeSource()
	tests := []struct {
		name string
		deps Deps
	}{
		{"no storage", Deps{Bus: newTestBus(t), Session: newLoggedInSession(), Items: source, Views: source}},
		{"no bus", Deps{Storage: storage.NewMemory(), Session: newLoggedInSession(), Items: source, Views: source}},
		{"no session", Deps{Storage: storage.NewMemory(), Bus: newTestBus(t), Items: source, Views: source}},
		{"no sources", Deps{Storage: storage.NewMemory(), Bus: newTestBus(t), Session: newLoggedInSession()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s, err := New(tt.deps); err == nil {
				s.Close()
				t.Error("New() error = nil")
			}
		})
	}
}

func TestNewFailsOnClosedBus(t *testing.T) {
	b := newTestBus(t)
	_ = b.Close()
	source := newFakeSource()

	_, err := New(Deps{Storage: storage.NewMemory(), Bus: b, Session: newLoggedInSession(), Items: source, Views: source})
	if err == nil {
		t.Fatal("New() on a closed bus error = nil")
	}
}

func TestDefaultInstance(t *testing.T) {
	s, _ := newTestStores(t, &manualClock{})

	SetDefault(s)
	if Default() != s {
		t.Fatal("Default() did not return the published stores")
	}

	other, _ := newTestStores(t, &manualClock{})
	other.Close()
	if Default() != s {
		t.Error("closing another instance cleared the default")
	}

	s.Close()
	if Default() != nil {
		t.Error("Default() still set after Close")
	}
}

func TestRefreshProgressLifecycle(t *testing.T) {
	clock := &manualClock{}
	s, deps := newTestStores(t, clock)
	b := deps.Bus.(*bus.Bus)

	if err := s.Tasks.StartTask(RunningTask{Type: TaskLibraryRefresh, ID: "lib1", Data: "Movies"}); err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}

	publish(t, b, `{"MessageType":"RefreshProgress","Data":{"ItemId":"lib1","Progress":"45"}}`)
	task, ok := s.Tasks.GetTask("lib1")
	if !ok || *task.Progress != 45 {
		t.Fatalf("after 45: %+v, %v", task, ok)
	}

	publish(t, b, `{"MessageType":"RefreshProgress","Data":{"ItemId":"lib1","Progress":100}}`)
	clock.Advance(DefaultFinishedTimeout - time.Millisecond)
	if task, _ := s.Tasks.GetTask("lib1"); task.Progress == nil || *task.Progress != 100 {
		t.Fatalf("before eviction: %+v", task)
	}
	clock.Advance(time.Millisecond)
	if _, ok := s.Tasks.GetTask("lib1"); ok {
		t.Error("finished task not evicted")
	}
}

func TestLogoutResetsEveryStore(t *testing.T) {
	s, deps := newTestStores(t, &manualClock{})
	source := deps.Views.(*fakeSource)
	source.views = []jellyfin.Item{{ID: "L1"}}
	mem := deps.Storage.(*storage.Memory)

	_ = s.Tasks.StartTask(RunningTask{ID: "t1"})
	s.Items.Add(jellyfin.Item{ID: "A"})
	_ = s.Libraries.Refresh(context.Background())
	s.PlayerElement.SetPiPMounted(true)

	deps.Session.(*auth.Session).Logout()

	if len(s.Tasks.Tasks()) != 0 || s.Items.Len() != 0 || s.Libraries.IsReady() || s.PlayerElement.State().IsPiPMounted {
		t.Fatal("a store kept state across logout")
	}

	for key, want := range map[string]string{
		tasksKey:     `{"tasks":[],"finishedTasksTimeout":5000}`,
		librariesKey: `{"views":[],"isReady":false}`,
	} {
		raw, err := mem.Get(key)
		if err != nil {
			t.Fatalf("storage.Get(%s) error = %v", key, err)
		}
		if string(raw) != want {
			t.Errorf("stored %s = %s, want %s", key, raw, want)
		}
	}
}
