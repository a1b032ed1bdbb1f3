// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/metrics"
	"github.com/tomtom215/jellysync/internal/persist"
	"github.com/tomtom215/jellysync/internal/socket"
	"github.com/tomtom215/jellysync/internal/storage"
	"github.com/tomtom215/jellysync/internal/validation"
)

const tasksKey = "taskManager"

// DefaultFinishedTimeout is how long a finished task stays listed.
const DefaultFinishedTimeout = 5 * time.Second

// ErrInvalidTask wraps the validation error of a rejected task.
var ErrInvalidTask = errors.New("invalid task")

// TaskType tells the UI what a task is doing.
type TaskType int

const (
	// TaskConfigSync tracks a settings upload. Start it with StartConfigSync.
	TaskConfigSync TaskType = 1
	// TaskLibraryRefresh tracks a library scan. ID is the library item id and
	// Data its name.
	TaskLibraryRefresh TaskType = 2
)

// String returns the metric label of t.
func (t TaskType) String() string {
	switch t {
	case TaskConfigSync:
		return "config_sync"
	case TaskLibraryRefresh:
		return "library_refresh"
	default:
		return fmt.Sprintf("task_type(%d)", int(t))
	}
}

// RunningTask is one tracked server-side operation.
type RunningTask struct {
	Type     TaskType `json:"type"`
	ID       string   `json:"id" validate:"required"`
	Data     string   `json:"data,omitempty"`
	Progress *float64 `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
}

func (t RunningTask) clone() RunningTask {
	if t.Progress != nil {
		p := *t.Progress
		t.Progress = &p
	}
	return t
}

// TaskManagerState is the persisted state of the registry.
type TaskManagerState struct {
	Tasks []RunningTask `json:"tasks"`

	// FinishedTasksTimeout is in milliseconds.
	FinishedTasksTimeout int64 `json:"finishedTasksTimeout"`
}

// TaskRegistryConfig configures a TaskRegistry.
type TaskRegistryConfig struct {
	// FinishedTimeout is the default eviction delay. Zero or negative
	// removes finished tasks immediately.
	FinishedTimeout time.Duration
	Clock           Clock
}

// TaskRegistry tracks running tasks in display order.
//
// Every applied start, update or finish gives the task a new generation. An
// eviction scheduled by FinishTask only removes the task if its generation
// is still the one captured when it was scheduled, so restarting a finished
// task keeps it alive.
type TaskRegistry struct {
	mu          sync.Mutex
	cell        *persist.Cell[TaskManagerState]
	clock       Clock
	generations map[string]uint64
	nextGen     uint64
	evictions   map[string]func() bool
	closed      bool

	unsubscribe []func()
	log         zerolog.Logger
}

// NewTaskRegistry loads the registry from s and subscribes to RefreshProgress
// messages and session changes.
func NewTaskRegistry(cfg TaskRegistryConfig, s storage.Storage, b Subscriber, session Session) (*TaskRegistry, error) {
	timeout := cfg.FinishedTimeout
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}

	defaults := func() TaskManagerState {
		return TaskManagerState{
			Tasks:                []RunningTask{},
			FinishedTasksTimeout: timeout.Milliseconds(),
		}
	}

	r := &TaskRegistry{
		cell:        persist.NewCell(s, tasksKey, defaults),
		clock:       cfg.Clock,
		generations: make(map[string]uint64),
		evictions:   make(map[string]func() bool),
		log:         logging.WithComponent("tasks"),
	}
	if err := r.cell.Load(); err != nil {
		r.log.Warn().Err(err).Msg("[tasks] failed to persist loaded state")
	}

	r.mu.Lock()
	r.dropInvalidLocked()
	r.resumeEvictionsLocked()
	r.mu.Unlock()

	unsubscribe, err := b.Subscribe("tasks", r.handleMessage)
	if err != nil {
		return nil, err
	}
	r.unsubscribe = append(r.unsubscribe, unsubscribe, onSessionEnd(session, r.reset))
	return r, nil
}

// dropInvalidLocked removes stored tasks that fail validation and repeated
// ids, keeping the first occurrence, and persists the result if anything was
// dropped.
func (r *TaskRegistry) dropInvalidLocked() {
	tasks := r.cell.Get().Tasks
	kept := make([]RunningTask, 0, len(tasks))
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if err := validateTask(t); err != nil {
			r.log.Warn().Err(err).Str("task_id", t.ID).Msg("[tasks] dropping invalid stored task")
			continue
		}
		if _, dup := seen[t.ID]; dup {
			r.log.Warn().Str("task_id", t.ID).Msg("[tasks] dropping duplicate stored task")
			continue
		}
		seen[t.ID] = struct{}{}
		kept = append(kept, t)
	}
	if len(kept) == len(tasks) {
		return
	}
	r.persistLocked(func(st *TaskManagerState) {
		st.Tasks = kept
	})
}

// resumeEvictionsLocked schedules eviction of tasks persisted as finished,
// whose timers did not survive the reload.
func (r *TaskRegistry) resumeEvictionsLocked() {
	for _, t := range r.cell.Get().Tasks {
		r.bumpLocked(t.ID)
		if t.Progress != nil && *t.Progress >= 100 {
			r.scheduleEvictionLocked(t.ID)
		}
	}
	metrics.TasksActive.Set(float64(len(r.cell.Get().Tasks)))
}

func validateTask(task RunningTask) error {
	if verr := validation.ValidateStruct(&task); verr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, verr)
	}
	return nil
}

// StartTask appends task, or replaces the task with the same id in place.
func (r *TaskRegistry) StartTask(task RunningTask) error {
	if err := validateTask(task); err != nil {
		return err
	}
	task = task.clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(task.ID) >= 0 {
		r.replaceLocked(task)
		return nil
	}

	r.bumpLocked(task.ID)
	r.persistLocked(func(st *TaskManagerState) {
		st.Tasks = append(st.Tasks, task)
	})
	metrics.TasksStarted.WithLabelValues(task.Type.String()).Inc()
	r.log.Debug().Str("task_id", task.ID).Stringer("type", task.Type).Msg("[tasks] task started")
	return nil
}

// UpdateTask replaces the task with the same id in place. Unknown ids are ignored.
func (r *TaskRegistry) UpdateTask(task RunningTask) error {
	if err := validateTask(task); err != nil {
		return err
	}
	task = task.clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaceLocked(task)
	return nil
}

func (r *TaskRegistry) replaceLocked(task RunningTask) {
	idx := r.indexLocked(task.ID)
	if idx < 0 {
		return
	}
	r.bumpLocked(task.ID)
	r.persistLocked(func(st *TaskManagerState) {
		st.Tasks[idx] = task
	})
}

// FinishTask marks the task complete and removes it after the finished
// timeout, or right away when the timeout is not positive.
func (r *TaskRegistry) FinishTask(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked(id)
}

func (r *TaskRegistry) finishLocked(id string) {
	idx := r.indexLocked(id)
	if idx < 0 {
		return
	}
	metrics.TasksFinished.Inc()

	if r.cell.Get().FinishedTasksTimeout <= 0 {
		r.removeLocked(id)
		return
	}

	r.bumpLocked(id)
	r.persistLocked(func(st *TaskManagerState) {
		done := 100.0
		st.Tasks[idx].Progress = &done
	})
	r.scheduleEvictionLocked(id)
}

func (r *TaskRegistry) scheduleEvictionLocked(id string) {
	if r.closed {
		return
	}
	gen := r.generations[id]
	delay := time.Duration(r.cell.Get().FinishedTasksTimeout) * time.Millisecond

	if stop, ok := r.evictions[id]; ok {
		stop()
	}
	r.evictions[id] = r.clock.AfterFunc(delay, func() {
		r.evict(id, gen)
	})
}

func (r *TaskRegistry) evict(id string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.generations[id] != gen {
		r.log.Debug().Str("task_id", id).Msg("[tasks] stale eviction skipped")
		return
	}
	if r.indexLocked(id) < 0 {
		return
	}
	r.removeLocked(id)
	metrics.TasksEvicted.Inc()
}

func (r *TaskRegistry) removeLocked(id string) {
	idx := r.indexLocked(id)
	if idx < 0 {
		return
	}
	delete(r.generations, id)
	if stop, ok := r.evictions[id]; ok {
		stop()
		delete(r.evictions, id)
	}
	r.persistLocked(func(st *TaskManagerState) {
		st.Tasks = append(st.Tasks[:idx:idx], st.Tasks[idx+1:]...)
	})
	r.log.Debug().Str("task_id", id).Msg("[tasks] task removed")
}

// StartConfigSync registers a ConfigSync task under a fresh id and returns it.
func (r *TaskRegistry) StartConfigSync() string {
	id := uuid.NewString()
	// A generated id always validates.
	_ = r.StartTask(RunningTask{Type: TaskConfigSync, ID: id})
	return id
}

// GetTask returns a copy of the task with the given id.
func (r *TaskRegistry) GetTask(id string) (RunningTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return RunningTask{}, false
	}
	return r.cell.Get().Tasks[idx].clone(), true
}

// Tasks returns a copy of the tasks in display order.
func (r *TaskRegistry) Tasks() []RunningTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks := r.cell.Get().Tasks
	out := make([]RunningTask, len(tasks))
	for i, t := range tasks {
		out[i] = t.clone()
	}
	return out
}

// FinishedTimeout returns the current eviction delay.
func (r *TaskRegistry) FinishedTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.cell.Get().FinishedTasksTimeout) * time.Millisecond
}

// SetFinishedTimeout changes the eviction delay of tasks finished from now on.
func (r *TaskRegistry) SetFinishedTimeout(ms int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistLocked(func(st *TaskManagerState) {
		st.FinishedTasksTimeout = ms
	})
}

// handleMessage applies RefreshProgress notifications to tasks the client started.
func (r *TaskRegistry) handleMessage(env *socket.Envelope) {
	if env.Kind != socket.KindRefreshProgress {
		return
	}
	p, ok := env.Payload.(socket.RefreshProgress)
	if !ok || p.ItemID == "" || !p.HasProgress {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(p.ItemID)
	if idx < 0 {
		return
	}

	switch {
	case p.Progress >= 0 && p.Progress < 100:
		progress := p.Progress
		r.replaceLocked(RunningTask{
			Type:     TaskLibraryRefresh,
			ID:       p.ItemID,
			Data:     r.cell.Get().Tasks[idx].Data,
			Progress: &progress,
		})
	case p.Progress >= 100:
		r.finishLocked(p.ItemID)
	}
}

func (r *TaskRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopEvictionsLocked()
	r.generations = make(map[string]uint64)
	if err := r.cell.Reset(); err != nil {
		r.log.Warn().Err(err).Msg("[tasks] failed to persist reset")
	}
	metrics.TasksActive.Set(0)
	r.log.Debug().Msg("[tasks] registry reset")
}

func (r *TaskRegistry) stopEvictionsLocked() {
	for id, stop := range r.evictions {
		stop()
		delete(r.evictions, id)
	}
}

// Close unsubscribes the registry and cancels pending evictions.
func (r *TaskRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.stopEvictionsLocked()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
}

func (r *TaskRegistry) indexLocked(id string) int {
	for i, t := range r.cell.Get().Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (r *TaskRegistry) bumpLocked(id string) {
	r.nextGen++
	r.generations[id] = r.nextGen
}

func (r *TaskRegistry) persistLocked(fn func(*TaskManagerState)) {
	if err := r.cell.Update(fn); err != nil {
		r.log.Warn().Err(err).Msg("[tasks] failed to persist state")
	}
	metrics.TasksActive.Set(float64(len(r.cell.Get().Tasks)))
}
