// Package coro implements a cooperative task runtime.
//
// Tasks are goroutines that pass through explicit suspension points
// (Checkpoint, Yield, Sleep, Block). At a Checkpoint the scheduler's Hook
// decides whether the task parks. A parked task can be resumed, killed or
// asked to run a function on its own goroutine. A task that never reaches a
// suspension point can not be stopped or preempted.
package coro

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-delve/sdb/pkg/logflags"
)

// Hook is notified by tasks at their suspension points.
// ShouldStop, OnStop and OnResume are called on the task's goroutine.
type Hook interface {
	ShouldStop(t *Task) bool
	OnStop(t *Task)
	OnResume(t *Task)
	OnExit(t *Task)
}

// Scheduler keeps track of the live tasks.
type Scheduler struct {
	mu     sync.RWMutex
	tasks  map[int64]*Task
	nextID int64

	hookMu sync.RWMutex
	hook   Hook

	log logflags.Logger
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		tasks: make(map[int64]*Task),
		log:   logflags.CoroLogger(),
	}
}

// Go starts fn as a new task. Ids are allocated monotonically from 1.
func (s *Scheduler) Go(ctx context.Context, name string, fn TaskFunc) *Task {
	t := &Task{
		name:     name,
		sched:    s,
		created:  time.Now(),
		done:     make(chan struct{}),
		resumeCh: make(chan struct{}, 1),
		callCh:   make(chan *call),
	}
	t.ctx, t.cancel = context.WithCancel(WithTask(ctx, t))
	s.mu.Lock()
	s.nextID++
	t.id = s.nextID
	s.tasks[t.id] = t
	s.mu.Unlock()

	s.log.WithField("task", t.id).Debugf("starting task %q", name)
	go t.run(fn)
	return t
}

// Get returns the live task with the given id.
func (s *Scheduler) Get(id int64) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// All returns the live tasks sorted by id.
func (s *Scheduler) All() []*Task {
	s.mu.RLock()
	r := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		r = append(r, t)
	}
	s.mu.RUnlock()
	sort.Slice(r, func(i, j int) bool { return r[i].id < r[j].id })
	return r
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// KillAll kills every live task except the ones listed and returns how many
// were killed.
func (s *Scheduler) KillAll(except ...*Task) int {
	n := 0
	for _, t := range s.All() {
		skip := false
		for _, e := range except {
			if e == t {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		t.Kill()
		n++
	}
	return n
}

// SetHook installs h, replacing the previous hook. A nil hook disables
// stopping.
func (s *Scheduler) SetHook(h Hook) {
	s.hookMu.Lock()
	s.hook = h
	s.hookMu.Unlock()
}

// Hook returns the installed hook.
func (s *Scheduler) Hook() Hook {
	s.hookMu.RLock()
	defer s.hookMu.RUnlock()
	return s.hook
}

func (s *Scheduler) remove(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	s.mu.Unlock()
}

type taskKey struct{}

// WithTask returns a copy of ctx carrying t.
func WithTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskKey{}, t)
}

// FromContext returns the task carried by ctx, or nil.
func FromContext(ctx context.Context) *Task {
	t, _ := ctx.Value(taskKey{}).(*Task)
	return t
}
