package debugger

import (
	"math"
	"sort"
	"sync"
	"weak"

	"github.com/go-delve/sdb/pkg/coro"
	"github.com/go-delve/sdb/pkg/logflags"
)

// DebugContext is the debugger state attached to one task.
type DebugContext struct {
	id   int64
	task weak.Pointer[coro.Task]

	mu            sync.Mutex
	stopRequested bool
	stopped       bool
	generation    uint64 // incremented every time the task parks
	stepDepth     int    // the task only stops at depth <= stepDepth
}

// ContextState is a snapshot of a DebugContext.
type ContextState struct {
	ID            int64
	StopRequested bool
	Stopped       bool
}

func (c *DebugContext) snapshot() (gen uint64, stopped, requested bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, c.stopped, c.stopRequested
}

// requestStop sets stopRequested and returns the current stop generation.
func (c *DebugContext) requestStop() (gen uint64, stopped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopRequested {
		c.stepDepth = math.MaxInt
	}
	c.stopRequested = true
	return c.generation, c.stopped
}

// prepareStep limits the next stop to frames at depth <= depth.
func (c *DebugContext) prepareStep(depth int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRequested = true
	c.stepDepth = depth
	return c.generation
}

func (c *DebugContext) clearStop() {
	c.mu.Lock()
	c.stopRequested = false
	c.stepDepth = math.MaxInt
	c.mu.Unlock()
}

func (c *DebugContext) stoppedSince(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped && c.generation > gen
}

// contextStore keeps one DebugContext per task. It holds tasks through weak
// pointers only, entries are dropped when the task exits or is collected.
// It implements coro.Hook.
type contextStore struct {
	mu       sync.Mutex
	contexts map[int64]*DebugContext
	bps      *breakpoints
	log      logflags.Logger
}

func newContextStore(bps *breakpoints) *contextStore {
	return &contextStore{
		contexts: make(map[int64]*DebugContext),
		bps:      bps,
		log:      logflags.DebuggerLogger(),
	}
}

// get returns the context of t, creating it if needed.
func (s *contextStore) get(t *coro.Task) *DebugContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	c, ok := s.contexts[t.ID()]
	if !ok {
		c = &DebugContext{id: t.ID(), task: weak.Make(t), stepDepth: math.MaxInt}
		s.contexts[t.ID()] = c
	}
	return c
}

func (s *contextStore) lookup(id int64) (*DebugContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[id]
	return c, ok
}

// reapLocked drops the contexts of tasks that exited or were collected.
func (s *contextStore) reapLocked() {
	for id, c := range s.contexts {
		if t := c.task.Value(); t == nil || t.Exited() {
			delete(s.contexts, id)
		}
	}
}

func (s *contextStore) states() []ContextState {
	s.mu.Lock()
	s.reapLocked()
	cs := make([]*DebugContext, 0, len(s.contexts))
	for _, c := range s.contexts {
		cs = append(cs, c)
	}
	s.mu.Unlock()
	r := make([]ContextState, 0, len(cs))
	for _, c := range cs {
		_, stopped, requested := c.snapshot()
		r = append(r, ContextState{ID: c.id, StopRequested: requested, Stopped: stopped})
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

// ShouldStop is called by every task at its checkpoints.
func (s *contextStore) ShouldStop(t *coro.Task) bool {
	if c, ok := s.lookup(t.ID()); ok {
		c.mu.Lock()
		requested, limit := c.stopRequested, c.stepDepth
		c.mu.Unlock()
		if requested && t.Depth() <= limit {
			return true
		}
	}
	if s.bps.empty() {
		return false
	}
	stack := t.Stack()
	if len(stack) == 0 {
		return false
	}
	loc, ok := s.bps.match(stack[0])
	if !ok {
		return false
	}
	s.log.WithField("task", t.ID()).Debugf("hit break-point %s at %s:%d", loc, stack[0].File, stack[0].Line)
	c := s.get(t)
	c.mu.Lock()
	c.stopRequested = true
	c.stepDepth = math.MaxInt
	c.mu.Unlock()
	return true
}

func (s *contextStore) OnStop(t *coro.Task) {
	c := s.get(t)
	c.mu.Lock()
	c.stopped = true
	c.generation++
	c.stepDepth = math.MaxInt
	c.mu.Unlock()
	s.log.WithField("task", t.ID()).Debugf("stopped")
}

func (s *contextStore) OnResume(t *coro.Task) {
	if c, ok := s.lookup(t.ID()); ok {
		c.mu.Lock()
		c.stopped = false
		c.mu.Unlock()
	}
	s.log.WithField("task", t.ID()).Debugf("resumed")
}

func (s *contextStore) OnExit(t *coro.Task) {
	s.mu.Lock()
	delete(s.contexts, t.ID())
	s.mu.Unlock()
}
