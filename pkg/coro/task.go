package coro

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the scheduling state of a task.
type Status uint32

const (
	StatusRunnable Status = iota
	StatusRunning
	StatusWaiting
	StatusStopped
	StatusDead
)

var statusStrings = [...]string{
	StatusRunnable: "runnable",
	StatusRunning:  "running",
	StatusWaiting:  "waiting",
	StatusStopped:  "stopped",
	StatusDead:     "dead",
}

func (s Status) String() string {
	if int(s) < len(statusStrings) {
		return statusStrings[s]
	}
	return fmt.Sprintf("Status(%d)", uint32(s))
}

var (
	// ErrKilled is returned by suspension points of a task that was killed.
	ErrKilled = errors.New("task killed")
	// ErrNotStopped is returned when an operation requires a parked task.
	ErrNotStopped = errors.New("task is not stopped")
	// ErrTaskExited is returned when the task finished while the caller
	// was waiting on it.
	ErrTaskExited = errors.New("task exited")
)

// maxStackDepth is the maximum number of frames captured at a
// suspension point.
const maxStackDepth = 64

// Var is a named value bound to a frame with Checkpoint.
type Var struct {
	Name  string
	Value interface{}
}

// V is a shorthand for Var{name, value}.
func V(name string, value interface{}) Var {
	return Var{Name: name, Value: value}
}

// Frame is one activation record of a task, innermost first.
type Frame struct {
	Function string
	File     string
	Line     int
	PC       uintptr
	Vars     []Var
}

// ShortName returns the function name without the import path of its
// package.
func (f Frame) ShortName() string {
	name := f.Function
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// TaskFunc is the body of a task. The context carries the task itself
// (see FromContext) and is cancelled when the task is killed.
type TaskFunc func(ctx context.Context, t *Task) error

type bindKey struct {
	depth    int // frame position counted from the outermost frame
	function string
}

type call struct {
	fn   func()
	err  error
	done chan struct{}
}

func (c *call) run() {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("panic: %v", r)
		}
	}()
	c.fn()
}

// Task is a cooperatively scheduled unit of execution. A task can only be
// stopped, resumed or killed at its suspension points: Checkpoint, Yield,
// Sleep and Block.
type Task struct {
	id      int64
	name    string
	sched   *Scheduler
	created time.Time

	status   atomic.Uint32
	switches atomic.Uint64
	killed   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	mu       sync.Mutex
	frames   []Frame
	bindings map[bindKey][]Var

	resumeCh chan struct{}
	callCh   chan *call
}

// ID returns the numeric identifier of the task.
func (t *Task) ID() int64 { return t.id }

// Name returns the name the task was started with.
func (t *Task) Name() string { return t.name }

// Created returns the time the task was started.
func (t *Task) Created() time.Time { return t.created }

// Status returns the current scheduling state.
func (t *Task) Status() Status { return Status(t.status.Load()) }

// Switches returns the progress counter of the task. It increases every
// time the task passes a suspension point.
func (t *Task) Switches() uint64 { return t.switches.Load() }

// Done is closed when the task has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Exited reports whether the task has finished.
func (t *Task) Exited() bool { return t.Status() == StatusDead }

// Killed reports whether Kill was called on the task.
func (t *Task) Killed() bool { return t.killed.Load() }

// Err returns the error the task finished with. It is only meaningful
// after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Task) String() string {
	return fmt.Sprintf("Coroutine#%d", t.id)
}

// Stack returns the frames captured at the last suspension point,
// innermost first.
func (t *Task) Stack() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := make([]Frame, len(t.frames))
	copy(r, t.frames)
	return r
}

// Depth returns the number of frames captured at the last suspension point.
// Frames of this package and of the Go runtime are not counted.
func (t *Task) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

// Checkpoint is a suspension point. It captures the stack of the task, binds
// vars to the calling frame and, if the scheduler hook asks for it, parks
// the task until it is resumed or killed.
// Checkpoint must be called from the task's own goroutine.
func (t *Task) Checkpoint(vars ...Var) error {
	if t.killed.Load() {
		return ErrKilled
	}
	t.switches.Add(1)
	t.capture(vars)
	h := t.sched.Hook()
	if h == nil || !h.ShouldStop(t) {
		return nil
	}
	return t.park(h)
}

// Yield is a Checkpoint without variables.
func (t *Task) Yield() error {
	return t.Checkpoint()
}

// Sleep pauses the task for d. The task is never parked by the debugger
// while sleeping.
func (t *Task) Sleep(d time.Duration) error {
	return t.Block(func() error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-t.ctx.Done():
			return ErrKilled
		}
	})
}

// Block runs fn, which is expected to block (on I/O, a channel, ...), and
// accounts it as a switch out of and back into the task.
func (t *Task) Block(fn func() error) error {
	if t.killed.Load() {
		return ErrKilled
	}
	t.switches.Add(1)
	t.status.Store(uint32(StatusWaiting))
	defer func() {
		t.status.CompareAndSwap(uint32(StatusWaiting), uint32(StatusRunning))
		t.switches.Add(1)
	}()
	return fn()
}

// Resume wakes up a parked task.
func (t *Task) Resume() error {
	if t.Status() != StatusStopped {
		return ErrNotStopped
	}
	select {
	case t.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Call runs fn on the goroutine of a parked task and waits for it to
// return. The task stays parked.
func (t *Task) Call(ctx context.Context, fn func()) error {
	if t.Status() != StatusStopped {
		return ErrNotStopped
	}
	c := &call{fn: fn, done: make(chan struct{})}
	select {
	case t.callCh <- c:
	case <-t.done:
		return ErrTaskExited
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill asks the task to terminate. A parked task wakes up immediately, a
// running task observes the request at its next suspension point or through
// its context.
func (t *Task) Kill() {
	if t.killed.Swap(true) {
		return
	}
	t.cancel()
}

func (t *Task) park(h Hook) error {
	select {
	case <-t.resumeCh:
	default:
	}
	t.status.Store(uint32(StatusStopped))
	h.OnStop(t)
	defer func() {
		t.status.Store(uint32(StatusRunning))
		t.switches.Add(1)
		h.OnResume(t)
	}()
	for {
		select {
		case <-t.resumeCh:
			return nil
		case c := <-t.callCh:
			c.run()
		case <-t.ctx.Done():
			return ErrKilled
		}
	}
}

func (t *Task) run(fn TaskFunc) {
	t.status.Store(uint32(StatusRunning))
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("panic: %v", r)
			t.sched.log.WithField("task", t.id).Errorf("task %q panicked: %v", t.name, r)
		}
		t.status.Store(uint32(StatusDead))
		t.cancel()
		t.sched.remove(t)
		if h := t.sched.Hook(); h != nil {
			h.OnExit(t)
		}
		t.sched.log.WithField("task", t.id).Debugf("task %q exited", t.name)
		close(t.done)
	}()
	t.err = fn(t.ctx, t)
}

var pkgPrefix = func() string {
	name := runtime.FuncForPC(reflect.ValueOf(V).Pointer()).Name()
	return name[:strings.LastIndex(name, ".")+1]
}()

// capture records the stack of the calling goroutine, skipping frames of
// this package and of the Go runtime.
func (t *Task) capture(vars []Var) {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2, pcs)
	it := runtime.CallersFrames(pcs[:n])
	var frames []Frame
	for {
		f, more := it.Next()
		switch {
		case strings.HasPrefix(f.Function, "runtime."), strings.HasPrefix(f.Function, pkgPrefix):
		default:
			frames = append(frames, Frame{Function: f.Function, File: f.File, Line: f.Line, PC: f.PC})
		}
		if !more {
			break
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bindings == nil {
		t.bindings = make(map[bindKey][]Var)
	}
	for k := range t.bindings {
		if k.depth >= len(frames) || frames[len(frames)-1-k.depth].Function != k.function {
			delete(t.bindings, k)
		}
	}
	if len(vars) > 0 && len(frames) > 0 {
		k := bindKey{depth: len(frames) - 1, function: frames[0].Function}
		t.bindings[k] = mergeVars(t.bindings[k], vars)
	}
	for i := range frames {
		frames[i].Vars = t.bindings[bindKey{depth: len(frames) - 1 - i, function: frames[i].Function}]
	}
	t.frames = frames
}

// mergeVars returns a new slice with the values of vars replacing the
// bindings with the same name in old.
func mergeVars(old, vars []Var) []Var {
	r := make([]Var, len(old), len(old)+len(vars))
	copy(r, old)
outer:
	for _, v := range vars {
		for i := range r {
			if r[i].Name == v.Name {
				r[i] = v
				continue outer
			}
		}
		r = append(r, v)
	}
	return r
}
