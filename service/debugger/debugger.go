package debugger

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-delve/sdb/pkg/coro"
	"github.com/go-delve/sdb/pkg/logflags"
	"github.com/go-delve/sdb/service/api"
)

const (
	// DefaultPollInterval is how often waits check whether a task stopped.
	DefaultPollInterval = 10 * time.Millisecond
	// DefaultWaitTimeout bounds attach and step waits.
	DefaultWaitTimeout = 60 * time.Second
)

// Registry is the set of live tasks the debugger controls.
// *coro.Scheduler implements it.
type Registry interface {
	Go(ctx context.Context, name string, fn coro.TaskFunc) *coro.Task
	Get(id int64) (*coro.Task, bool)
	All() []*coro.Task
	KillAll(except ...*coro.Task) int
	SetHook(h coro.Hook)
	Hook() coro.Hook
}

// Debugger service.
//
// Debugger is the shared debug target of every console session: the
// breakpoint list and the per-task debug contexts are process wide.
// Operations from different sessions on the same task are not arbitrated.
type Debugger struct {
	config   *Config
	registry Registry
	contexts *contextStore
	bps      *breakpoints
	log      logflags.Logger
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// WaitTimeout bounds how long attach, next and step wait for the task
	// to stop. Zero means no bound.
	WaitTimeout time.Duration

	// PollInterval is the period at which waits check the debug context.
	PollInterval time.Duration

	// LoadConfig limits how values are rendered by print, exec and vars.
	LoadConfig api.LoadConfig
}

// New creates a new Debugger controlling the tasks of registry and installs
// its hook in it.
func New(registry Registry, config *Config) *Debugger {
	if config == nil {
		config = &Config{WaitTimeout: DefaultWaitTimeout}
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LoadConfig == (api.LoadConfig{}) {
		config.LoadConfig = api.DefaultLoadConfig
	}
	bps := &breakpoints{}
	d := &Debugger{
		config:   config,
		registry: registry,
		contexts: newContextStore(bps),
		bps:      bps,
		log:      logflags.DebuggerLogger(),
	}
	registry.SetHook(d.contexts)
	return d
}

// Registry returns the task registry controlled by the debugger.
func (d *Debugger) Registry() Registry {
	return d.registry
}

// LoadConfig returns the configuration used to render values.
func (d *Debugger) LoadConfig() api.LoadConfig {
	return d.config.LoadConfig
}

// Detach removes the debugger hook and resumes every stopped task.
func (d *Debugger) Detach() {
	if d.registry.Hook() == coro.Hook(d.contexts) {
		d.registry.SetHook(nil)
	}
	for _, st := range d.contexts.states() {
		c, ok := d.contexts.lookup(st.ID)
		if !ok {
			continue
		}
		c.clearStop()
		if t := c.task.Value(); t != nil && st.Stopped {
			t.Resume()
		}
	}
	d.log.Debugf("detached")
}

// FindTask returns the live task whose id is arg.
func (d *Debugger) FindTask(arg string) (*coro.Task, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return nil, Errorf(ErrInvalidArgument, "Argument[1]: Coroutine id must be numeric")
	}
	t, ok := d.registry.Get(id)
	if !ok {
		return nil, Errorf(ErrTaskNotFound, "Coroutine#%s Not found", arg)
	}
	return t, nil
}

// State returns the debug state of the task with the given id.
func (d *Debugger) State(id int64) ContextState {
	c, ok := d.contexts.lookup(id)
	if !ok {
		return ContextState{ID: id}
	}
	_, stopped, requested := c.snapshot()
	return ContextState{ID: id, StopRequested: requested, Stopped: stopped}
}

// States returns the debug state of every task that has one.
func (d *Debugger) States() []ContextState {
	return d.contexts.states()
}

// Attach asks t to stop at its next checkpoint and waits until it does.
// caller is the task of the requesting session, it can not attach to
// itself.
func (d *Debugger) Attach(ctx context.Context, caller, t *coro.Task) error {
	if d.registry.Hook() != coro.Hook(d.contexts) {
		return Errorf(ErrHookConflict, "Break point handler has been replaced, attach is not available")
	}
	if t == caller {
		return Errorf(ErrSelfAttach, "Attach debugger is not allowed")
	}
	c := d.contexts.get(t)
	gen, stopped := c.requestStop()
	d.log.WithField("task", t.ID()).Debugf("stop requested")
	if stopped {
		return nil
	}
	return d.wait(ctx, caller, t, c, gen)
}

// Next resumes t and waits until it stops again in the same frame or in
// one of its callers.
func (d *Debugger) Next(ctx context.Context, caller, t *coro.Task) error {
	return d.step(ctx, caller, t, true)
}

// Step resumes t and waits until it stops at its next checkpoint.
func (d *Debugger) Step(ctx context.Context, caller, t *coro.Task) error {
	return d.step(ctx, caller, t, false)
}

func (d *Debugger) step(ctx context.Context, caller, t *coro.Task, over bool) error {
	c, err := d.ensureStopped(ctx, caller, t)
	if err != nil {
		return err
	}
	depth := math.MaxInt
	if over {
		depth = t.Depth()
	}
	gen := c.prepareStep(depth)
	if err := t.Resume(); err != nil {
		return Errorf(ErrNotStopped, "Coroutine#%d is not stopped", t.ID())
	}
	return d.wait(ctx, caller, t, c, gen)
}

// Continue lets t run until it hits a breakpoint or is attached again.
func (d *Debugger) Continue(ctx context.Context, caller, t *coro.Task) error {
	c, err := d.ensureStopped(ctx, caller, t)
	if err != nil {
		return err
	}
	c.clearStop()
	t.Resume()
	d.log.WithField("task", t.ID()).Debugf("continued")
	return nil
}

// ensureStopped returns the debug context of t once t is stopped. If t was
// asked to stop but did not yet, it waits.
func (d *Debugger) ensureStopped(ctx context.Context, caller, t *coro.Task) (*DebugContext, error) {
	c, ok := d.contexts.lookup(t.ID())
	if !ok {
		return nil, Errorf(ErrNotInDebugging, "Not in debugging")
	}
	gen, stopped, requested := c.snapshot()
	if stopped {
		return c, nil
	}
	if !requested {
		return nil, Errorf(ErrNotInDebugging, "Not in debugging")
	}
	return c, d.wait(ctx, caller, t, c, gen)
}

// wait blocks until the stop generation of c moves past gen. The wait
// counts as a blocking operation of caller.
func (d *Debugger) wait(ctx context.Context, caller, t *coro.Task, c *DebugContext, gen uint64) error {
	fn := func() error { return d.waitStop(ctx, t, c, gen) }
	if caller != nil {
		return caller.Block(fn)
	}
	return fn()
}

func (d *Debugger) waitStop(ctx context.Context, t *coro.Task, c *DebugContext, gen uint64) error {
	var deadline <-chan time.Time
	if d.config.WaitTimeout > 0 {
		timer := time.NewTimer(d.config.WaitTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()
	for {
		if c.stoppedSince(gen) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-t.Done():
			return Errorf(ErrTaskExited, "Coroutine#%d exited", t.ID())
		case <-deadline:
			return Errorf(ErrWaitTimeout, "Coroutine#%d did not stop within %v", t.ID(), d.config.WaitTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AddBreakpoint appends loc to the global breakpoint list.
func (d *Debugger) AddBreakpoint(loc string) error {
	if loc == "" {
		return Errorf(ErrInvalidArgument, "Invalid break point")
	}
	d.bps.add(loc)
	d.log.Debugf("added break-point %s", loc)
	return nil
}

// Breakpoints returns the global breakpoint list.
func (d *Debugger) Breakpoints() []string {
	return d.bps.list()
}

// Kill kills the tasks listed in args and reports one outcome per argument.
// A bad argument does not prevent the others from being processed.
func (d *Debugger) Kill(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, Errorf(ErrInvalidArgument, "Required coroutine id")
	}
	out := make([]string, 0, len(args))
	for i, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			out = append(out, fmt.Sprintf("Argument[%d] '%s' is not numeric", i+1, arg))
			continue
		}
		t, ok := d.registry.Get(id)
		if !ok {
			out = append(out, fmt.Sprintf("Coroutine#%s not exists", arg))
			continue
		}
		t.Kill()
		d.log.WithField("task", id).Debugf("killed")
		out = append(out, fmt.Sprintf("Coroutine#%s killed", arg))
	}
	return out, nil
}

// KillAll kills every task except caller and returns how many were killed.
func (d *Debugger) KillAll(caller *coro.Task) int {
	if caller != nil {
		return d.registry.KillAll(caller)
	}
	return d.registry.KillAll()
}
