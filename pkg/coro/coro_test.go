package coro_test

import (
	"context"
	"errors"
	"flag"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-delve/sdb/pkg/coro"
	"github.com/go-delve/sdb/pkg/logflags"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	logflags.Setup(logConf != "", logConf, "")
	os.Exit(m.Run())
}

type stopHook struct {
	stop    atomic.Bool
	stopped chan *coro.Task
	exited  chan *coro.Task
}

func newStopHook(stop bool) *stopHook {
	h := &stopHook{stopped: make(chan *coro.Task, 16), exited: make(chan *coro.Task, 16)}
	h.stop.Store(stop)
	return h
}

func (h *stopHook) ShouldStop(t *coro.Task) bool { return h.stop.Load() }
func (h *stopHook) OnStop(t *coro.Task)          { h.stopped <- t }
func (h *stopHook) OnResume(t *coro.Task)        {}
func (h *stopHook) OnExit(t *coro.Task)          { h.exited <- t }

func waitStop(t *testing.T, h *stopHook) *coro.Task {
	t.Helper()
	select {
	case tk := <-h.stopped:
		return tk
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task to stop")
	}
	return nil
}

func waitDone(t *testing.T, tk *coro.Task) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %v to exit", tk)
	}
}

func TestTaskExit(t *testing.T) {
	s := coro.NewScheduler()
	h := newStopHook(false)
	s.SetHook(h)
	errBoom := errors.New("boom")
	tk := s.Go(context.Background(), "worker", func(ctx context.Context, t *coro.Task) error {
		return errBoom
	})
	if tk.ID() != 1 || tk.Name() != "worker" {
		t.Fatalf("unexpected task %d %q", tk.ID(), tk.Name())
	}
	waitDone(t, tk)
	if tk.Err() != errBoom {
		t.Fatalf("expected %v, got %v", errBoom, tk.Err())
	}
	if !tk.Exited() {
		t.Fatalf("status after exit %v", tk.Status())
	}
	if _, ok := s.Get(tk.ID()); ok {
		t.Fatal("exited task still registered")
	}
	if got := <-h.exited; got != tk {
		t.Fatalf("OnExit called with %v", got)
	}
	tk2 := s.Go(context.Background(), "worker", func(ctx context.Context, t *coro.Task) error { return nil })
	if tk2.ID() != 2 {
		t.Fatalf("ids must be monotonic, got %d", tk2.ID())
	}
	waitDone(t, tk2)
}

func TestTaskPanic(t *testing.T) {
	s := coro.NewScheduler()
	tk := s.Go(context.Background(), "panicky", func(ctx context.Context, t *coro.Task) error {
		panic("oops")
	})
	waitDone(t, tk)
	if tk.Err() == nil || !strings.Contains(tk.Err().Error(), "oops") {
		t.Fatalf("panic not recovered into Err: %v", tk.Err())
	}
	if s.Len() != 0 {
		t.Fatalf("expected no live tasks, got %d", s.Len())
	}
}

func TestFromContext(t *testing.T) {
	s := coro.NewScheduler()
	var seen *coro.Task
	tk := s.Go(context.Background(), "ctx", func(ctx context.Context, t *coro.Task) error {
		seen = coro.FromContext(ctx)
		return nil
	})
	waitDone(t, tk)
	if seen != tk {
		t.Fatalf("FromContext returned %v, want %v", seen, tk)
	}
	if coro.FromContext(context.Background()) != nil {
		t.Fatal("FromContext on a plain context must return nil")
	}
}

func TestParkResume(t *testing.T) {
	s := coro.NewScheduler()
	h := newStopHook(true)
	s.SetHook(h)
	var passed atomic.Int32
	tk := s.Go(context.Background(), "loop", func(ctx context.Context, t *coro.Task) error {
		for i := 0; i < 2; i++ {
			if err := t.Checkpoint(); err != nil {
				return err
			}
			passed.Add(1)
		}
		return nil
	})
	waitStop(t, h)
	if tk.Status() != coro.StatusStopped {
		t.Fatalf("expected stopped, got %v", tk.Status())
	}
	if passed.Load() != 0 {
		t.Fatal("task ran past a stopping checkpoint")
	}
	h.stop.Store(false)
	if err := tk.Resume(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, tk)
	if passed.Load() != 2 || tk.Err() != nil {
		t.Fatalf("passed=%d err=%v", passed.Load(), tk.Err())
	}
	if err := tk.Resume(); err != coro.ErrNotStopped {
		t.Fatalf("resume of exited task: %v", err)
	}
}

func TestKillParked(t *testing.T) {
	s := coro.NewScheduler()
	h := newStopHook(true)
	s.SetHook(h)
	tk := s.Go(context.Background(), "victim", func(ctx context.Context, t *coro.Task) error {
		return t.Checkpoint()
	})
	waitStop(t, h)
	tk.Kill()
	waitDone(t, tk)
	if tk.Err() != coro.ErrKilled {
		t.Fatalf("expected ErrKilled, got %v", tk.Err())
	}
}

func TestKillSleeping(t *testing.T) {
	s := coro.NewScheduler()
	started := make(chan struct{})
	tk := s.Go(context.Background(), "sleeper", func(ctx context.Context, t *coro.Task) error {
		close(started)
		return t.Sleep(time.Hour)
	})
	<-started
	tk.Kill()
	waitDone(t, tk)
	if tk.Err() != coro.ErrKilled {
		t.Fatalf("expected ErrKilled, got %v", tk.Err())
	}
}

func TestKillAll(t *testing.T) {
	s := coro.NewScheduler()
	var tasks []*coro.Task
	for i := 0; i < 3; i++ {
		tasks = append(tasks, s.Go(context.Background(), "sleeper", func(ctx context.Context, t *coro.Task) error {
			return t.Sleep(time.Hour)
		}))
	}
	if n := s.KillAll(tasks[0]); n != 2 {
		t.Fatalf("expected 2 kills, got %d", n)
	}
	waitDone(t, tasks[1])
	waitDone(t, tasks[2])
	if tasks[0].Killed() {
		t.Fatal("excluded task was killed")
	}
	all := s.All()
	if len(all) != 1 || all[0] != tasks[0] {
		t.Fatalf("unexpected live tasks %v", all)
	}
	tasks[0].Kill()
	waitDone(t, tasks[0])
}

func TestSwitches(t *testing.T) {
	s := coro.NewScheduler()
	release := make(chan struct{})
	tk := s.Go(context.Background(), "blocker", func(ctx context.Context, t *coro.Task) error {
		if err := t.Yield(); err != nil {
			return err
		}
		return t.Block(func() error {
			<-release
			return nil
		})
	})
	deadline := time.Now().Add(5 * time.Second)
	for tk.Status() != coro.StatusWaiting {
		if time.Now().After(deadline) {
			t.Fatal("task never blocked")
		}
		time.Sleep(time.Millisecond)
	}
	if sw := tk.Switches(); sw != 2 {
		t.Fatalf("expected 2 switches while blocked, got %d", sw)
	}
	close(release)
	waitDone(t, tk)
	if sw := tk.Switches(); sw != 3 {
		t.Fatalf("expected 3 switches after block, got %d", sw)
	}
}

func inner(t *coro.Task, x int) error {
	return t.Checkpoint(coro.V("x", x))
}

func outer(ctx context.Context, t *coro.Task) error {
	if err := t.Checkpoint(coro.V("y", "outer")); err != nil {
		return err
	}
	if err := inner(t, 42); err != nil {
		return err
	}
	return t.Checkpoint(coro.V("y", "again"))
}

func TestStackAndVars(t *testing.T) {
	s := coro.NewScheduler()
	h := newStopHook(true)
	s.SetHook(h)
	tk := s.Go(context.Background(), "nested", outer)

	waitStop(t, h)
	st := tk.Stack()
	if len(st) != 1 || st[0].ShortName() != "coro_test.outer" {
		t.Fatalf("unexpected stack at first checkpoint: %#v", st)
	}
	if len(st[0].Vars) != 1 || st[0].Vars[0].Value != "outer" {
		t.Fatalf("unexpected vars %#v", st[0].Vars)
	}
	tk.Resume()

	waitStop(t, h)
	st = tk.Stack()
	if len(st) != 2 || st[0].ShortName() != "coro_test.inner" || st[1].ShortName() != "coro_test.outer" {
		t.Fatalf("unexpected stack at nested checkpoint: %#v", st)
	}
	if len(st[0].Vars) != 1 || st[0].Vars[0].Name != "x" || st[0].Vars[0].Value != 42 {
		t.Fatalf("unexpected inner vars %#v", st[0].Vars)
	}
	if len(st[1].Vars) != 1 || st[1].Vars[0].Name != "y" {
		t.Fatalf("outer vars lost: %#v", st[1].Vars)
	}
	if !strings.HasSuffix(st[0].File, "coro_test.go") || st[0].Line == 0 {
		t.Fatalf("bad location %s:%d", st[0].File, st[0].Line)
	}
	tk.Resume()

	waitStop(t, h)
	if tk.Depth() != 1 {
		t.Fatalf("expected depth 1 after return, got %d", tk.Depth())
	}
	st = tk.Stack()
	if len(st[0].Vars) != 1 || st[0].Vars[0].Value != "again" {
		t.Fatalf("rebinding did not replace the value: %#v", st[0].Vars)
	}
	h.stop.Store(false)
	tk.Resume()
	waitDone(t, tk)
}

func TestCallOnParkedTask(t *testing.T) {
	s := coro.NewScheduler()
	h := newStopHook(true)
	s.SetHook(h)
	tk := s.Go(context.Background(), "host", func(ctx context.Context, t *coro.Task) error {
		return t.Checkpoint()
	})
	waitStop(t, h)

	var ranOn *coro.Task
	ctx := context.Background()
	err := tk.Call(ctx, func() {
		ranOn = tk
	})
	if err != nil || ranOn != tk {
		t.Fatalf("call failed: %v", err)
	}
	err = tk.Call(ctx, func() { panic("bad eval") })
	if err == nil || !strings.Contains(err.Error(), "bad eval") {
		t.Fatalf("panic inside call not reported: %v", err)
	}
	if tk.Status() != coro.StatusStopped {
		t.Fatalf("task left parked state: %v", tk.Status())
	}

	h.stop.Store(false)
	tk.Resume()
	waitDone(t, tk)
	if err := tk.Call(ctx, func() {}); err != coro.ErrNotStopped {
		t.Fatalf("call on exited task: %v", err)
	}
}
