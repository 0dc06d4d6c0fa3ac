package terminal

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-delve/sdb/pkg/coro"
	"github.com/go-delve/sdb/pkg/introspect"
	"github.com/go-delve/sdb/pkg/logflags"
	"github.com/go-delve/sdb/service/debugger"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	logflags.Setup(logConf != "", logConf, "")
	os.Exit(m.Run())
}

func worker(ctx context.Context, t *coro.Task) error {
	for i := 0; ; i++ {
		if err := t.Checkpoint(coro.V("i", i)); err != nil {
			return err
		}
		if err := helper(t, i); err != nil {
			return err
		}
		if err := t.Sleep(time.Millisecond); err != nil {
			return err
		}
	}
}

func helper(t *coro.Task, n int) error {
	return t.Checkpoint(coro.V("n", n))
}

func blocker(ctx context.Context, t *coro.Task) error {
	return t.Block(func() error {
		<-ctx.Done()
		return coro.ErrKilled
	})
}

type fakePool struct{}

func (fakePool) CurrentConnections() int   { return 2 }
func (fakePool) ConnectionsInChannel() int { return 1 }

type FakeSession struct {
	*Session
	sched *coro.Scheduler
	dbg   *debugger.Debugger
	t     testing.TB
}

func newFakeSession(t testing.TB, conf *Config) *FakeSession {
	sched := coro.NewScheduler()
	d := debugger.New(sched, &debugger.Config{WaitTimeout: 5 * time.Second})
	t.Cleanup(func() {
		d.Detach()
		sched.KillAll()
	})
	return &FakeSession{Session: NewSession(d, nil, conf), sched: sched, dbg: d, t: t}
}

func (ft *FakeSession) Exec(cmdstr string) string {
	return ft.Session.Exec(context.Background(), cmdstr)
}

func (ft *FakeSession) MustExec(cmdstr string) string {
	ft.t.Helper()
	out, err := ft.Session.Run(context.Background(), cmdstr)
	if err != nil {
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return strings.TrimRight(out, "\n")
}

func (ft *FakeSession) AssertExec(cmdstr, want string) {
	ft.t.Helper()
	if out := ft.Exec(cmdstr); !strings.Contains(out, want) {
		ft.t.Fatalf("output of %q does not contain %q:\n%s", cmdstr, want, out)
	}
}

func (ft *FakeSession) spawn(name string, fn coro.TaskFunc) *coro.Task {
	return ft.sched.Go(context.Background(), name, fn)
}

func (ft *FakeSession) attach(task *coro.Task) string {
	ft.t.Helper()
	return ft.MustExec("attach " + strconv.FormatInt(task.ID(), 10))
}

// stepTo steps the current task until it stops in fn.
func (ft *FakeSession) stepTo(fn string) {
	ft.t.Helper()
	for i := 0; i < 10; i++ {
		if st := ft.Current().Stack(); len(st) > 0 && strings.HasSuffix(st[0].Function, "."+fn) {
			return
		}
		ft.MustExec("s")
	}
	ft.t.Fatalf("never stopped in %s", fn)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		line, verb, rest string
		args             []string
	}{
		{"", "", "", nil},
		{"   ", "", "", nil},
		{"ps", "ps", "", []string{}},
		{"  p  a +  b ", "p", "a +  b", []string{"a", "+", "b"}},
		{"kill 1\t2", "kill", "1\t2", []string{"1", "2"}},
	}
	for _, tt := range tests {
		verb, args, rest := tokenize(tt.line)
		if verb != tt.verb || rest != tt.rest || len(args) != len(tt.args) {
			t.Errorf("tokenize(%q) = %q %q %q", tt.line, verb, args, rest)
			continue
		}
		for i := range args {
			if args[i] != tt.args[i] {
				t.Errorf("tokenize(%q) args = %q", tt.line, args)
			}
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	ft := newFakeSession(t, nil)
	ft.MustExec("ping")
	if out := ft.Exec("frobnicate 1"); out != "Unknown command 'frobnicate'" {
		t.Fatalf("unexpected output %q", out)
	}
	if out := ft.Exec("\x01\xff"); out != "Unknown command '01ff'" {
		t.Fatalf("non printable verb not hex encoded: %q", out)
	}
	if _, err := ft.Run(context.Background(), "nope"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if ft.LastCommand() != "ping" || ft.State() != StateIdle {
		t.Fatalf("unknown command changed the session: %q %v", ft.LastCommand(), ft.State())
	}
}

func TestRepeatLastCommand(t *testing.T) {
	ft := newFakeSession(t, nil)
	if _, err := ft.Run(context.Background(), "\n"); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
	if out := ft.Exec("ping"); out != "pong" {
		t.Fatalf("unexpected output %q", out)
	}
	if out := ft.Exec("\n"); out != "pong" {
		t.Fatalf("repeat produced %q", out)
	}
	if out := ft.Exec("  "); out != "" {
		t.Fatalf("blank line produced %q", out)
	}
	if ft.LastCommand() != "ping" {
		t.Fatalf("last command %q", ft.LastCommand())
	}
}

func TestRedirectLoop(t *testing.T) {
	ft := newFakeSession(t, nil)
	ft.cmds.Register("loop", func(s *Session, ctx callContext) (result, error) {
		return redirect("loop"), nil
	}, "loops forever")
	if _, err := ft.Run(context.Background(), "loop"); !errors.Is(err, ErrRedirectLoop) {
		t.Fatalf("expected ErrRedirectLoop, got %v", err)
	}
}

func TestCommandPanic(t *testing.T) {
	ft := newFakeSession(t, nil)
	ft.cmds.Register("boom", func(s *Session, ctx callContext) (result, error) {
		panic("kaboom")
	}, "")
	ft.AssertExec("boom", "Command failed: kaboom")
	if out := ft.Exec("ping"); out != "pong" {
		t.Fatalf("session unusable after a panic: %q", out)
	}
}

func TestAttachBacktrace(t *testing.T) {
	ft := newFakeSession(t, nil)
	w := ft.spawn("worker", worker)
	out := ft.attach(w)
	for _, want := range []string{
		fmt.Sprintf("Coroutine#%d %q", w.ID(), "worker"),
		"=> 0",
		"command_test.go",
		"=>",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("attach output does not contain %q:\n%s", want, out)
		}
	}
	if ft.Current() != w || ft.State() != StateViewing || ft.Frame() != 0 {
		t.Fatalf("unexpected session state %v %v %d", ft.Current(), ft.State(), ft.Frame())
	}
	if w.Status() != coro.StatusStopped {
		t.Fatalf("task not stopped: %v", w.Status())
	}
	tasks := ft.MustExec("ps")
	if !strings.Contains(tasks, fmt.Sprintf("* %d", w.ID())) || !strings.Contains(tasks, "Switches") {
		t.Fatalf("ps does not mark the current task:\n%s", tasks)
	}
}

func TestAttachErrors(t *testing.T) {
	ft := newFakeSession(t, nil)
	if out := ft.Exec("attach abc"); out != "Argument[1]: Coroutine id must be numeric" {
		t.Fatalf("unexpected output %q", out)
	}
	if out := ft.Exec("attach 9999"); out != "Coroutine#9999 Not found" {
		t.Fatalf("unexpected output %q", out)
	}
	if ft.Current() != nil || ft.State() != StateIdle {
		t.Fatal("failed attach changed the session")
	}

	w := ft.spawn("worker", worker)
	self := NewSession(ft.dbg, w, nil)
	for _, verb := range []string{"attach", "co", "coroutine"} {
		out := self.Exec(context.Background(), verb+" "+strconv.FormatInt(w.ID(), 10))
		if out != "Attach debugger is not allowed" {
			t.Fatalf("%s: unexpected output %q", verb, out)
		}
	}
	if self.Current() != nil || self.State() != StateIdle {
		t.Fatal("switching to the own task changed the session")
	}
}

func TestNotInDebugging(t *testing.T) {
	ft := newFakeSession(t, nil)
	for _, cmd := range []string{"n", "s", "c", "step_in"} {
		if out := ft.Exec(cmd); out != "Not in debugging" {
			t.Errorf("%s: unexpected output %q", cmd, out)
		}
	}
	ft.AssertExec("bt", "No coroutine is being debugged")
	ft.AssertExec("vars", "No coroutine is being debugged")
}

func TestFrame(t *testing.T) {
	ft := newFakeSession(t, nil)
	w := ft.spawn("worker", worker)
	ft.attach(w)
	ft.stepTo("helper")

	out := ft.MustExec("f 1")
	if !strings.Contains(out, "Switch to frame 1") || !strings.Contains(out, "Frame 1: ") {
		t.Fatalf("unexpected frame output:\n%s", out)
	}
	if ft.Frame() != 1 {
		t.Fatalf("frame %d", ft.Frame())
	}
	if out := ft.MustExec("frame 1"); strings.Contains(out, "Switch to frame") {
		t.Fatalf("selecting the same frame announced a switch:\n%s", out)
	}
	if out := ft.Exec("f 5"); out != "Invalid frame 5" {
		t.Fatalf("unexpected output %q", out)
	}
	if out := ft.Exec("f x"); out != "Frame index must be numeric" {
		t.Fatalf("unexpected output %q", out)
	}
	if ft.Frame() != 1 {
		t.Fatal("failed frame command changed the selection")
	}
	ft.AssertExec("vars", "i = ")
}

func TestNextShowsFrameZero(t *testing.T) {
	ft := newFakeSession(t, nil)
	w := ft.spawn("worker", worker)
	ft.attach(w)
	ft.stepTo("worker")

	out := ft.MustExec("n")
	if ft.LastTraceDepth() != TraceDepthUnset {
		t.Fatalf("trace depth left set: %d", ft.LastTraceDepth())
	}
	if top := w.Stack()[0].Function; !strings.HasSuffix(top, ".worker") {
		t.Fatalf("next stopped in %s", top)
	}
	if again := ft.MustExec("f 0"); again != out {
		t.Fatalf("next output differs from frame 0:\n%s\n---\n%s", out, again)
	}
	if ft.State() != StateViewing {
		t.Fatalf("state %v", ft.State())
	}
}

func TestContinue(t *testing.T) {
	ft := newFakeSession(t, nil)
	w := ft.spawn("worker", worker)
	ft.attach(w)
	if out := ft.Exec("c"); out != fmt.Sprintf("Coroutine#%d continue to run...", w.ID()) {
		t.Fatalf("unexpected output %q", out)
	}
	if st := ft.dbg.State(w.ID()); st.StopRequested {
		t.Fatal("continue left the stop request")
	}
	waitFor(t, "worker to run", func() bool { return w.Status() != coro.StatusStopped })
}

func TestBreakpointIsGlobal(t *testing.T) {
	ft := newFakeSession(t, nil)
	if out := ft.Exec("b"); out != "Invalid break point" {
		t.Fatalf("unexpected output %q", out)
	}
	w1 := ft.spawn("worker", worker)
	w2 := ft.spawn("worker", worker)
	if out := ft.Exec("b helper"); out != "Added global break-point <helper>" {
		t.Fatalf("unexpected output %q", out)
	}
	for _, w := range []*coro.Task{w1, w2} {
		waitFor(t, "breakpoint hit", func() bool { return w.Status() == coro.StatusStopped })
	}

	other := NewSession(ft.dbg, nil, nil)
	out := other.Exec(context.Background(), "co "+strconv.FormatInt(w2.ID(), 10))
	if !strings.Contains(out, "helper") {
		t.Fatalf("second session does not see the stop:\n%s", out)
	}
	if bps := ft.dbg.Breakpoints(); len(bps) != 1 || bps[0] != "helper" {
		t.Fatalf("unexpected breakpoints %v", bps)
	}
}

func TestKill(t *testing.T) {
	ft := newFakeSession(t, nil)
	if out := ft.Exec("kill"); out != "Required coroutine id" {
		t.Fatalf("unexpected output %q", out)
	}
	w := ft.spawn("worker", worker)
	id := strconv.FormatInt(w.ID(), 10)
	want := "Argument[1] 'abc' is not numeric\nCoroutine#9999 not exists\nCoroutine#" + id + " killed"
	if out := ft.Exec("kill abc 9999 " + id); out != want {
		t.Fatalf("unexpected output %q", out)
	}
	waitFor(t, "worker to exit", w.Exited)
}

func TestKillAll(t *testing.T) {
	ft := newFakeSession(t, nil)
	w1 := ft.spawn("worker", worker)
	w2 := ft.spawn("blocker", blocker)
	if out := ft.Exec("killall"); out != "All coroutines has been killed" {
		t.Fatalf("unexpected output %q", out)
	}
	waitFor(t, "tasks to exit", func() bool { return w1.Exited() && w2.Exited() })
}

func TestZombies(t *testing.T) {
	ft := newFakeSession(t, nil)
	b := ft.spawn("blocker", blocker)
	ft.spawn("worker", worker)
	if out := ft.Exec("zombies x"); out != "Argument[1]: Time must be numeric" {
		t.Fatalf("unexpected output %q", out)
	}
	out := ft.MustExec("z 0.2")
	if !strings.HasPrefix(out, "Scanning zombie coroutines (0.2s)...\nFollowing coroutine maybe zombies:\n") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "blocker") || strings.Contains(out, "worker") {
		t.Fatalf("unexpected zombies:\n%s", out)
	}
	if !strings.Contains(out, " "+strconv.FormatInt(b.ID(), 10)+" ") {
		t.Fatalf("zombie id missing:\n%s", out)
	}
}

func TestPrintExecVars(t *testing.T) {
	ft := newFakeSession(t, nil)
	w := ft.spawn("worker", worker)
	ft.attach(w)
	ft.stepTo("helper")
	n := w.Stack()[0].Vars[0].Value.(int)

	if out := ft.MustExec("p n * 2"); out != strconv.Itoa(n*2) {
		t.Fatalf("unexpected output %q", out)
	}
	if out := ft.Exec("print"); out != "No expression" {
		t.Fatalf("unexpected output %q", out)
	}
	if out := ft.MustExec("exec 1 + 2"); out != "3" {
		t.Fatalf("unexpected output %q", out)
	}
	if out := ft.MustExec("vars"); out != "n = "+strconv.Itoa(n) {
		t.Fatalf("unexpected output %q", out)
	}
	if w.Status() != coro.StatusStopped {
		t.Fatalf("evaluation resumed the task: %v", w.Status())
	}
}

func TestList(t *testing.T) {
	ft := newFakeSession(t, nil)
	if out := ft.Exec("l x"); out != "Argument[1]: line no must be numeric" {
		t.Fatalf("unexpected output %q", out)
	}
	w := ft.spawn("worker", worker)
	ft.attach(w)
	out := ft.MustExec("l 3")
	if n := len(strings.Split(out, "\n")); n != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", n, out)
	}
	for i := 0; i < 1000; i++ {
		if out := ft.MustExec("l"); out == "(end of file)" {
			return
		}
	}
	t.Fatal("list never reached the end of the file")
}

func TestIntrospection(t *testing.T) {
	ft := newFakeSession(t, nil)
	ft.AssertExec("pool", "No pool information available")

	r := introspect.NewRegistry()
	r.AddPool("mysql", "default", fakePool{})
	r.AddRoutes(introspect.Route{Method: "GET", Path: "/health", Handler: "health.Check"})
	if err := r.AddCronJob(introspect.CronJob{Name: "cleanup", Rule: "@hourly", Enable: true}); err != nil {
		t.Fatal(err)
	}
	r.SetConfig(func() interface{} { return map[string]string{"listen": "127.0.0.1:9999"} })
	ft = newFakeSession(t, &Config{Introspect: r})

	ft.AssertExec("pool mysql:default", `"poolName":"default"`)
	ft.AssertExec("pool redis", "not found")
	ft.AssertExec("route", `"/health"`)
	ft.AssertExec("crontab", `"cleanup"`)
	ft.AssertExec("config", `"listen": "127.0.0.1:9999"`)

	ft.SetColor(true)
	if out := ft.MustExec("route"); !strings.Contains(out, "\x1b[") {
		t.Fatalf("colors not applied:\n%s", out)
	}
}

func TestAliasesAndHelp(t *testing.T) {
	ft := newFakeSession(t, &Config{Aliases: map[string][]string{"ps": {"tasks"}}})
	ft.AssertExec("tasks", "Switches")
	ft.AssertExec("help", "ps (alias: tasks)")
	ft.AssertExec("help zombies", "zombies <seconds>")
	ft.AssertExec("help nope", "Unknown command 'nope'")
	if out := ft.Exec("clear"); out != clearScreen {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSourceCacheReload(t *testing.T) {
	c := NewSourceCache(2)
	defer c.Close()
	dir := t.TempDir()
	p := filepath.Join(dir, "a.go")
	if err := os.WriteFile(p, []byte("package a\n"), 0600); err != nil {
		t.Fatal(err)
	}
	src, err := c.Get(p)
	if err != nil || string(src) != "package a\n" {
		t.Fatalf("unexpected %q %v", src, err)
	}
	for _, name := range []string{"b.go", "c.go"} {
		q := filepath.Join(dir, name)
		if err := os.WriteFile(q, []byte("package b\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Get(q); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("cache holds %d files", c.Len())
	}
	if _, err := c.Get(filepath.Join(dir, "missing.go")); err == nil {
		t.Fatal("expected error for a missing file")
	}

	if c.watcher == nil {
		t.Skip("file watching not available")
	}
	q := filepath.Join(dir, "c.go")
	if err := os.WriteFile(q, []byte("package c\n"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reload", func() bool {
		src, err := c.Get(q)
		return err == nil && string(src) == "package c\n"
	})
}
