package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"

	"github.com/go-delve/sdb/pkg/coro"
	"github.com/go-delve/sdb/pkg/introspect"
	"github.com/go-delve/sdb/pkg/logflags"
	"github.com/go-delve/sdb/pkg/terminal/colorize"
	"github.com/go-delve/sdb/service/debugger"
)

const (
	// TraceDepthUnset is the value of the trace depth marker outside of a
	// next command.
	TraceDepthUnset = math.MaxInt

	// DefaultSourceListLineCount is the number of lines shown above and
	// below the current line.
	DefaultSourceListLineCount = 5

	maxRedirects = 8

	clearScreen = "\033[H\033[2J"
)

var (
	// ErrUnknownCommand is returned for verbs that are not in the command
	// table.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidCommand is returned when "\n" is sent before any command.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrRedirectLoop is returned when a command chains to other commands
	// too many times.
	ErrRedirectLoop = errors.New("too many chained commands")
)

// State is the state of a session.
type State uint8

const (
	// StateIdle means no task is being debugged.
	StateIdle State = iota
	// StateViewing means the session has a current task.
	StateViewing
	// StateExecuting means the session waits for its current task to stop.
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateViewing:
		return "viewing"
	case StateExecuting:
		return "executing"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Config is shared by the sessions of a server.
type Config struct {
	// SourceListLineCount is the number of lines shown above and below the
	// current line.
	SourceListLineCount int
	// Sources caches the files shown by bt, frame and list.
	Sources *SourceCache
	// Introspect answers the pool, config, route and crontab commands.
	Introspect *introspect.Registry
	// Aliases are added to the builtin aliases of the commands.
	Aliases map[string][]string
}

type result struct {
	text     string
	redirect string
}

func rendered(format string, args ...interface{}) result {
	if len(args) == 0 {
		return result{text: format}
	}
	return result{text: fmt.Sprintf(format, args...)}
}

func redirect(line string) result {
	return result{redirect: line}
}

// Session is the state of one operator connection. Its methods must be
// called from a single goroutine, the session's own task.
type Session struct {
	dbg    *debugger.Debugger
	cmds   *Commands
	conf   *Config
	caller *coro.Task

	current        *coro.Task
	frame          int
	lastCommand    string
	lastTraceDepth int
	state          State

	listFile  string
	listLine  int
	listArrow int

	colorEscapes map[colorize.Style]string
	log          logflags.Logger
}

// NewSession returns a session controlling the tasks of dbg. caller is the
// task running the session, it can be nil when the session does not run
// as a task.
func NewSession(dbg *debugger.Debugger, caller *coro.Task, conf *Config) *Session {
	if conf == nil {
		conf = &Config{}
	}
	if conf.SourceListLineCount <= 0 {
		conf.SourceListLineCount = DefaultSourceListLineCount
	}
	if conf.Sources == nil {
		conf.Sources = NewSourceCache(DefaultSourceCacheSize)
	}
	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	log := logflags.ConsoleLogger()
	if caller != nil {
		log = log.WithField("task", caller.ID())
	}
	return &Session{
		dbg:            dbg,
		cmds:           cmds,
		conf:           conf,
		caller:         caller,
		lastTraceDepth: TraceDepthUnset,
		log:            log,
	}
}

// SetColor turns syntax highlighting and colored JSON on or off.
func (s *Session) SetColor(on bool) {
	if !on {
		s.colorEscapes = nil
		return
	}
	s.colorEscapes = defaultColorEscapes()
}

// Current returns the task being debugged, or nil.
func (s *Session) Current() *coro.Task { return s.current }

// Frame returns the index of the selected frame.
func (s *Session) Frame() int { return s.frame }

// State returns the state of the session.
func (s *Session) State() State { return s.state }

// LastCommand returns the last command line executed.
func (s *Session) LastCommand() string { return s.lastCommand }

// LastTraceDepth returns the stack depth recorded by a next command in
// progress, or TraceDepthUnset.
func (s *Session) LastTraceDepth() int { return s.lastTraceDepth }

// Exec executes one command line and returns its output. A line made of a
// single "\n" repeats the last command. Errors are rendered in the output.
func (s *Session) Exec(ctx context.Context, line string) string {
	out, err := s.Run(ctx, line)
	if err != nil {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += err.Error()
	}
	return strings.TrimRight(out, "\n")
}

// Run is like Exec but returns errors to the caller.
func (s *Session) Run(ctx context.Context, line string) (string, error) {
	if line == "\n" {
		if s.lastCommand == "" {
			return "", debugger.Errorf(ErrInvalidCommand, "No previous command")
		}
		line = s.lastCommand
	} else if strings.TrimSpace(line) == "" {
		return "", nil
	} else if verb, _, _ := tokenize(line); s.cmds.Find(verb) != nil {
		s.lastCommand = line
	}

	var out bytes.Buffer
	for i := 0; ; i++ {
		if i > maxRedirects {
			return out.String(), debugger.Errorf(ErrRedirectLoop, "Too many chained commands after %q", line)
		}
		res, err := s.call(ctx, line)
		out.WriteString(res.text)
		if err != nil {
			return out.String(), err
		}
		if res.redirect == "" {
			return out.String(), nil
		}
		if res.text != "" && !strings.HasSuffix(res.text, "\n") {
			out.WriteByte('\n')
		}
		s.log.Debugf("%s -> %s", line, res.redirect)
		line = res.redirect
	}
}

func (s *Session) call(ctx context.Context, line string) (res result, err error) {
	verb, args, rest := tokenize(line)
	if verb == "" {
		return result{}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("command %q panicked: %v\n%s", line, r, debug.Stack())
			res, err = result{}, fmt.Errorf("Command failed: %v", r)
		}
	}()
	cmd := s.cmds.Find(verb)
	if cmd == nil {
		return result{}, debugger.Errorf(ErrUnknownCommand, "Unknown command '%s'", printableVerb(verb))
	}
	s.log.Debugf("exec %q", line)
	return cmd(s, callContext{ctx: ctx, verb: verb, args: args, rest: rest})
}

func (s *Session) setCurrent(t *coro.Task) {
	if t != s.current {
		s.listFile = ""
	}
	s.current = t
	s.frame = 0
	s.state = StateViewing
}

func (s *Session) requireCurrent() (*coro.Task, error) {
	if s.current == nil {
		return nil, debugger.Errorf(debugger.ErrNoCurrentTask, "No coroutine is being debugged, use attach or co first")
	}
	return s.current, nil
}
