// Package terminal implements the debugger console: it parses command
// lines, dispatches them to the debugger and renders the results as text.
package terminal

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-delve/sdb/pkg/coro"
	"github.com/go-delve/sdb/pkg/introspect"
	"github.com/go-delve/sdb/pkg/terminal/colorize"
	"github.com/go-delve/sdb/service/api"
	"github.com/go-delve/sdb/service/debugger"
)

type callContext struct {
	ctx  context.Context
	verb string
	args []string
	rest string
}

func (ctx callContext) arg(i int) string {
	if i < len(ctx.args) {
		return ctx.args[i]
	}
	return ""
}

type cmdfunc func(s *Session, ctx callContext) (result, error)

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the debugger console.
type Commands struct {
	cmds []command
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"ps"}, group: taskCmds, cmdFn: ps, helpMsg: `Lists the live coroutines.

	ps

The current coroutine is marked with a star.`},
		{aliases: []string{"attach"}, group: taskCmds, cmdFn: attach, helpMsg: `Stops a coroutine and makes it current.

	attach <id>

The coroutine stops at its next checkpoint, the command waits for it and
then prints its backtrace. A session can not attach to its own coroutine.`},
		{aliases: []string{"coroutine", "co"}, group: taskCmds, cmdFn: switchTask, helpMsg: `Makes a coroutine current without stopping it.

	coroutine <id>

Use it to continue a coroutine that was attached by an operator who left.`},
		{aliases: []string{"kill"}, group: taskCmds, cmdFn: kill, helpMsg: `Kills coroutines.

	kill <id> [<id>...]

Each id is handled on its own, a bad id does not prevent the others from
being killed.`},
		{aliases: []string{"killall"}, group: taskCmds, cmdFn: killAll, helpMsg: "Kills every coroutine except the one of this session."},
		{aliases: []string{"zombies", "zombie", "z"}, group: taskCmds, cmdFn: zombies, helpMsg: `Lists coroutines that made no progress.

	zombies <seconds>

Samples the switch counter of every coroutine, waits and reports the ones
whose counter did not move. A coroutine blocked on a long wait is reported
too.`},
		{aliases: []string{"breakpoint", "b"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Sets a global breakpoint.

	breakpoint <location>

The location is a function name, with or without its package path, or
file:line. Every coroutine reaching a checkpoint at the location stops.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: cont, helpMsg: "Resumes the current coroutine until it hits a breakpoint."},
		{aliases: []string{"next", "n"}, group: runCmds, cmdFn: next, helpMsg: "Resumes the current coroutine until its next checkpoint in the current function or one of its callers."},
		{aliases: []string{"step", "s", "step_in"}, group: runCmds, cmdFn: step, helpMsg: "Resumes the current coroutine until its next checkpoint."},
		{aliases: []string{"backtrace", "bt"}, group: stackCmds, cmdFn: backtrace, helpMsg: "Prints the stack of the current coroutine and the source of its innermost frame."},
		{aliases: []string{"frame", "f"}, group: stackCmds, cmdFn: frame, helpMsg: `Selects a frame of the current coroutine.

	frame <n>

Frame 0 is the innermost one. print and vars use the selected frame.`},
		{aliases: []string{"list", "l"}, group: stackCmds, cmdFn: list, helpMsg: `Shows the following source lines.

	list [count]`},
		{aliases: []string{"print", "p"}, group: dataCmds, cmdFn: printVar, helpMsg: `Evaluates an expression in the selected frame.

	print <expression>

The expression is starlark, the variables bound at the frame are in scope.
The current coroutine must be stopped.`},
		{aliases: []string{"exec"}, group: dataCmds, cmdFn: execExpr, helpMsg: `Evaluates an expression in a new coroutine.

	exec <expression>

tasks(), task(id), breakpoints() and the time module are in scope.`},
		{aliases: []string{"vars"}, group: dataCmds, cmdFn: vars, helpMsg: "Prints the variables bound at the selected frame."},
		{aliases: []string{"pool"}, group: appCmds, cmdFn: pool, helpMsg: `Prints connection pool statistics.

	pool [kind[:name]]

Defaults to mysql:default.`},
		{aliases: []string{"config"}, group: appCmds, cmdFn: configDump, helpMsg: "Prints the configuration."},
		{aliases: []string{"route"}, group: appCmds, cmdFn: route, helpMsg: "Prints the route table."},
		{aliases: []string{"crontab"}, group: appCmds, cmdFn: crontab, helpMsg: "Prints the scheduled jobs and their next run time."},
		{aliases: []string{"clear"}, cmdFn: clearCmd, helpMsg: "Clears the screen."},
		{aliases: []string{"ping"}, cmdFn: ping, helpMsg: "Replies pong."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// It returns nil if there is no such command.
func (c *Commands) Find(cmdstr string) cmdfunc {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}
	return nil
}

// Aliases returns every verb the table accepts.
func (c *Commands) Aliases() []string {
	var r []string
	for _, cmd := range c.cmds {
		r = append(r, cmd.aliases...)
	}
	sort.Strings(r)
	return r
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

func (c *Commands) help(s *Session, ctx callContext) (result, error) {
	if len(ctx.args) > 0 {
		for _, cmd := range c.cmds {
			if cmd.match(ctx.args[0]) {
				return rendered(cmd.helpMsg), nil
			}
		}
		return result{}, debugger.Errorf(ErrUnknownCommand, "Unknown command '%s'", printableVerb(ctx.args[0]))
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(&buf, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(&buf, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return result{}, err
		}
	}

	fmt.Fprintln(&buf)
	fmt.Fprint(&buf, "Type help followed by a command for full documentation.")
	return rendered(buf.String()), nil
}

func ps(s *Session, ctx callContext) (result, error) {
	var buf bytes.Buffer
	s.printTasks(&buf, s.dbg.Registry().All())
	return rendered(buf.String()), nil
}

func attach(s *Session, ctx callContext) (result, error) {
	t, err := s.dbg.FindTask(ctx.arg(0))
	if err != nil {
		return result{}, err
	}
	if err := s.dbg.Attach(ctx.ctx, s.caller, t); err != nil {
		return result{}, err
	}
	s.setCurrent(t)
	return redirect("bt"), nil
}

func switchTask(s *Session, ctx callContext) (result, error) {
	t, err := s.dbg.FindTask(ctx.arg(0))
	if err != nil {
		return result{}, err
	}
	if t == s.caller {
		return result{}, debugger.Errorf(debugger.ErrSelfAttach, "Attach debugger is not allowed")
	}
	s.setCurrent(t)
	return redirect("bt"), nil
}

func backtrace(s *Session, ctx callContext) (result, error) {
	t, err := s.requireCurrent()
	if err != nil {
		return result{}, err
	}
	var buf bytes.Buffer
	printTaskHeader(&buf, t)
	stack := api.ConvertStack(t.Stack(), nil)
	printStack(&buf, stack, s.frame)
	if len(stack) > 0 {
		s.printSource(&buf, stack[0].File, stack[0].Line)
	}
	return rendered(buf.String()), nil
}

func frame(s *Session, ctx callContext) (result, error) {
	n, err := strconv.Atoi(ctx.arg(0))
	if err != nil {
		return result{}, debugger.Errorf(debugger.ErrInvalidArgument, "Frame index must be numeric")
	}
	t, err := s.requireCurrent()
	if err != nil {
		return result{}, err
	}
	stack := api.ConvertStack(t.Stack(), nil)
	if n < 0 || n >= len(stack) {
		return result{}, debugger.Errorf(debugger.ErrInvalidArgument, "Invalid frame %d", n)
	}
	var buf bytes.Buffer
	if n != s.frame {
		fmt.Fprintf(&buf, "Switch to frame %d\n", n)
		s.frame = n
	}
	printStack(&buf, stack, n)
	fmt.Fprintf(&buf, "Frame %d: %s:%d (PC: %x)\n", n, formatPath(stack[n].File), stack[n].Line, stack[n].PC)
	s.printSource(&buf, stack[n].File, stack[n].Line)
	return rendered(buf.String()), nil
}

func breakpoint(s *Session, ctx callContext) (result, error) {
	if err := s.dbg.AddBreakpoint(ctx.rest); err != nil {
		return result{}, err
	}
	return rendered("Added global break-point <%s>", ctx.rest), nil
}

func (s *Session) currentForExecution() (*coro.Task, error) {
	if s.current == nil {
		return nil, debugger.Errorf(debugger.ErrNotInDebugging, "Not in debugging")
	}
	return s.current, nil
}

func next(s *Session, ctx callContext) (result, error) {
	return stepInto(s, ctx, true)
}

func step(s *Session, ctx callContext) (result, error) {
	return stepInto(s, ctx, false)
}

func stepInto(s *Session, ctx callContext, over bool) (result, error) {
	t, err := s.currentForExecution()
	if err != nil {
		return result{}, err
	}
	s.state = StateExecuting
	defer func() {
		s.state = StateViewing
		s.lastTraceDepth = TraceDepthUnset
	}()
	if over {
		s.lastTraceDepth = t.Depth()
		err = s.dbg.Next(ctx.ctx, s.caller, t)
	} else {
		err = s.dbg.Step(ctx.ctx, s.caller, t)
	}
	if err != nil {
		return result{}, err
	}
	return redirect("f 0"), nil
}

func cont(s *Session, ctx callContext) (result, error) {
	t, err := s.currentForExecution()
	if err != nil {
		return result{}, err
	}
	s.state = StateExecuting
	defer func() { s.state = StateViewing }()
	if err := s.dbg.Continue(ctx.ctx, s.caller, t); err != nil {
		return result{}, err
	}
	return rendered("Coroutine#%d continue to run...", t.ID()), nil
}

func list(s *Session, ctx callContext) (result, error) {
	count := 2*s.conf.SourceListLineCount + 1
	if len(ctx.args) > 0 {
		n, err := strconv.Atoi(ctx.args[0])
		if err != nil || n <= 0 {
			return result{}, debugger.Errorf(debugger.ErrInvalidArgument, "Argument[1]: line no must be numeric")
		}
		count = n
	}
	if s.listFile == "" {
		t, err := s.requireCurrent()
		if err != nil {
			return result{}, err
		}
		stack := t.Stack()
		if s.frame >= len(stack) {
			return result{}, debugger.Errorf(debugger.ErrInvalidArgument, "Invalid frame %d", s.frame)
		}
		f := stack[s.frame]
		s.listFile, s.listLine, s.listArrow = f.File, f.Line-s.conf.SourceListLineCount, f.Line
		if s.listLine < 1 {
			s.listLine = 1
		}
	}
	src, err := s.conf.Sources.Get(s.listFile)
	if err != nil {
		return result{}, err
	}
	if s.listLine > colorize.Lines(src) {
		return rendered("(end of file)"), nil
	}
	var buf bytes.Buffer
	win := colorize.Window{Start: s.listLine, End: s.listLine + count, Arrow: s.listArrow}
	if err := colorize.Print(&buf, s.listFile, src, win, s.colorEscapes); err != nil {
		return result{}, err
	}
	s.listLine = win.End
	return rendered(buf.String()), nil
}

func printVar(s *Session, ctx callContext) (result, error) {
	if ctx.rest == "" {
		return result{}, debugger.Errorf(debugger.ErrInvalidArgument, "No expression")
	}
	t, err := s.requireCurrent()
	if err != nil {
		return result{}, err
	}
	out, err := s.dbg.Print(ctx.ctx, s.caller, t, s.frame, ctx.rest)
	return rendered(out), err
}

func execExpr(s *Session, ctx callContext) (result, error) {
	if ctx.rest == "" {
		return result{}, debugger.Errorf(debugger.ErrInvalidArgument, "No expression")
	}
	out, err := s.dbg.Exec(ctx.ctx, s.caller, ctx.rest)
	return rendered(out), err
}

func vars(s *Session, ctx callContext) (result, error) {
	t, err := s.requireCurrent()
	if err != nil {
		return result{}, err
	}
	vs, err := s.dbg.Vars(ctx.ctx, s.caller, t, s.frame)
	if err != nil {
		return result{}, err
	}
	if len(vs) == 0 {
		return rendered("(no variables bound at frame %d)", s.frame), nil
	}
	var buf bytes.Buffer
	for i := range vs {
		fmt.Fprintf(&buf, "%s = %s\n", vs[i].Name, vs[i].SinglelineString())
	}
	return rendered(buf.String()), nil
}

func zombies(s *Session, ctx callContext) (result, error) {
	arg := ctx.arg(0)
	secs, err := strconv.ParseFloat(arg, 64)
	if err != nil || secs < 0 || secs > maxZombieWindow.Seconds() {
		return result{}, debugger.Errorf(debugger.ErrInvalidArgument, "Argument[1]: Time must be numeric")
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Scanning zombie coroutines (%ss)...\n", arg)
	zs, err := s.dbg.Zombies(ctx.ctx, s.caller, time.Duration(secs*float64(time.Second)))
	if err != nil {
		return rendered(buf.String()), err
	}
	fmt.Fprintln(&buf, "Following coroutine maybe zombies:")
	s.printTasks(&buf, zs)
	return rendered(buf.String()), nil
}

// maxZombieWindow bounds the sampling window of the zombies command.
const maxZombieWindow = 24 * time.Hour

func kill(s *Session, ctx callContext) (result, error) {
	lines, err := s.dbg.Kill(ctx.args)
	if err != nil {
		return result{}, err
	}
	return rendered(strings.Join(lines, "\n")), nil
}

func killAll(s *Session, ctx callContext) (result, error) {
	n := s.dbg.KillAll(s.caller)
	s.log.Infof("killed %d coroutines", n)
	return rendered("All coroutines has been killed"), nil
}

func clearCmd(s *Session, ctx callContext) (result, error) {
	return rendered(clearScreen), nil
}

func ping(s *Session, ctx callContext) (result, error) {
	return rendered("pong"), nil
}

func (s *Session) introspection(what string) (*introspect.Registry, error) {
	if s.conf.Introspect == nil {
		return nil, debugger.Errorf(debugger.ErrInvalidArgument, "No %s information available", what)
	}
	return s.conf.Introspect, nil
}

func (s *Session) renderJSON(out string, err error) (result, error) {
	if err != nil {
		return result{}, err
	}
	if s.colorEscapes != nil {
		out = introspect.Colorize(out)
	}
	return rendered(out), nil
}

func pool(s *Session, ctx callContext) (result, error) {
	r, err := s.introspection("pool")
	if err != nil {
		return result{}, err
	}
	return s.renderJSON(r.PoolJSON(ctx.arg(0)))
}

func configDump(s *Session, ctx callContext) (result, error) {
	r, err := s.introspection("config")
	if err != nil {
		return result{}, err
	}
	return s.renderJSON(r.ConfigJSON())
}

func route(s *Session, ctx callContext) (result, error) {
	r, err := s.introspection("route")
	if err != nil {
		return result{}, err
	}
	return s.renderJSON(r.RoutesJSON())
}

func crontab(s *Session, ctx callContext) (result, error) {
	r, err := s.introspection("crontab")
	if err != nil {
		return result{}, err
	}
	return s.renderJSON(r.CrontabJSON())
}
