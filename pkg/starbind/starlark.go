package starbind

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
)

const (
	sdbContextName  = "sdb_context"
	helpBuiltinName = "help"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true

	// Make the "time" module available to expressions.
	starlark.Universe["time"] = startime.Module
}

// BuiltinFunc is a Go function callable from expressions. Arguments and
// the return value are converted with ToGo and ToStarlark.
type BuiltinFunc func(args []interface{}) (interface{}, error)

// Env is the environment used to evaluate expressions.
// An Env evaluates one expression at a time; Cancel aborts it.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	out io.Writer
}

// New creates a new starlark binding environment. Output of the print
// builtin goes to out.
func New(out io.Writer) *Env {
	env := &Env{
		env: make(starlark.StringDict),
		doc: make(map[string]string),
		out: out,
	}

	env.env[helpBuiltinName] = starlark.NewBuiltin(helpBuiltinName, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		switch len(args) {
		case 0:
			fmt.Fprintln(env.out, "Available builtins:")
			bins := make([]string, 0, len(env.env))
			for name, value := range env.env {
				switch value.(type) {
				case *starlark.Builtin:
					bins = append(bins, name)
				}
			}
			sort.Strings(bins)
			for _, bin := range bins {
				fmt.Fprintf(env.out, "\t%s\n", bin)
			}
		case 1:
			switch x := args[0].(type) {
			case *starlark.Builtin:
				if env.doc[x.Name()] != "" {
					fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
				} else {
					fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
				}
			default:
				fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
			}
		default:
			fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
		}
		return starlark.None, nil
	})
	env.doc[helpBuiltinName] = "help(Object)\n\nhelp prints help for Object."

	return env
}

// Define adds a builtin function named name to the environment.
func (env *Env) Define(name, args, descr string, fn BuiltinFunc) {
	env.env[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		if len(kwargs) > 0 {
			return starlark.None, decorateError(thread, fmt.Errorf("%s does not accept keyword arguments", b.Name()))
		}
		goargs := make([]interface{}, len(args))
		for i := range args {
			goargs[i] = ToGo(args[i])
		}
		r, err := fn(goargs)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return ToStarlark(r), nil
	})
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

// Eval evaluates expr. The values in globals are converted with ToStarlark
// and shadow the builtins of the environment.
func (env *Env) Eval(ctx context.Context, expr string, globals map[string]interface{}) (_ starlark.Value, _err error) {
	defer func() {
		if r := recover(); r != nil {
			_err = fmt.Errorf("panic evaluating expression: %v", r)
		}
	}()

	scope := make(starlark.StringDict, len(env.env)+len(globals))
	for k, v := range env.env {
		scope[k] = v
	}
	for k, v := range globals {
		scope[k] = ToStarlark(v)
	}

	thread := env.newThread(ctx)
	defer env.releaseThread()
	return starlark.Eval(thread, "<expr>", expr, scope)
}

// Cancel cancels the evaluation in progress.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

func (env *Env) newThread(parent context.Context) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  "sdb",
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(parent)
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(sdbContextName, ctx)
	go func() {
		<-ctx.Done()
		thread.Cancel(ctx.Err().Error())
	}()
	return thread
}

func (env *Env) releaseThread() {
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	env.thread = nil
	env.contextMu.Unlock()
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(sdbContextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}
