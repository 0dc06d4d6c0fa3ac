package debugger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/starlark"

	"github.com/go-delve/sdb/pkg/coro"
	"github.com/go-delve/sdb/pkg/logflags"
	"github.com/go-delve/sdb/pkg/starbind"
	"github.com/go-delve/sdb/service/api"
)

// Print evaluates expr on the goroutine of t, which must be stopped. The
// variables bound at frame are visible to the expression.
func (d *Debugger) Print(ctx context.Context, caller, t *coro.Task, frame int, expr string) (string, error) {
	if expr == "" {
		return "", Errorf(ErrInvalidArgument, "No expression")
	}
	if !d.State(t.ID()).Stopped {
		return "", Errorf(ErrNotStopped, "Coroutine#%d is not stopped, attach to it first", t.ID())
	}
	stack := t.Stack()
	if frame < 0 || frame >= len(stack) {
		return "", Errorf(ErrInvalidArgument, "Invalid frame %d", frame)
	}
	globals := make(map[string]interface{}, len(stack[frame].Vars))
	for _, v := range stack[frame].Vars {
		globals[v.Name] = v.Value
	}

	var out bytes.Buffer
	env := starbind.New(&out)
	var (
		val     starlark.Value
		evalErr error
	)
	log := logflags.EvalLogger().WithField("task", t.ID())
	log.Debugf("print %q in frame %d", expr, frame)
	err := d.callStopped(ctx, caller, t, func(ctx context.Context) {
		val, evalErr = env.Eval(ctx, expr, globals)
	})
	if err == coro.ErrNotStopped {
		return "", Errorf(ErrNotStopped, "Coroutine#%d is not stopped, attach to it first", t.ID())
	}
	if err != nil {
		env.Cancel()
		return "", err
	}
	if evalErr != nil {
		log.WithError(evalErr).Debugf("evaluation failed")
		return out.String(), evalErr
	}
	return out.String() + api.Dump(starbind.ToGo(val), d.config.LoadConfig), nil
}

// Vars loads the variables bound at frame of t. When t is stopped they are
// read on its goroutine, otherwise the values captured at its last
// suspension point are used.
func (d *Debugger) Vars(ctx context.Context, caller, t *coro.Task, frame int) ([]api.Variable, error) {
	stack := t.Stack()
	if frame < 0 || frame >= len(stack) {
		return nil, Errorf(ErrInvalidArgument, "Invalid frame %d", frame)
	}
	if !d.State(t.ID()).Stopped {
		return api.ConvertVars(stack[frame].Vars, d.config.LoadConfig), nil
	}
	var vars []api.Variable
	err := d.callStopped(ctx, caller, t, func(context.Context) {
		vars = api.ConvertVars(stack[frame].Vars, d.config.LoadConfig)
	})
	if err == coro.ErrNotStopped {
		return api.ConvertVars(stack[frame].Vars, d.config.LoadConfig), nil
	}
	if err != nil {
		return nil, err
	}
	return vars, nil
}

// callStopped runs fn on the goroutine of the stopped task t and waits at
// most WaitTimeout for it. fn receives a context that is done when the wait
// is abandoned. On error fn may still be running.
func (d *Debugger) callStopped(ctx context.Context, caller, t *coro.Task, fn func(context.Context)) error {
	parent := ctx
	if d.config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.WaitTimeout)
		defer cancel()
	}
	call := func() error {
		return t.Call(ctx, func() { fn(ctx) })
	}
	var err error
	if caller != nil {
		err = caller.Block(call)
	} else {
		err = call()
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return Errorf(ErrWaitTimeout, "Evaluation did not finish within %v", d.config.WaitTimeout)
	}
	return err
}

type evalResult struct {
	val starlark.Value
	err error
}

// Exec evaluates expr in a fresh scope on a new task named "exec" and
// waits for the result.
func (d *Debugger) Exec(ctx context.Context, caller *coro.Task, expr string) (string, error) {
	if expr == "" {
		return "", Errorf(ErrInvalidArgument, "No expression")
	}
	var out bytes.Buffer
	env := starbind.New(&out)
	d.defineBuiltins(env)

	result := make(chan evalResult, 1)
	t := d.registry.Go(ctx, "exec", func(tctx context.Context, t *coro.Task) error {
		val, err := env.Eval(tctx, expr, nil)
		result <- evalResult{val, err}
		return nil
	})
	logflags.EvalLogger().WithField("task", t.ID()).Debugf("exec %q", expr)

	var res evalResult
	receive := func() error {
		var deadline <-chan time.Time
		if d.config.WaitTimeout > 0 {
			timer := time.NewTimer(d.config.WaitTimeout)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case res = <-result:
			return nil
		case <-deadline:
			return Errorf(ErrWaitTimeout, "Evaluation did not finish within %v", d.config.WaitTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	var err error
	if caller != nil {
		err = caller.Block(receive)
	} else {
		err = receive()
	}
	if err != nil {
		env.Cancel()
		t.Kill()
		return "", err
	}
	if res.err != nil {
		return out.String(), res.err
	}
	return out.String() + api.Dump(starbind.ToGo(res.val), d.config.LoadConfig), nil
}

func (d *Debugger) defineBuiltins(env *starbind.Env) {
	env.Define("tasks", "()", "returns the list of live coroutines.", func(args []interface{}) (interface{}, error) {
		all := d.registry.All()
		r := make([]api.Task, 0, len(all))
		for _, t := range all {
			r = append(r, *api.ConvertTask(t))
		}
		return r, nil
	})
	env.Define("task", "(ID)", "returns the coroutine with the given id.", func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments")
		}
		id, ok := args[0].(int64)
		if !ok {
			return nil, fmt.Errorf("coroutine id must be an integer")
		}
		t, found := d.registry.Get(id)
		if !found {
			return nil, fmt.Errorf("Coroutine#%d Not found", id)
		}
		return api.ConvertTask(t), nil
	})
	env.Define("breakpoints", "()", "returns the global break-point list.", func(args []interface{}) (interface{}, error) {
		return d.Breakpoints(), nil
	})
}
