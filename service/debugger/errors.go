package debugger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for missing or malformed command
	// arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTaskNotFound is returned when no live task has the requested id.
	ErrTaskNotFound = errors.New("coroutine not found")
	// ErrSelfAttach is returned when a session tries to attach to its own
	// task.
	ErrSelfAttach = errors.New("attach debugger is not allowed")
	// ErrNotInDebugging is returned by execution commands on a task that
	// was never asked to stop.
	ErrNotInDebugging = errors.New("not in debugging")
	// ErrNotStopped is returned when an operation needs a parked task.
	ErrNotStopped = errors.New("coroutine is not stopped")
	// ErrNoCurrentTask is returned when a command needs a current task and
	// the session has none.
	ErrNoCurrentTask = errors.New("no coroutine is being debugged")
	// ErrHookConflict is returned by attach when the scheduler hook was
	// replaced by someone else.
	ErrHookConflict = errors.New("break point handler conflict")
	// ErrTaskExited is returned when the task exits while we wait on it.
	ErrTaskExited = errors.New("coroutine exited")
	// ErrWaitTimeout is returned when a task does not stop within
	// Config.WaitTimeout.
	ErrWaitTimeout = errors.New("timed out waiting for coroutine to stop")
)

// commandError is a user facing error. Error returns only the message, the
// kind is reachable through errors.Is.
type commandError struct {
	msg  string
	kind error
}

func (e *commandError) Error() string { return e.msg }
func (e *commandError) Unwrap() error { return e.kind }

// Errorf returns an error of the given kind with a formatted message.
func Errorf(kind error, format string, args ...interface{}) error {
	return &commandError{msg: fmt.Sprintf(format, args...), kind: kind}
}
