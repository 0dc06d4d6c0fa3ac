//go:build unix

package console

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

type flakyListener struct {
	net.Listener
	errs []error
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		return nil, err
	}
	return nil, net.ErrClosed
}

func TestRetryListener(t *testing.T) {
	emfile := &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", unix.EMFILE)}
	fl := &flakyListener{errs: []error{emfile, emfile}}
	l := newRetryListener(fl, time.Second)
	var slept time.Duration
	l.sleep = func(d time.Duration) { slept += d }
	if _, err := l.Accept(); err != net.ErrClosed {
		t.Fatalf("unexpected error %v", err)
	}
	if slept != 2*time.Second {
		t.Fatalf("expected two backoffs, slept %v", slept)
	}
}

func TestIsResourceExhausted(t *testing.T) {
	for _, errno := range []error{unix.EMFILE, unix.ENFILE, unix.ENOMEM} {
		err := &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", errno)}
		if !isResourceExhausted(err) {
			t.Errorf("%v not recognised", errno)
		}
	}
	if isResourceExhausted(net.ErrClosed) || isResourceExhausted(errors.New("boom")) {
		t.Error("unrelated error treated as transient")
	}
}
