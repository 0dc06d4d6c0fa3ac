package console

import (
	"net"
	"time"

	"github.com/go-delve/sdb/pkg/logflags"
)

// retryListener keeps accepting after transient resource errors.
type retryListener struct {
	net.Listener
	backoff time.Duration
	log     logflags.Logger
	sleep   func(time.Duration)
}

func newRetryListener(l net.Listener, backoff time.Duration) *retryListener {
	return &retryListener{Listener: l, backoff: backoff, log: logflags.ConsoleLogger(), sleep: time.Sleep}
}

func (l *retryListener) Accept() (net.Conn, error) {
	for {
		c, err := l.Listener.Accept()
		if err == nil {
			return c, nil
		}
		if !isResourceExhausted(err) {
			return nil, err
		}
		l.log.Warnf("accept: %v, retrying in %v", err, l.backoff)
		l.sleep(l.backoff)
	}
}
