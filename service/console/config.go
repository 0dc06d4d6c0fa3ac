package console

import (
	"net"
	"time"

	"github.com/go-delve/sdb/pkg/terminal"
)

// Config provides the configuration to start a console server.
type Config struct {
	// Listener is used to serve the console. If nil, Run listens on Listen.
	Listener net.Listener
	// Listen is the host:port the server listens on when Listener is nil.
	Listen string

	// CertFile and KeyFile enable TLS when both are set. CAFile, when set,
	// makes clients present a certificate signed by it.
	CertFile, KeyFile, CAFile string

	// BasicAuth enables the HTTP basic authentication gate.
	BasicAuth bool
	Username  string
	Password  string

	// Broadcast sends the output of every command to all connected
	// operators instead of only the one that issued it.
	Broadcast bool

	// PingInterval is the period of server pings. A connection that does
	// not answer within two periods is closed.
	PingInterval time.Duration

	// AcceptBackoff is how long the accept loop sleeps after the process
	// ran out of file descriptors or memory.
	AcceptBackoff time.Duration

	// Session is shared by the sessions of all connections.
	Session *terminal.Config
}

const (
	defaultPingInterval  = 30 * time.Second
	defaultAcceptBackoff = time.Second
	writeWait            = 10 * time.Second
	maxMessageSize       = 64 << 10
)
