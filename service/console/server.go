// Package console serves the debugger console over WebSocket. Every
// connection gets a terminal session running as a task of the debugged
// runtime.
package console

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/go-delve/sdb/pkg/logflags"
	sdbtls "github.com/go-delve/sdb/pkg/tls"
	"github.com/go-delve/sdb/pkg/terminal"
	"github.com/go-delve/sdb/pkg/version"
	"github.com/go-delve/sdb/service/debugger"
)

// VersionHeader carries the server version in the upgrade response.
const VersionHeader = "Sdb-Version"

// Server serves the console of a debugger.
type Server struct {
	// config is all the information necessary to start the server.
	config *Config
	// listener is used to serve HTTP.
	listener net.Listener
	// debugger is the debugger service shared by every session.
	debugger *debugger.Debugger

	hub      *hub
	upgrader websocket.Upgrader
	http     *http.Server
	log      logflags.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new console server for dbg.
func NewServer(dbg *debugger.Debugger, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
	if config.AcceptBackoff <= 0 {
		config.AcceptBackoff = defaultAcceptBackoff
	}
	if config.Session == nil {
		config.Session = &terminal.Config{}
	}
	if config.Session.SourceListLineCount <= 0 {
		config.Session.SourceListLineCount = terminal.DefaultSourceListLineCount
	}
	if config.Session.Sources == nil {
		config.Session.Sources = terminal.NewSourceCache(terminal.DefaultSourceCacheSize)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		listener: config.Listener,
		debugger: dbg,
		hub:      newHub(),
		log:      logflags.ConsoleLogger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	s.http = &http.Server{Handler: s}
	return s
}

// Run listens and serves the console until Stop is called.
func (s *Server) Run() error {
	if s.listener == nil {
		l, err := net.Listen("tcp", s.config.Listen)
		if err != nil {
			return err
		}
		s.listener = l
	}
	l := net.Listener(newRetryListener(s.listener, s.config.AcceptBackoff))
	if s.config.CertFile != "" && s.config.KeyFile != "" {
		var err error
		l, err = sdbtls.WrapListenerWithTls(l, s.config.CertFile, s.config.KeyFile, s.config.CAFile)
		if err != nil {
			return err
		}
	}
	s.log.Infof("console listening on %s", s.listener.Addr())
	err := s.http.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the address the server listens on, nil before Run.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every connection, and waits for the console
// tasks to exit.
func (s *Server) Stop() error {
	s.cancel()
	err := s.http.Close()
	s.hub.closeAll()
	s.wg.Wait()
	return err
}

// Sessions returns the ids of the connected sessions.
func (s *Server) Sessions() []string {
	return s.hub.ids()
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	return s.hub.len()
}

func (s *Server) authorized(r *http.Request) bool {
	if !s.config.BasicAuth {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.config.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.config.Password)) == 1
	return userOK && passOK
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="sdb"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Unsupported Upgrade Type", http.StatusBadRequest)
		return
	}
	header := http.Header{}
	header.Set(VersionHeader, version.SdbVersion.Semver())
	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.log.Debugf("upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	color, _ := strconv.ParseBool(r.URL.Query().Get("color"))
	s.serveConn(ws, color)
}

func (s *Server) serveConn(ws *websocket.Conn, color bool) {
	s.wg.Add(1)
	defer s.wg.Done()

	id := uuid.NewString()
	c := &conn{
		id:     id,
		server: s,
		ws:     ws,
		color:  color,
		in:     make(chan []byte, 16),
		log:    s.log.WithField("session", id),
	}
	s.hub.add(c)
	c.log.Infof("operator connected from %s, %d sessions", ws.RemoteAddr(), s.hub.len())

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go c.readPump(ctx, cancel)
	go c.pingLoop(ctx)

	t := s.debugger.Registry().Go(ctx, "console", c.run)
	<-t.Done()
	cancel()
	ws.Close()
	if err := t.Err(); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debugf("session ended: %v", err)
	}
	s.hub.remove(c)
	c.log.Infof("operator disconnected, %d sessions left", s.hub.len())
}
