// Package client implements the interactive console client: it connects to
// a console server and forwards the lines typed by the operator.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/sdb/pkg/config"
	"github.com/go-delve/sdb/pkg/logflags"
	"github.com/go-delve/sdb/pkg/terminal"
	"github.com/go-delve/sdb/pkg/version"
	"github.com/go-delve/sdb/service/console"
)

const historyFile string = ".sdb_history"

// Config describes how to reach a console server.
type Config struct {
	// Addr is the host:port of the server.
	Addr string
	// TLS, when not nil, makes the client use wss.
	TLS *tls.Config
	// Username and Password are sent with HTTP basic authentication when
	// Username is not empty.
	Username, Password string
	// Color asks the server for highlighted output. It is turned off when
	// stdout is not a terminal.
	Color bool
}

// Conn is a connection to a console server.
type Conn struct {
	ws            *websocket.Conn
	serverVersion string

	wmu sync.Mutex
}

// Dial connects to the server described by conf and checks that its
// version is compatible with ours.
func Dial(ctx context.Context, conf *Config) (*Conn, error) {
	u := url.URL{Scheme: "ws", Host: conf.Addr, Path: "/"}
	if conf.TLS != nil {
		u.Scheme = "wss"
	}
	if conf.Color {
		u.RawQuery = "color=true"
	}
	header := http.Header{}
	if conf.Username != "" {
		req := http.Request{Header: header}
		req.SetBasicAuth(conf.Username, conf.Password)
	}
	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = conf.TLS
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connecting to %s: %v (%s)", u.String(), err, resp.Status)
		}
		return nil, fmt.Errorf("connecting to %s: %v", u.String(), err)
	}
	sv := resp.Header.Get(console.VersionHeader)
	if err := version.SdbVersion.CheckCompatible(sv); err != nil {
		ws.Close()
		return nil, err
	}
	return &Conn{ws: ws, serverVersion: sv}, nil
}

// ServerVersion returns the version reported by the server.
func (c *Conn) ServerVersion() string { return c.serverVersion }

// Send sends one command line. An empty line repeats the last command.
func (c *Conn) Send(line string) error {
	if line == "" {
		line = "\n"
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line))
}

// Recv returns the next output message.
func (c *Conn) Recv() (string, error) {
	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			return "", err
		}
		if typ == websocket.TextMessage {
			return string(msg), nil
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	c.wmu.Lock()
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.ws.Close()
}

// Term represents the terminal running sdb connect.
type Term struct {
	conn   *Conn
	prompt string
	line   *liner.State
	verbs  *trie.Trie
	stdout io.Writer
	log    logflags.Logger
}

// New returns a new Term forwarding to conn. aliases are the extra command
// aliases from the configuration, used for completion.
func New(conn *Conn, aliases map[string][]string) *Term {
	return &Term{
		conn:   conn,
		prompt: "(sdb) ",
		line:   liner.NewLiner(),
		verbs:  commandVerbs(aliases),
		stdout: getColorableWriter(),
		log:    logflags.ConsoleLogger(),
	}
}

// Stdout reports whether standard output is a terminal that can show
// colors.
func Stdout() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && strings.ToLower(os.Getenv("TERM")) != "dumb"
}

func getColorableWriter() io.Writer {
	if !Stdout() {
		return os.Stdout
	}
	return colorable.NewColorableStdout()
}

func commandVerbs(aliases map[string][]string) *trie.Trie {
	verbs := trie.New()
	for _, v := range terminal.DebugCommands().Aliases() {
		verbs.Add(v, nil)
	}
	for _, as := range aliases {
		for _, a := range as {
			verbs.Add(a, nil)
		}
	}
	verbs.Add("exit", nil)
	verbs.Add("quit", nil)
	return verbs
}

// complete returns the verbs starting with the first word of line.
func (t *Term) complete(line string) []string {
	if strings.ContainsAny(line, " \t") {
		return nil
	}
	c := t.verbs.PrefixSearch(strings.ToLower(line))
	sort.Strings(c)
	return c
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// Run reads commands until the operator quits or the server closes the
// connection.
func (t *Term) Run() (int, error) {
	defer t.Close()

	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}
	if f, err := os.Open(fullHistoryFile); err == nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintf(t.stdout, "Connected to sdb %s. Type 'help' for list of commands.\n", t.conn.ServerVersion())

	closed := make(chan error, 1)
	go func() {
		for {
			out, err := t.conn.Recv()
			if err != nil {
				closed <- err
				return
			}
			fmt.Fprintln(t.stdout, out)
		}
	}()

	defer t.saveHistory(fullHistoryFile)
	for {
		l, err := t.line.Prompt(t.prompt)
		if err != nil {
			if err == io.EOF || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(t.stdout, "exit")
				return 0, t.conn.Close()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}
		select {
		case err := <-closed:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Fprintln(t.stdout, "Connection closed by the server")
				return 0, nil
			}
			return 1, err
		default:
		}
		cmd := strings.TrimSpace(l)
		if cmd == "exit" || cmd == "quit" {
			return 0, t.conn.Close()
		}
		if cmd != "" {
			t.line.AppendHistory(l)
		}
		if err := t.conn.Send(cmd); err != nil {
			return 1, err
		}
	}
}

func (t *Term) saveHistory(fullHistoryFile string) {
	if fullHistoryFile == "" {
		return
	}
	f, err := os.Create(fullHistoryFile)
	if err != nil {
		t.log.Debugf("saving history: %v", err)
		return
	}
	defer f.Close()
	if _, err := t.line.WriteHistory(f); err != nil {
		fmt.Println("readline history error:", err)
	}
}
