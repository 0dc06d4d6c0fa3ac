package console

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-delve/sdb/pkg/coro"
	"github.com/go-delve/sdb/pkg/logflags"
	"github.com/go-delve/sdb/pkg/terminal"
)

// conn is one operator connection.
type conn struct {
	id     string
	server *Server
	ws     *websocket.Conn
	color  bool
	in     chan []byte
	log    logflags.Logger

	wmu sync.Mutex
}

func (c *conn) write(text string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// publish sends the output of a command issued on c.
func (c *conn) publish(text string) {
	if c.server.config.Broadcast {
		c.server.hub.broadcast(text)
		return
	}
	if err := c.write(text); err != nil {
		c.log.Debugf("write: %v", err)
	}
}

// readPump reads text frames into c.in until the connection fails or is
// closed, then cancels the session.
func (c *conn) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	defer close(c.in)
	pongWait := 2 * c.server.config.PingInterval
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if isProtocolError(err) {
				c.log.Debugf("closing: %v", err)
				msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, "protocol error")
				c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		select {
		case c.in <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debugf("ping: %v", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// run is the body of the console task of the connection.
func (c *conn) run(ctx context.Context, t *coro.Task) error {
	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()

	sess := terminal.NewSession(c.server.debugger, t, c.server.config.Session)
	sess.SetColor(c.color)
	for {
		var msg []byte
		var ok bool
		err := t.Block(func() error {
			select {
			case msg, ok = <-c.in:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for _, line := range splitPayload(msg) {
			out := sess.Exec(ctx, line)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.publish(out)
		}
	}
}

// isProtocolError reports whether a read error means the peer broke the
// protocol, as opposed to closing the connection or the server closing it.
func isProtocolError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	return !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

// splitPayload returns the command lines of a text frame. A frame made of a
// single newline is kept as is: it repeats the last command.
func splitPayload(msg []byte) []string {
	s := string(msg)
	if s == "\n" {
		return []string{s}
	}
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
