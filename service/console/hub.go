package console

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// hub is the set of connected operators.
type hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

func newHub() *hub {
	return &hub{conns: make(map[string]*conn)}
}

func (h *hub) add(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *hub) remove(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *hub) ids() []string {
	h.mu.RLock()
	r := make([]string, 0, len(h.conns))
	for id := range h.conns {
		r = append(r, id)
	}
	h.mu.RUnlock()
	sort.Strings(r)
	return r
}

// broadcast writes text to every connection. A failed write only affects
// its connection.
func (h *hub) broadcast(text string) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		if err := c.write(text); err != nil {
			c.log.Debugf("broadcast: %v", err)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopped"), time.Now().Add(writeWait))
		c.ws.Close()
	}
}
