// Package feed broadcasts monitoring events to WebSocket clients, e.g. live
// dashboards.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/m-lab/netqual/pkg/monitor"
	"github.com/m-lab/netqual/pkg/netqual/model"
)

const (
	// writeTimeout bounds every write to a client. Slow clients are dropped.
	writeTimeout = 5 * time.Second
	// readLimit is the maximum message size accepted from clients. Clients
	// are not expected to send anything.
	readLimit = 4096
)

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub keeps track of the connected clients and sends them every event.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]*client
	closed  bool
	wg      sync.WaitGroup
}

// NewHub returns a new Hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: map[*websocket.Conn]*client{},
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and registers the
// client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = &client{conn: conn}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()
	log.Debug("Feed client connected", "remote", r.RemoteAddr)

	// Reads only detect disconnections.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(conn)
	log.Debug("Feed client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends ev to all the connected clients. Clients failing to
// receive it are disconnected.
func (h *Hub) Broadcast(ev monitor.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn("Feed event marshal failed", "type", ev.Type, "error", err)
		return
	}
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			log.Debug("Feed write failed", "error", err)
			h.remove(c.conn)
		}
	}
}

// Close disconnects all the clients and waits for their handlers to return.
// Later connections are rejected.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	h.wg.Wait()
}

// Emitter returns a monitor.Emitter broadcasting every event through h.
func (h *Hub) Emitter() monitor.Emitter {
	return &emitter{hub: h}
}

type emitter struct {
	hub *Hub
}

func (e *emitter) OnStart(id, target string) {
	e.hub.Broadcast(monitor.Event{Type: "start", Target: target, ID: id})
}

func (e *emitter) OnRecord(target string, r model.Record) {
	e.hub.Broadcast(monitor.Event{Type: "record", Target: target, Record: &r})
}

func (e *emitter) OnAlert(target string, r model.Record, thresholdMs float64) {
	e.hub.Broadcast(monitor.Event{Type: "alert", Target: target, Record: &r, Threshold: thresholdMs})
}

func (e *emitter) OnStatusChange(target string, old, new monitor.Status) {
	e.hub.Broadcast(monitor.Event{Type: "status", Target: target, OldStatus: old, Status: new})
}

func (e *emitter) OnError(target string, err error) {
	e.hub.Broadcast(monitor.Event{Type: "error", Target: target, Error: err.Error()})
}

func (e *emitter) OnComplete(target string, s model.Summary) {
	e.hub.Broadcast(monitor.Event{Type: "complete", Target: target, Summary: &s})
}

func (e *emitter) OnDebug(msg string) {}
