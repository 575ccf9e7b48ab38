// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"voicestudio/internal/log"

	"github.com/gorilla/websocket"
)

// ErrUnknownClient is returned by Publish when no channel is open for the id.
var ErrUnknownClient = errors.New("transport: no open channel for client")

// DefaultWriteTimeout bounds every write to a subscriber.
const DefaultWriteTimeout = 5 * time.Second

type hubClient struct {
	conn    *websocket.Conn
	timeout time.Duration
	writeMu sync.Mutex
}

// write fails once the peer stops draining for longer than the timeout.
func (c *hubClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// HubOption configures a StatusHub.
type HubOption func(*StatusHub)

// WithWriteTimeout sets how long a stalled subscriber may block a write.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *StatusHub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// StatusHub relays job status updates to WebSocket channels addressed by
// client id. Channels connect on GET /ws/{clientID}; job workers push
// updates with POST /status/{clientID}.
type StatusHub struct {
	upgrader     websocket.Upgrader
	mux          *http.ServeMux
	writeTimeout time.Duration

	clientsMu sync.Mutex
	clients   map[string]map[*hubClient]struct{}

	server *http.Server
	addr   net.Addr
}

var _ Publisher = (*StatusHub)(nil)

// NewStatusHub returns a hub ready to be served.
func NewStatusHub(opts ...HubOption) *StatusHub {
	h := &StatusHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // The studio UI may be served from anywhere
			},
		},
		mux:          http.NewServeMux(),
		writeTimeout: DefaultWriteTimeout,
		clients:      make(map[string]map[*hubClient]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.mux.HandleFunc("GET /ws/{clientID}", h.handleWebSocket)
	h.mux.HandleFunc("POST /status/{clientID}", h.handleStatus)
	return h
}

// ServeHTTP implements http.Handler.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Start listens on addr and serves in the background.
func (h *StatusHub) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h.addr = ln.Addr()
	h.server = &http.Server{Handler: h}

	go func() {
		log.Infof("StatusHub: serving on %s", h.addr)
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("StatusHub: server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address after Start.
func (h *StatusHub) Addr() net.Addr {
	return h.addr
}

func (h *StatusHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("clientID")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("StatusHub: upgrade error: %v", err)
		return
	}

	c := &hubClient{conn: conn, timeout: h.writeTimeout}
	h.clientsMu.Lock()
	if h.clients[id] == nil {
		h.clients[id] = make(map[*hubClient]struct{})
	}
	h.clients[id][c] = struct{}{}
	h.clientsMu.Unlock()
	log.Debugf("StatusHub: client %s connected", id)

	go h.readLoop(id, c)
}

// readLoop answers pings until the client goes away.
func (h *StatusHub) readLoop(id string, c *hubClient) {
	defer h.remove(id, c)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.TextMessage && string(data) == "ping" {
			if err := c.write(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		}
	}
}

func (h *StatusHub) remove(id string, c *hubClient) {
	h.clientsMu.Lock()
	if set, ok := h.clients[id]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, id)
		}
	}
	h.clientsMu.Unlock()
	c.conn.Close()
	log.Debugf("StatusHub: client %s disconnected", id)
}

func (h *StatusHub) handleStatus(w http.ResponseWriter, r *http.Request) {
	var msg StatusMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&msg); err != nil {
		http.Error(w, "invalid status message", http.StatusBadRequest)
		return
	}

	n, err := h.Publish(r.PathValue("clientID"), msg.Status)
	if errors.Is(err, ErrUnknownClient) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"delivered": n})
}

// Publish writes {"status": status} to every channel of clientID.
func (h *StatusHub) Publish(clientID, status string) (int, error) {
	data, err := json.Marshal(StatusMessage{Status: status})
	if err != nil {
		return 0, err
	}

	h.clientsMu.Lock()
	targets := make([]*hubClient, 0, len(h.clients[clientID]))
	for c := range h.clients[clientID] {
		targets = append(targets, c)
	}
	h.clientsMu.Unlock()

	if len(targets) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}

	delivered := 0
	for _, c := range targets {
		if err := c.write(websocket.TextMessage, data); err != nil {
			log.Warnf("StatusHub: error sending to %s: %v", clientID, err)
			c.conn.Close()
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Clients counts open channels for clientID.
func (h *StatusHub) Clients(clientID string) int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients[clientID])
}

// Disconnect drops every channel of clientID without stopping the hub.
func (h *StatusHub) Disconnect(clientID string) int {
	h.clientsMu.Lock()
	set := h.clients[clientID]
	delete(h.clients, clientID)
	h.clientsMu.Unlock()

	for c := range set {
		c.conn.Close()
	}
	return len(set)
}

// Close drops every channel and stops the server if it was started.
func (h *StatusHub) Close() error {
	log.Debugf("StatusHub: closing")

	h.clientsMu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*hubClient]struct{})
	h.clientsMu.Unlock()

	for _, set := range all {
		for c := range set {
			c.conn.Close()
		}
	}
	if h.server != nil {
		return h.server.Close()
	}
	return nil
}
