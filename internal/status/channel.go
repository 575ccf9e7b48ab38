// SPDX-License-Identifier: MIT
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"voicestudio/internal/config"
	"voicestudio/internal/log"
	"voicestudio/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrMalformedMessage marks an inbound message without a string status
	// field. Such messages are discarded.
	ErrMalformedMessage = errors.New("status: malformed message")

	// ErrDisconnected is returned by Send while no connection is open.
	ErrDisconnected = errors.New("status: channel disconnected")
)

// State is the connection state of a Channel.
type State int32

const (
	Connecting State = iota
	Open
	ClosedPendingRetry
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ClosedPendingRetry:
		return "closed-pending-retry"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// NewClientID returns a random client identity. The application creates one
// per run and shares it between the channel and synthesis requests.
func NewClientID() string {
	return uuid.NewString()
}

// Dialer opens WebSocket connections. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Option configures a Channel.
type Option func(*Channel)

// WithBackoff sets the fixed delay before each reconnection.
func WithBackoff(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithClock replaces the wall clock used for the reconnection timer.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Channel) { c.clock = clock }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithMetrics records message and reconnection counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// Channel is a long-lived status subscription for one client id. It
// reconnects after every close, forever, until Close.
type Channel struct {
	url      string
	clientID string
	backoff  time.Duration
	clock    clockwork.Clock
	dialer   Dialer
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	status  string
	conn    *websocket.Conn
	started bool

	writeMu sync.Mutex

	handlersMu   sync.RWMutex
	statusFns    []func(string)
	connectivity []func(bool)
}

// New returns a channel for baseURL + "/ws/" + clientID. It does not
// connect until Open.
func New(baseURL, clientID string, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		url:      strings.TrimRight(baseURL, "/") + "/ws/" + clientID,
		clientID: clientID,
		backoff:  config.DefaultStatusBackoff,
		clock:    clockwork.NewRealClock(),
		dialer:   websocket.DefaultDialer,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    Connecting,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL is the connection target.
func (c *Channel) URL() string { return c.url }

// ClientID is the identity baked into the URL.
func (c *Channel) ClientID() string { return c.clientID }

// OnStatus registers an observer of applied status values. Observers run on
// the channel goroutine and must not call Close.
func (c *Channel) OnStatus(fn func(string)) {
	c.handlersMu.Lock()
	c.statusFns = append(c.statusFns, fn)
	c.handlersMu.Unlock()
}

// OnConnectivity registers an observer of connected/disconnected changes.
func (c *Channel) OnConnectivity(fn func(bool)) {
	c.handlersMu.Lock()
	c.connectivity = append(c.connectivity, fn)
	c.handlersMu.Unlock()
}

// Open starts the connection loop. Calling it again has no effect.
func (c *Channel) Open() {
	c.mu.Lock()
	if c.started || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	log.Infof("StatusChannel: opening %s", c.url)
	go c.run()
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a connection is open.
func (c *Channel) Connected() bool {
	return c.State() == Open
}

// Status returns the most recent status value.
func (c *Channel) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) run() {
	defer close(c.done)
	defer c.setState(Closed)

	for {
		c.setState(Connecting)
		conn, _, err := c.dialer.DialContext(c.ctx, c.url, nil)
		if err == nil {
			err = c.serve(conn)
		}
		if c.ctx.Err() != nil {
			return
		}

		c.setState(ClosedPendingRetry)
		c.metrics.RecordReconnect()
		log.Warnf("StatusChannel: connection lost (%v), retrying in %s", err, c.backoff)

		// Exactly one pending retry, owned by this loop and cancelled by Close.
		timer := c.clock.NewTimer(c.backoff)
		select {
		case <-timer.Chan():
		case <-c.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// serve reads conn until it fails. It returns ErrDisconnected when the peer
// closed cleanly.
func (c *Channel) serve(conn *websocket.Conn) error {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return c.ctx.Err()
	}
	c.conn = conn
	c.state = Open
	c.mu.Unlock()

	c.metrics.SetConnected(true)
	log.Infof("StatusChannel: connected")
	c.notifyConnectivity(true)

	err := c.readLoop(conn)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	conn.Close()

	c.metrics.SetConnected(false)
	c.notifyConnectivity(false)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ErrDisconnected
	}
	return err
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		status, err := ParseMessage(data)
		if err != nil {
			c.metrics.RecordMalformedMessage()
			log.Warnf("StatusChannel: discarding message: %v", err)
			continue
		}
		c.apply(status)
	}
}

// apply overwrites the current status. No history is kept.
func (c *Channel) apply(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.metrics.RecordStatusMessage()
	log.Debugf("StatusChannel: status %q", status)

	c.handlersMu.RLock()
	fns := c.statusFns
	c.handlersMu.RUnlock()
	for _, fn := range fns {
		fn(status)
	}
}

func (c *Channel) notifyConnectivity(connected bool) {
	c.handlersMu.RLock()
	fns := c.connectivity
	c.handlersMu.RUnlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// Send writes a text frame on the open connection.
func (c *Channel) Send(text string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return nil
}

// Close tears the channel down: the open connection is closed and a pending
// reconnection is cancelled. No dial starts after Close returns.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.cancel()
	conn := c.conn
	started := c.started
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	if started {
		<-c.done
	} else {
		c.setState(Closed)
	}
	return nil
}

// ParseMessage extracts the status field of a JSON message.
func ParseMessage(data []byte) (string, error) {
	var msg struct {
		Status *string `json:"status"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if msg.Status == nil {
		return "", fmt.Errorf("%w: missing status field", ErrMalformedMessage)
	}
	return *msg.Status, nil
}
