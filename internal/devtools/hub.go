// Package devtools streams trace batches to websocket clients.
//
// A Hub is registered as a trace callback. Every batch the tracer delivers
// is fanned out to all connected clients as a "traces" message. Clients may
// send "dispatch" messages, which are queued on the engine like any other
// dispatch. A slow client misses batches instead of stalling the tracer.
package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/trace"
)

// DefaultBuffer is the number of messages queued per client.
const DefaultBuffer = 32

// CodeClientBlocked is logged when a batch is dropped for a slow client.
const CodeClientBlocked = "DEVTOOLS_CLIENT_BLOCKED"

// Message types.
const (
	MsgTraces   = "traces"
	MsgDispatch = "dispatch"
	MsgError    = "error"
)

// Message is the JSON frame exchanged with clients.
type Message struct {
	Type    string         `json:"type"`
	Records []trace.Record `json:"records,omitempty"`
	Event   *ir.Event      `json:"event,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Dispatcher queues events. *engine.Engine implements it.
type Dispatcher interface {
	Dispatch(ev ir.Event) error
}

// Hub tracks connected clients.
type Hub struct {
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	buffer     int
	dispatcher Dispatcher

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	out  chan Message
	done chan struct{}
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithBuffer sets the per-client queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		h.buffer = n
	}
}

// WithDispatcher lets clients dispatch events. Without it, dispatch
// messages are answered with an error.
func WithDispatcher(d Dispatcher) Option {
	return func(h *Hub) {
		h.dispatcher = d
	}
}

// New creates a hub with no clients.
func New(opts ...Option) *Hub {
	h := &Hub{
		logger:  slog.Default(),
		buffer:  DefaultBuffer,
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TraceCallback returns a trace.Callback that broadcasts each batch.
func (h *Hub) TraceCallback() trace.Callback {
	return func(records []trace.Record) error {
		h.Broadcast(records)
		return nil
	}
}

// Broadcast queues a traces message for every client and returns the
// number of clients it was queued for.
func (h *Hub) Broadcast(records []trace.Record) int {
	if len(records) == 0 {
		return 0
	}
	msg := Message{Type: MsgTraces, Records: records}

	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		select {
		case c.out <- msg:
			n++
		default:
			h.logger.Warn("devtools client blocked; dropping batch",
				"code", CodeClientBlocked,
				"client", c.conn.RemoteAddr().String(),
				"records", len(records),
			)
		}
	}
	return n
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it
// disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, out: make(chan Message, h.buffer), done: make(chan struct{})}
	if !h.add(c) {
		conn.Close()
		return
	}
	defer h.remove(c)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("devtools client connected", "client", c.conn.RemoteAddr().String(), "clients", len(h.clients))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.stop()
	h.logger.Info("devtools client disconnected", "client", c.conn.RemoteAddr().String(), "clients", n)
}

// writeLoop owns all writes to the connection.
func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("devtools write failed", "error", err)
				c.stop()
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if reply := h.handle(data); reply != nil {
			select {
			case c.out <- *reply:
			case <-c.done:
				return
			}
		}
	}
}

// handle processes one client frame and returns an optional reply.
func (h *Hub) handle(data []byte) *Message {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return errorMessage(fmt.Sprintf("can't parse: %v", err))
	}
	switch msg.Type {
	case MsgDispatch:
		if h.dispatcher == nil {
			return errorMessage("dispatch is not enabled")
		}
		if msg.Event == nil {
			return errorMessage("dispatch requires an event")
		}
		if err := h.dispatcher.Dispatch(*msg.Event); err != nil {
			return errorMessage(err.Error())
		}
		h.logger.Debug("devtools dispatch", "event", msg.Event.ID)
		return nil
	default:
		return errorMessage(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func errorMessage(s string) *Message {
	return &Message{Type: MsgError, Message: s}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
}

// ListenAndServe serves the hub at /ws on addr until ctx is cancelled.
// It returns once the server has stopped, including when addr cannot be
// bound.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	served := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
		case <-served:
			return
		}
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("devtools shutdown failed", "addr", addr, "error", err)
		}
	}()

	h.logger.Info("devtools listening", "addr", addr)
	err := srv.ListenAndServe()
	close(served)
	<-stopped
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("devtools: %w", err)
	}
	return nil
}
