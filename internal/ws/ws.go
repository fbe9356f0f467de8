// Package ws is the relay's WebSocket hub: it owns every live connection,
// runs its pumps and dispatches inbound events to registered handlers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/The-Promised-Neverland/vsharing/internal/metrics"
	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/protocol"
	"github.com/The-Promised-Neverland/vsharing/pkg/logger"
)

var ErrNotConnected = errors.New("connection not found")

// HandlerFunc handles one inbound event. ctx is cancelled when c disconnects.
type HandlerFunc func(ctx context.Context, c *Connection, payload json.RawMessage) error

// Releaser is told when a connection is gone.
type Releaser interface {
	Register(connID string)
	Release(connID string)
}

type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	handlers map[string]HandlerFunc
	sessions Releaser
	log      *slog.Logger
	wg       sync.WaitGroup
}

func NewHub(sessions Releaser, log *slog.Logger) *Hub {
	if log == nil {
		log = logger.Log
	}
	return &Hub{
		conns:    make(map[string]*Connection),
		handlers: make(map[string]HandlerFunc),
		sessions: sessions,
		log:      log.With("component", "ws"),
	}
}

func (h *Hub) RegisterHandler(event string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = fn
}

// Connect assigns conn a fresh id, starts its pumps and greets it with
// that id.
func (h *Hub) Connect(conn *websocket.Conn) *Connection {
	c := NewConnection(uuid.NewString(), conn)

	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	h.sessions.Register(c.ID)
	metrics.Connections.Inc()
	h.log.Info("client connected", "conn", c.ID, "remote", c.RemoteAddr)

	c.SendCh <- models.Message{Type: protocol.EventConnected, Payload: protocol.Connected{ID: c.ID}}

	h.wg.Add(3)
	go h.readPump(c)
	go h.writePump(c)
	go h.dispatchPump(c)
	return c
}

// Send queues msg for connID, waiting for room in its buffer.
func (h *Hub) Send(ctx context.Context, connID string, msg models.Message) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, connID)
	}
	select {
	case <-c.DisconnectCh:
		return fmt.Errorf("%w: %s", ErrNotConnected, connID)
	default:
	}
	select {
	case c.SendCh <- msg:
		return nil
	case <-c.DisconnectCh:
		return fmt.Errorf("%w: %s", ErrNotConnected, connID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) IsConnected(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[connID]
	return ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Disconnect drops connID and releases its session. Safe to call repeatedly.
func (h *Hub) Disconnect(connID string) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		h.disconnect(c)
	}
}

func (h *Hub) disconnect(c *Connection) {
	if !c.close() {
		return
	}
	h.mu.Lock()
	if h.conns[c.ID] == c {
		delete(h.conns, c.ID)
	}
	h.mu.Unlock()
	metrics.Connections.Dec()
	h.sessions.Release(c.ID)
	h.log.Info("client disconnected", "conn", c.ID)
}

// Close drops every connection and waits for their pumps to stop.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.disconnect(c)
	}
	h.wg.Wait()
}

func (h *Hub) dispatch(c *Connection, msg models.InboundMessage) {
	h.mu.RLock()
	fn, ok := h.handlers[msg.Type]
	h.mu.RUnlock()
	if !ok {
		h.log.Debug("no handler for event", "conn", c.ID, "type", msg.Type)
		return
	}
	if err := fn(c.Context(), c, msg.Payload); err != nil {
		h.log.Warn("event handler failed", "conn", c.ID, "type", msg.Type, "error", err)
	}
}
