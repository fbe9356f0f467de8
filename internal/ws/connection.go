package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/The-Promised-Neverland/vsharing/internal/models"
)

const (
	sendBuffer     = 256
	incomingBuffer = 64
)

type Connection struct {
	ID          string
	Conn        *websocket.Conn
	RemoteAddr  string
	ConnectedAt time.Time

	DisconnectCh chan struct{}
	SendCh       chan models.Message
	IncomingCh   chan models.InboundMessage

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.Mutex
	lastSeen time.Time
}

func NewConnection(id string, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	c := &Connection{
		ID:           id,
		Conn:         conn,
		ConnectedAt:  now,
		DisconnectCh: make(chan struct{}),
		SendCh:       make(chan models.Message, sendBuffer),
		IncomingCh:   make(chan models.InboundMessage, incomingBuffer),
		ctx:          ctx,
		cancel:       cancel,
		lastSeen:     now,
	}
	if conn != nil {
		c.RemoteAddr = conn.RemoteAddr().String()
	}
	return c
}

// Context is cancelled when the connection goes away.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// close reports whether this call was the one that closed c.
func (c *Connection) close() bool {
	closed := false
	c.closeOnce.Do(func() {
		closed = true
		c.cancel()
		close(c.DisconnectCh)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
	return closed
}
