// Package client is a Go client for the relay socket. It can request
// transfers as a sender and saves incoming files as a receiver.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/protocol"
	"github.com/The-Promised-Neverland/vsharing/pkg/logger"
)

const (
	readDeadline = 70 * time.Second
	writeWait    = 10 * time.Second
	bufferSize   = 256
)

var ErrClosed = errors.New("connection is closed")

type Options struct {
	// SaveDir receives incoming files. Empty disables receiving.
	SaveDir string
	Logger  *slog.Logger
	Dialer  *websocket.Dialer
}

// Event is a transfer-level notification surfaced to the caller.
type Event struct {
	Type     string
	FileID   string
	Progress int
	Path     string
	Message  string
	PeerID   string
	HasFile  bool
	FileInfo *models.FileInfo
}

type Client struct {
	ID   string
	Conn *websocket.Conn

	receiver   *Receiver
	handlers   map[string]func(payload json.RawMessage) error
	sendCh     chan models.Message
	incomingCh chan models.InboundMessage
	events     chan Event
	log        *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// WebSocketURL turns an http(s) or ws(s) base URL into the relay's socket URL.
func WebSocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}

// Dial connects to the relay and waits for the connection id greeting.
func Dial(ctx context.Context, relayURL string, opts Options) (*Client, error) {
	wsURL, err := WebSocketURL(relayURL)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := opts.Logger
	if log == nil {
		log = logger.Log
	}
	log = log.With("component", "client")

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	deadline := time.Now().Add(writeWait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetReadDeadline(deadline)
	var hello models.InboundMessage
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	var greeting protocol.Connected
	if hello.Type != protocol.EventConnected || json.Unmarshal(hello.Payload, &greeting) != nil || greeting.ID == "" {
		conn.Close()
		return nil, fmt.Errorf("unexpected greeting %q", hello.Type)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:         greeting.ID,
		Conn:       conn,
		handlers:   make(map[string]func(payload json.RawMessage) error),
		sendCh:     make(chan models.Message, bufferSize),
		incomingCh: make(chan models.InboundMessage, bufferSize),
		events:     make(chan Event, 4*bufferSize),
		log:        log.With("conn", greeting.ID),
		ctx:        cctx,
		cancel:     cancel,
	}
	if opts.SaveDir != "" {
		c.receiver, err = NewReceiver(opts.SaveDir)
		if err != nil {
			conn.Close()
			cancel()
			return nil, err
		}
	}
	c.registerDefaultHandlers()
	c.log.Info("connected to relay", "url", wsURL)

	c.wg.Add(3)
	go c.readPump()
	go c.writePump()
	go c.dispatchPump()
	return c, nil
}

func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Send queues msg, waiting for room in the buffer.
func (c *Client) Send(ctx context.Context, msg models.Message) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.sendCh <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.Send(ctx, models.Message{Type: protocol.EventJoinRoom, Payload: protocol.JoinRoomRequest{RoomID: roomID}})
}

func (c *Client) StartTransfer(ctx context.Context, fileID, receiverID string) error {
	return c.Send(ctx, models.Message{
		Type:    protocol.EventStartTransfer,
		Payload: protocol.StartTransferRequest{FileID: fileID, ReceiverID: receiverID},
	})
}

func (c *Client) CheckFile(ctx context.Context, fileID string) error {
	return c.Send(ctx, models.Message{Type: protocol.EventCheckFile, Payload: protocol.CheckFileRequest{FileID: fileID}})
}

// Close shuts the connection and drops any partially received files.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.Conn.Close()
		c.wg.Wait()
		if c.receiver != nil {
			c.receiver.AbortAll()
		}
		close(c.events)
	})
	return err
}

// shutdown is Close from inside a pump, which must not wait on itself.
func (c *Client) shutdown() {
	c.cancel()
	c.Conn.Close()
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}
