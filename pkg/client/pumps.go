package client

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/The-Promised-Neverland/vsharing/internal/models"
)

func (c *Client) readPump() {
	defer c.wg.Done()
	defer c.shutdown()

	c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.Conn.SetPingHandler(func(data string) error {
		c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
		return c.Conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.log.Warn("relay connection lost", "error", err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
		var msg models.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("failed to parse message", "error", err)
			continue
		}
		select {
		case c.incomingCh <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.sendCh:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(msg); err != nil {
				c.log.Warn("write failed", "type", msg.Type, "error", err)
				c.shutdown()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) dispatchPump() {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.incomingCh:
			handler, ok := c.handlers[msg.Type]
			if !ok {
				c.log.Debug("no handler for message type", "type", msg.Type)
				continue
			}
			if err := handler(msg.Payload); err != nil {
				c.log.Error("handler error", "type", msg.Type, "error", err)
			}
		case <-c.ctx.Done():
			return
		}
	}
}
