package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/The-Promised-Neverland/vsharing/internal/models"
)

const maxMessageSize = 8192

func (h *Hub) readPump(c *Connection) {
	defer h.wg.Done()
	defer h.disconnect(c)

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	h.handlePong(c)
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read error", "conn", c.ID, "error", err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()

		var msg models.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			h.log.Warn("malformed message", "conn", c.ID, "error", err)
			continue
		}
		select {
		case c.IncomingCh <- msg:
		case <-c.DisconnectCh:
			return
		}
	}
}

func (h *Hub) writePump(c *Connection) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer h.disconnect(c)

	for {
		select {
		case msg := <-c.SendCh:
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Error("failed to marshal message", "conn", c.ID, "type", msg.Type, "error", err)
				continue
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Warn("websocket write error", "conn", c.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := h.sendPing(c); err != nil {
				h.log.Warn("ping failed", "conn", c.ID, "error", err)
				return
			}
		case <-c.DisconnectCh:
			return
		}
	}
}

// dispatchPump runs handlers for one connection in arrival order, off the
// read path.
func (h *Hub) dispatchPump(c *Connection) {
	defer h.wg.Done()
	for {
		select {
		case msg := <-c.IncomingCh:
			h.dispatch(c, msg)
		case <-c.DisconnectCh:
			return
		}
	}
}
