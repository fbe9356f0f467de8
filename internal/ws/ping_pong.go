package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

func (h *Hub) sendPing(c *Connection) error {
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (h *Hub) handlePong(c *Connection) {
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}
