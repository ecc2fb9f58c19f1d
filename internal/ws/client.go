package ws

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxControlMessageSize caps inbound frames; subscribers only send
	// control traffic, never business payloads.
	maxControlMessageSize = 512
)

// Client binds one websocket connection to one hub subscription. The write
// pump drains the subscription and the read pump watches for peer-initiated
// close; whichever stops first tears the other down, and the connection is
// released only after both have returned.
type Client struct {
	hub  *Hub
	sub  *Subscription
	conn *websocket.Conn
	log  *slog.Logger
}

// NewClient wraps an upgraded connection and its subscription.
func NewClient(hub *Hub, sub *Subscription, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{hub: hub, sub: sub, conn: conn, log: logger}
}

// Run serves the connection until either side ends it. It blocks the
// caller's goroutine on the write pump and spawns the read pump.
func (c *Client) Run() {
	go c.readPump()
	c.writePump()
}

// readPump consumes control frames (ping/pong/close). Any read error,
// including a clean close from the peer, unsubscribes the client, which in
// turn closes the event channel and stops the write pump.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxControlMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read ended", "error", err)
			}
			return
		}
	}
}

// writePump forwards events to the peer and keeps the connection alive with
// pings. A write error unsubscribes the client so the read pump's deadline
// handling can finish the teardown.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.sub.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Subscription ended; tell the peer before closing.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("websocket send failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
