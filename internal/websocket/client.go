package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"

	"notefiber-collab/pkg/crdt"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Client is a middleman between the websocket connection and the hub.
// Binary frames carry CRDT updates. A text frame carries a JSON state vector
// and asks for the updates the client is missing.
type Client struct {
	Hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	ID         string
	UserID     string
	DocumentID string

	// Buffered channel of outbound frames.
	Send chan []byte
}

// readPump pumps frames from the websocket connection to the hub.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()
	if c.Hub.cfg.MaxFrameBytes > 0 {
		c.Conn.SetReadLimit(int64(c.Hub.cfg.MaxFrameBytes))
	}
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn(hubModule, "Unexpected close", map[string]interface{}{"client_id": c.ID, "error": err.Error()})
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			if err := c.Hub.Receive(ctx, c.DocumentID, c, data); err != nil {
				c.Hub.logger.Warn(hubModule, "Rejected update frame", map[string]interface{}{"client_id": c.ID, "error": err.Error()})
			}
		case websocket.TextMessage:
			var sv crdt.StateVector
			if err := json.Unmarshal(data, &sv); err != nil {
				c.Hub.logger.Warn(hubModule, "Bad state vector", map[string]interface{}{"client_id": c.ID, "error": err.Error()})
				continue
			}
			if err := c.Hub.Sync(ctx, c, sv); err != nil {
				c.Hub.logger.Error(hubModule, "Catch-up failed", map[string]interface{}{"client_id": c.ID, "error": err.Error()})
			}
		}
	}
}

// writePump pumps frames from the hub to the websocket connection. Frames are
// written one per message.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
