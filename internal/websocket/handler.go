package websocket

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

func NewClient(hub *Hub, conn *websocket.Conn, documentID, userID string) *Client {
	return &Client{
		Hub:        hub,
		Conn:       conn,
		ID:         uuid.NewString(),
		UserID:     userID,
		DocumentID: documentID,
		Send:       make(chan []byte, sendBuffer),
	}
}

// ServeWs runs one socket until it closes. The client first receives the
// document's full state.
func ServeWs(ctx context.Context, hub *Hub, conn *websocket.Conn, documentID, userID string) {
	client := NewClient(hub, conn, documentID, userID)
	hub.Register(client)

	if err := hub.Sync(ctx, client, nil); err != nil {
		hub.logger.Error(hubModule, "Initial sync failed", map[string]interface{}{
			"document_id": documentID,
			"error":       err.Error(),
		})
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	client.readPump(ctx) // Run readPump in current goroutine (handler)
}
