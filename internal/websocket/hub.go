package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"notefiber-collab/internal/collab"
	"notefiber-collab/internal/pkg/logger"
	"notefiber-collab/pkg/crdt"
)

const hubModule = "Hub"

var ErrFrameTooLarge = errors.New("websocket: update frame too large")

// Snapshotter answers catch-up requests with the updates a peer is missing.
type Snapshotter interface {
	Snapshot(ctx context.Context, documentID string, since crdt.StateVector) ([]byte, error)
}

type HubConfig struct {
	InstanceID    string
	RedisChannel  string
	Topic         string
	MaxFrameBytes int
}

// envelope is what relay instances exchange over redis.
type envelope struct {
	DocumentID string `json:"document_id"`
	InstanceID string `json:"instance_id"`
	Update     []byte `json:"update"`
}

// Hub relays update frames between the clients of a document, across relay
// instances, and into the persistence topic.
type Hub struct {
	// Rooms: DocumentID -> connected clients
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// Redis connection for cross-instance communication
	rdb *redis.Client

	publisher message.Publisher
	snapshots Snapshotter
	cfg       HubConfig

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, publisher message.Publisher, snapshots Snapshotter, cfg HubConfig, log logger.ILogger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rdb:        rdb,
		publisher:  publisher,
		snapshots:  snapshots,
		cfg:        cfg,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Ready is closed once the hub listens on the shared channel.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	} else {
		h.markReady()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.DocumentID]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[client.DocumentID] = room
			}
			room[client] = struct{}{}
			h.mu.Unlock()
			connectedClients.Inc()
			h.logger.Info(hubModule, "Client joined", map[string]interface{}{
				"document_id": client.DocumentID,
				"client_id":   client.ID,
				"user_id":     client.UserID,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.rooms[client.DocumentID]; ok {
				if _, member := room[client]; member {
					delete(room, client)
					close(client.Send)
					connectedClients.Dec()
				}
				if len(room) == 0 {
					delete(h.rooms, client.DocumentID)
					h.logger.Info(hubModule, "Room closed", map[string]interface{}{"document_id": client.DocumentID})
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) RoomSize(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[documentID])
}

// Receive relays an update a client sent. from may be nil for updates that
// did not arrive over a socket.
func (h *Hub) Receive(ctx context.Context, documentID string, from *Client, update []byte) error {
	if h.cfg.MaxFrameBytes > 0 && len(update) > h.cfg.MaxFrameBytes {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(update))
	}
	framesReceived.Inc()

	// 1. Local peers
	h.Broadcast(documentID, update, from)

	// 2. Persistence
	if h.publisher != nil {
		sink := collab.NewWatermillSink(h.publisher, h.cfg.Topic, documentID)
		if err := sink.Publish(ctx, update); err != nil {
			h.logger.Error(hubModule, "Failed to queue update for persistence", map[string]interface{}{
				"document_id": documentID,
				"error":       err.Error(),
			})
			return err
		}
	}

	// 3. Other instances
	if h.rdb != nil {
		payload, err := json.Marshal(envelope{DocumentID: documentID, InstanceID: h.cfg.InstanceID, Update: update})
		if err != nil {
			return err
		}
		if err := h.rdb.Publish(ctx, h.cfg.RedisChannel, payload).Err(); err != nil {
			h.logger.Warn(hubModule, "Failed to fan out update", map[string]interface{}{
				"document_id": documentID,
				"error":       err.Error(),
			})
		}
	}
	return nil
}

// Broadcast sends an update to the document's local clients except one.
func (h *Hub) Broadcast(documentID string, update []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[documentID] {
		if client == except {
			continue
		}
		h.deliver(client, update)
	}
}

// deliver must run under h.mu.
func (h *Hub) deliver(client *Client, frame []byte) {
	select {
	case client.Send <- frame:
		framesSent.Inc()
	default:
		h.logger.Warn(hubModule, "Client Send buffer full, dropping client", map[string]interface{}{
			"document_id": client.DocumentID,
			"client_id":   client.ID,
		})
		// the client reconnects and catches up with a state vector request
		go h.Unregister(client)
	}
}

// Sync answers a client's state vector with what it is missing.
func (h *Hub) Sync(ctx context.Context, client *Client, since crdt.StateVector) error {
	if h.snapshots == nil {
		return nil
	}
	diff, err := h.snapshots.Snapshot(ctx, client.DocumentID, since)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, member := h.rooms[client.DocumentID][client]; member {
		h.deliver(client, diff)
	}
	return nil
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, h.cfg.RedisChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Error(hubModule, "Redis subscription failed", map[string]interface{}{"error": err.Error()})
		h.markReady()
		return
	}
	h.markReady()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.logger.Warn(hubModule, "Redis msg parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if env.InstanceID == h.cfg.InstanceID {
				continue
			}
			h.Broadcast(env.DocumentID, env.Update, nil)
		}
	}
}
