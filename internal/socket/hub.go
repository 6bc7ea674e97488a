package socket

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pockettalk/pockettalk-backend/internal/logger"
)

type Hub struct {
	id       uuid.UUID
	log      *logger.Logger
	mu       sync.RWMutex
	channels map[string]map[uuid.UUID]*Client

	redisPubSub *RedisPubSub
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		id:       uuid.New(),
		log:      log.With("component", "Hub"),
		channels: make(map[string]map[uuid.UUID]*Client),
	}
}

func (h *Hub) SetRedisPubSub(rp *RedisPubSub) {
	h.redisPubSub = rp
}

func (h *Hub) Subscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		if h.channels[ch] == nil {
			h.channels[ch] = make(map[uuid.UUID]*Client)
		}
		h.channels[ch][client.ID] = client
	}
	h.log.Debug("Client subscribed", "client", client.ID, "channels", channels)
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, clientsMap := range h.channels {
		if _, ok := clientsMap[client.ID]; ok {
			delete(clientsMap, client.ID)
			if len(clientsMap) == 0 {
				delete(h.channels, ch)
			}
		}
	}
	h.log.Debug("Client unsubscribed from all channels", "client", client.ID)
}

func (h *Hub) UnsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clientsMap, ok := h.channels[channel]; ok {
		delete(clientsMap, client.ID)
		if len(clientsMap) == 0 {
			delete(h.channels, channel)
		}
	}
}

// localBroadcast delivers to clients on this node. except skips one client
// id (the sender of a typing event should not hear itself).
func (h *Hub) localBroadcast(msg Message, except uuid.UUID) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientsMap, ok := h.channels[msg.Channel]
	if !ok {
		return
	}
	for id, client := range clientsMap {
		if id == except {
			continue
		}
		client.send(msg)
	}
}

// BroadcastGlobal fans a channel message out to local clients and, when
// Redis pubsub is wired, to every other node.
func (h *Hub) BroadcastGlobal(ctx context.Context, msg Message, except uuid.UUID) {
	h.localBroadcast(msg, except)

	if h.redisPubSub != nil {
		if err := h.redisPubSub.Publish(h.id, msg); err != nil {
			h.log.Warn("Failed to publish to Redis", "error", err)
		}
	}
}
