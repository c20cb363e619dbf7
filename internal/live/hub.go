package live

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// wireMessage is the frame sent to websocket clients.
type wireMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub fans check-in notifications out to websocket subscribers grouped by
// event. Broadcasts go through Redis so every instance's subscribers see scans
// regardless of which instance handled the check-in.
type Hub struct {
	mu      sync.Mutex
	clients map[uuid.UUID]map[*Client]struct{}
	cancels map[uuid.UUID]func()

	pubsub *RedisPubSub
	logger *zap.Logger
}

// NewHub creates a hub. pubsub may be nil; broadcasts are then local only.
func NewHub(pubsub *RedisPubSub, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[uuid.UUID]map[*Client]struct{}),
		cancels: make(map[uuid.UUID]func()),
		pubsub:  pubsub,
		logger:  logger,
	}
}

// Broadcast publishes a notification for an event. With Redis configured the
// message loops back through pub/sub so all instances deliver it locally.
func (h *Hub) Broadcast(eventID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal broadcast payload", zap.Error(err))
		return
	}
	if h.pubsub != nil {
		if err := h.pubsub.Publish(eventID, event, data); err == nil {
			return
		}
		h.logger.Warn("redis publish failed, delivering locally", zap.String("event_id", eventID.String()))
	}
	h.deliver(eventID, event, data)
}

// deliver pushes a frame to this instance's subscribers of the event.
func (h *Hub) deliver(eventID uuid.UUID, event string, data json.RawMessage) {
	frame, err := json.Marshal(wireMessage{Event: event, Data: data})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[eventID] {
		select {
		case client.send <- frame:
		default:
			// Slow consumer; drop the frame rather than block the hub.
		}
	}
}

// subscribe registers a client and, on the first subscriber for an event,
// opens the Redis subscription for it.
func (h *Hub) subscribe(eventID uuid.UUID, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[eventID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[eventID] = set
		if h.pubsub != nil {
			cancel, err := h.pubsub.Subscribe(eventID, func(event string, payload []byte) {
				h.deliver(eventID, event, payload)
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed, local-only feed", zap.Error(err))
			} else {
				h.cancels[eventID] = cancel
			}
		}
	}
	set[c] = struct{}{}
}

// unsubscribe removes a client and tears down the Redis subscription when the
// last subscriber for an event leaves.
func (h *Hub) unsubscribe(eventID uuid.UUID, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[eventID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, eventID)
		if cancel, ok := h.cancels[eventID]; ok {
			cancel()
			delete(h.cancels, eventID)
		}
	}
}
