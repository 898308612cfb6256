package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartbuilding/internal/metrics"
)

const defaultClientBuffer = 16

// Message is one encoded event delivered to a stream client.
type Message struct {
	Event string
	Data  json.RawMessage
}

// Hub keeps the connected stream clients. Slow clients lose messages
// instead of blocking the poller.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]chan Message
	buffer  int
	log     *zap.Logger
}

func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Hub{
		clients: make(map[string]chan Message),
		buffer:  buffer,
		log:     log,
	}
}

// Subscribe registers a client and returns its id and message channel.
func (h *Hub) Subscribe() (string, <-chan Message) {
	id := uuid.NewString()
	ch := make(chan Message, h.buffer)

	h.mu.Lock()
	h.clients[id] = ch
	n := len(h.clients)
	h.mu.Unlock()

	metrics.RealtimeClients.Set(float64(n))
	h.log.Debug("stream client connected", zap.String("client_id", id), zap.Int("clients", n))
	return id, ch
}

// Unsubscribe removes a client and closes its channel. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(ch)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		metrics.RealtimeClients.Set(float64(n))
		h.log.Debug("stream client disconnected", zap.String("client_id", id), zap.Int("clients", n))
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Publish(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	msg := Message{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.log.Debug("stream client lagging, message dropped",
				zap.String("client_id", id), zap.String("event", event))
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	metrics.RealtimeClients.Set(0)
	return nil
}
