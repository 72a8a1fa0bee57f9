package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auditpulse/pulse-monitor/internal/metrics"
	"github.com/auditpulse/pulse-monitor/internal/models"
)

// StreamMessage is one push notification sent to alert stream clients.
type StreamMessage struct {
	Type      string       `json:"type"`
	EntityRef string       `json:"entity_ref"`
	Alert     models.Alert `json:"alert"`
	Timestamp time.Time    `json:"timestamp"`
}

type envelope struct {
	entityRef string
	data      []byte
}

// Hub maintains active WebSocket connections and fans alerts out to the
// clients subscribed to each entity.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(ctx context.Context, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        hubCtx,
		cancel:     cancel,
		logger:     logger,
	}
}

// Run starts the hub loop. It returns when the hub is stopped.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.Stop()
			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			// slow clients are dropped, which mutates the map
			h.mu.Lock()
			for client := range h.clients {
				if client.entityRef != msg.entityRef {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					close(client.send)
					delete(h.clients, client)
					metrics.StreamClients.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// add tracks the client. A client registered after Stop is closed at once.
func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		close(client.send)
		return
	}
	h.clients[client] = true
	metrics.StreamClients.Inc()
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.StreamClients.Dec()
	}
}

// Register adds a client unless the hub is stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client unless the hub is stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Publish queues newly accepted alerts for the entity's subscribers. It never
// blocks the evaluation pass: when the queue is full the alert is dropped.
func (h *Hub) Publish(entityRef string, alerts []models.Alert) {
	for _, a := range alerts {
		data, err := json.Marshal(StreamMessage{
			Type:      "alert_created",
			EntityRef: entityRef,
			Alert:     a,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			h.logger.Error("failed to encode stream message", zap.String("alert_id", a.ID), zap.Error(err))
			continue
		}
		select {
		case h.broadcast <- envelope{entityRef: entityRef, data: data}:
		case <-h.ctx.Done():
			return
		default:
			h.logger.Warn("stream queue full, dropping alert", zap.String("entity", entityRef), zap.String("alert_id", a.ID))
		}
	}
}

// Stop stops the hub and closes every client. It is safe to call more than once.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		metrics.StreamClients.Dec()
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
