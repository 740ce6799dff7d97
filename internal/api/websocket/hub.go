// Package websocket fans auction events out to subscribed connections.
// Connections subscribe to a single topic: a per-auction channel or the
// marketplace-wide updates channel.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one broadcast message: the topic it targets plus the flat
// payload the services build. The payload always carries a "type" field.
type Event struct {
	Topic   string
	Payload map[string]string
}

// Hub manages WebSocket connections grouped by topic.
type Hub struct {
	logger      *zap.Logger
	clients     map[uuid.UUID]*Client
	clientsLock sync.RWMutex
	broadcast   chan Event
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
}

// Client is one WebSocket connection subscribed to a topic.
type Client struct {
	ID     uuid.UUID
	topic  string
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan map[string]string
	hub    *Hub
}

// NewHub creates the event hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[uuid.UUID]*Client),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run pumps registrations and broadcasts until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-h.done:
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		case <-ticker.C:
			h.pingClients()
		}
	}
}

// Stop shuts the hub down outside of context cancellation.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast queues an event for every subscriber of the topic. Never
// blocks the caller; a full hub queue drops the event with a log line.
func (h *Hub) Broadcast(topic string, event map[string]string) {
	select {
	case h.broadcast <- Event{Topic: topic, Payload: event}:
	default:
		h.logger.Warn("event hub queue full, dropping event",
			zap.String("topic", topic),
			zap.String("type", event["type"]))
	}
}

// RegisterClient hands a new connection to the hub loop.
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

// UnregisterClient removes a connection from the hub loop.
func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

func (h *Hub) registerClient(client *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	h.clients[client.ID] = client
	h.logger.Info("websocket client subscribed",
		zap.String("client_id", client.ID.String()),
		zap.String("topic", client.topic))
}

func (h *Hub) unregisterClient(client *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if _, exists := h.clients[client.ID]; exists {
		delete(h.clients, client.ID)
		close(client.send)
		h.logger.Info("websocket client unsubscribed",
			zap.String("client_id", client.ID.String()),
			zap.String("topic", client.topic))
	}
}

func (h *Hub) broadcastEvent(event Event) {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	for _, client := range h.clients {
		if client.topic != event.Topic {
			continue
		}
		select {
		case client.send <- event.Payload:
		default:
			// Slow consumer, drop the connection.
			h.logger.Warn("client send channel full, closing connection",
				zap.String("client_id", client.ID.String()))
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

func (h *Hub) pingClients() {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	for _, client := range h.clients {
		if err := client.conn.WriteControl(
			websocket.PingMessage,
			nil,
			time.Now().Add(10*time.Second),
		); err != nil {
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	for _, client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[uuid.UUID]*Client)
}

// NewClient wraps an upgraded connection subscribed to one topic.
func NewClient(conn *websocket.Conn, hub *Hub, topic string, userID uuid.UUID) *Client {
	return &Client{
		ID:     uuid.New(),
		topic:  topic,
		userID: userID,
		conn:   conn,
		send:   make(chan map[string]string, 16),
		hub:    hub,
	}
}

// ReadPump drains inbound frames until the connection drops. Subscribers
// are read-only except for ping keepalives.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error",
					zap.String("client_id", c.ID.String()),
					zap.Error(err))
			}
			break
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msgType, _ := msg["type"].(string); msgType == "ping" {
			select {
			case c.send <- map[string]string{"type": "pong"}:
			default:
			}
		}
	}
}

// WritePump pushes hub events and keepalive pings to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
