package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from the marketplace frontend; origin
		// enforcement happens at the edge.
		return true
	},
}

// Handler upgrades HTTP requests into hub subscriptions.
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates the WebSocket upgrade handler.
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

// SubscribeAuction handles GET /ws/auction/{id}: the per-auction event
// stream.
func (h *Handler) SubscribeAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	h.subscribe(w, r, "auction/"+auctionID.String())
}

// SubscribeUpdates handles GET /ws/updates: marketplace-wide lifecycle
// events.
func (h *Handler) SubscribeUpdates(w http.ResponseWriter, r *http.Request) {
	h.subscribe(w, r, "auctions/updates")
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, h.hub, topic, uuid.Nil)
	h.hub.RegisterClient(client)

	go client.WritePump()
	go client.ReadPump()
}
