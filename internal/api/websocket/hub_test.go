package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	handler := NewHandler(hub, zaptest.NewLogger(t))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/auction/{id}", handler.SubscribeAuction)
	mux.HandleFunc("GET /ws/updates", handler.SubscribeUpdates)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload map[string]string
	require.NoError(t, conn.ReadJSON(&payload))
	return payload
}

func waitForSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.clientsLock.RLock()
		count := len(hub.clients)
		hub.clientsLock.RUnlock()
		if count >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers", n)
}

func TestHub_FanOutPerAuctionTopic(t *testing.T) {
	hub, srv, cancel := newTestServer(t)
	defer cancel()

	auctionID := uuid.New()
	sub1 := dial(t, srv, "/ws/auction/"+auctionID.String())
	sub2 := dial(t, srv, "/ws/auction/"+auctionID.String())
	other := dial(t, srv, "/ws/auction/"+uuid.New().String())
	waitForSubscribers(t, hub, 3)

	hub.Broadcast("auction/"+auctionID.String(), map[string]string{
		"type":   "NEW_BID",
		"amount": "6000.00",
	})

	for _, conn := range []*websocket.Conn{sub1, sub2} {
		event := readEvent(t, conn)
		assert.Equal(t, "NEW_BID", event["type"])
		assert.Equal(t, "6000.00", event["amount"])
	}

	// The other-topic subscriber sees nothing.
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var payload map[string]string
	assert.Error(t, other.ReadJSON(&payload))
}

func TestHub_UpdatesTopic(t *testing.T) {
	hub, srv, cancel := newTestServer(t)
	defer cancel()

	conn := dial(t, srv, "/ws/updates")
	waitForSubscribers(t, hub, 1)

	hub.Broadcast("auctions/updates", map[string]string{
		"type":      "AUCTION_STARTED",
		"auctionId": uuid.New().String(),
	})

	event := readEvent(t, conn)
	assert.Equal(t, "AUCTION_STARTED", event["type"])
}

func TestHub_LateSubscriberMissesEarlierEvents(t *testing.T) {
	hub, srv, cancel := newTestServer(t)
	defer cancel()

	auctionID := uuid.New()
	hub.Broadcast("auction/"+auctionID.String(), map[string]string{"type": "NEW_BID"})
	// Give the hub loop time to drain the queue before subscribing.
	time.Sleep(50 * time.Millisecond)

	conn := dial(t, srv, "/ws/auction/"+auctionID.String())
	waitForSubscribers(t, hub, 1)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var payload map[string]string
	assert.Error(t, conn.ReadJSON(&payload))
}

func TestHub_RejectsInvalidAuctionID(t *testing.T) {
	_, srv, cancel := newTestServer(t)
	defer cancel()

	resp, err := http.Get(srv.URL + "/ws/auction/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_PingGetsPong(t *testing.T) {
	hub, srv, cancel := newTestServer(t)
	defer cancel()

	conn := dial(t, srv, "/ws/updates")
	waitForSubscribers(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	event := readEvent(t, conn)
	assert.Equal(t, "pong", event["type"])
}
