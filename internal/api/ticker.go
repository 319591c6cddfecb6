package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/factoring/internal/models"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS layer
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// SnapshotSource yields the market statistics pushed to ticker clients.
type SnapshotSource interface {
	Snapshot() models.MarketStatistics
}

// Ticker pushes market statistics to websocket subscribers.
type Ticker struct {
	source SnapshotSource
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewTicker creates a ticker publishing snapshots from source.
func NewTicker(source SnapshotSource, logger *zap.Logger) *Ticker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{
		source:  source,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Clients returns the number of connected subscribers.
func (t *Ticker) Clients() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// Broadcast sends the current snapshot to every subscriber and drops those
// that fail.
func (t *Ticker) Broadcast() {
	data, err := json.Marshal(t.source.Snapshot())
	if err != nil {
		t.logger.Error("Failed to marshal market stats", zap.Error(err))
		return
	}

	t.mu.RLock()
	clients := make([]*wsClient, 0, len(t.clients))
	for c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(data); err != nil {
			t.logger.Debug("Dropping ticker client", zap.Error(err))
			t.remove(c)
		}
	}
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Ticker) remove(c *wsClient) {
	t.mu.Lock()
	_, ok := t.clients[c]
	delete(t.clients, c)
	t.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Run broadcasts every interval until ctx is done, then disconnects all
// subscribers.
func (t *Ticker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			for c := range t.clients {
				c.conn.Close()
				delete(t.clients, c)
			}
			t.mu.Unlock()
			return nil
		case <-ticker.C:
			t.Broadcast()
		}
	}
}

// HandleWebSocket subscribes the caller to the ticker
func (t *Ticker) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	t.mu.Lock()
	t.clients[client] = struct{}{}
	t.mu.Unlock()

	// Send initial snapshot
	if data, err := json.Marshal(t.source.Snapshot()); err == nil {
		if err := client.send(data); err != nil {
			t.remove(client)
			return
		}
	}

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			t.remove(client)
			return
		}
	}
}
