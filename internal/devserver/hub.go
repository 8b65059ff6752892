package devserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/assetpipe/internal/telemetry"
)

// ReloadMessage tells a connected page to reload itself.
const ReloadMessage = "reload"

const writeWait = 5 * time.Second

// Hub tracks the browsers connected to the reload socket.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	// gorilla connections support one concurrent writer
	mu sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and holds the connection open until the
// browser goes away. Anything the browser sends is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade reload connection")
		return
	}

	c := &client{conn: conn}
	h.add(r.Context(), c)
	defer h.remove(context.WithoutCancel(r.Context()), c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends msg to every connected client and returns how many received
// it. Clients that fail are dropped.
func (h *Hub) Broadcast(ctx context.Context, msg string) int {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range clients {
		if err := c.write(websocket.TextMessage, []byte(msg)); err != nil {
			log.Debug().Err(err).Msg("Dropping reload client")
			h.remove(ctx, c)
			continue
		}
		sent++
	}

	telemetry.GetMetrics().ReloadsBroadcastTotal.Add(ctx, 1)
	log.Debug().Str("message", msg).Int("clients", sent).Msg("Broadcast")

	return sent
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close sends a close frame to every client and disconnects them.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for c := range clients {
		_ = c.write(websocket.CloseMessage, msg)
		_ = c.conn.Close()
	}
	telemetry.GetMetrics().ReloadClients.Add(context.Background(), -int64(len(clients)))
}

func (h *Hub) add(ctx context.Context, c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	telemetry.GetMetrics().ReloadClients.Add(ctx, 1)
}

func (h *Hub) remove(ctx context.Context, c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		_ = c.conn.Close()
		telemetry.GetMetrics().ReloadClients.Add(ctx, -1)
	}
}
