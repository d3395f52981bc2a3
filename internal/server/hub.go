package server

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/sitebuild/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Client is one connected reload client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub tracks connected reload clients and fans messages out to them.
type Hub struct {
	clients      map[*Client]bool
	clientsMutex sync.RWMutex
	register     chan *Client
	unregister   chan *Client
	broadcast    chan []byte
	done         chan struct{}
	logger       logging.Logger
}

// NewHub creates a hub. It does nothing until Run is called.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run owns the client set until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.clientsMutex.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.clientsMutex.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clientsMutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(ctx, "Client connected", "clients", count)

		case client := <-h.unregister:
			h.clientsMutex.Lock()
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(ctx, "Client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.clientsMutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client; drop it rather than block everyone.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.clientsMutex.Unlock()
		}
	}
}

// Broadcast queues message for every connected client. It never blocks; if
// the hub is not running or its queue is full the message is dropped.
func (h *Hub) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		return false
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) attach(ctx context.Context, conn *websocket.Conn) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 16),
		hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	case <-ctx.Done():
		conn.Close(websocket.StatusGoingAway, "")
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains incoming frames so control frames are processed, and
// unregisters the client when the connection ends.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && status != -1 {
				c.hub.logger.Debug(context.Background(), "WebSocket read failed", "error", err.Error())
			}
			return
		}
	}
}

// writePump sends queued messages and keep-alive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.conn.CloseNow()
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.conn.CloseNow()
				return
			}
		}
	}
}
