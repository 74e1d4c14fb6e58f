package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
)

const (
	writeWait      = 10 * time.Second
	clientBuffer   = 16
	broadcastQueue = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	initial []byte
}

// Hub fans aggregate updates out to websocket subscribers. Slow clients
// are dropped rather than blocking the ledger.
type Hub struct {
	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan domain.Aggregates
	done       chan struct{}
	current    func() domain.Aggregates
	logger     *slog.Logger
}

// NewHub creates a hub. current supplies the snapshot sent to each new
// subscriber.
func NewHub(current func() domain.Aggregates, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan domain.Aggregates, broadcastQueue),
		done:       make(chan struct{}),
		current:    current,
		logger:     logger,
	}
}

// Publish queues an update. It never blocks; when the queue is full the
// update is dropped and the next one carries the newer totals.
func (h *Hub) Publish(agg domain.Aggregates) {
	select {
	case h.broadcast <- agg:
	default:
		h.logger.Warn("aggregate broadcast queue full, dropping update")
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			if c.initial != nil {
				c.send <- c.initial
			}
			h.logger.Debug("websocket client registered", "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("websocket client unregistered", "clients", len(h.clients))
			}

		case agg := <-h.broadcast:
			data, err := json.Marshal(agg)
			if err != nil {
				h.logger.Error("failed to marshal aggregates", "error", err)
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// ServeWS upgrades the request and streams aggregates until the client
// goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if h.current != nil {
		if data, err := json.Marshal(h.current()); err == nil {
			c.initial = data
		}
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *wsClient) {
	defer func() {
		_ = c.conn.Close()
	}()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump only watches for the close frame; subscribers never send data.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}
