package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/kehao95/repo-dispatch-relay/internal/message"
	"go.uber.org/zap"
)

// Hub fans relay outcomes out to connected feed clients. All client state is
// owned by the Run goroutine.
type Hub struct {
	clients    map[*Client][]string
	broadcast  chan broadcastMessage
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
}

type broadcastMessage struct {
	result string
	data   []byte
}

type subscription struct {
	client  *Client
	results []string
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client][]string),
		broadcast:  make(chan broadcastMessage, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// Run serves the hub until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = nil
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			h.clients[sub.client] = sub.results
			ack, _ := json.Marshal(message.Subscribe{Type: message.SubscribedType, Results: sub.results})
			h.deliver(sub.client, ack)
		case msg := <-h.broadcast:
			for client, results := range h.clients {
				if !wants(results, msg.result) {
					continue
				}
				h.deliver(client, msg.data)
			}
		}
	}
}

// deliver drops clients that cannot keep up.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.logger.Warnw("feed client too slow, disconnecting", "remote", client.conn.RemoteAddr().String())
		delete(h.clients, client)
		close(client.send)
	}
}

// Publish queues out for broadcast without blocking the caller.
func (h *Hub) Publish(out message.Outcome) {
	data, err := json.Marshal(out)
	if err != nil {
		h.logger.Warnw("failed to encode outcome", "error", err)
		return
	}
	select {
	case h.broadcast <- broadcastMessage{result: out.Result, data: data}:
	default:
		h.logger.Warnw("feed broadcast dropped", "delivery_id", out.DeliveryID, "result", out.Result)
	}
}

// ServeHTTP upgrades the request to a feed connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("ws upgrade failed", "error", err)
		return
	}
	h.logger.Infow("ws connected", "remote", r.RemoteAddr)

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 16),
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	client.readPump()

	h.logger.Infow("ws disconnected", "remote", r.RemoteAddr)
}

func wants(results []string, result string) bool {
	if len(results) == 0 {
		return true
	}
	for _, candidate := range results {
		if candidate == result {
			return true
		}
	}
	return false
}

// Client is one feed connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg message.Subscribe
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != message.SubscribeType {
			continue
		}
		c.hub.logger.Infow("ws subscribed", "remote", c.conn.RemoteAddr().String(), "results", msg.Results)
		select {
		case c.hub.subscribe <- subscription{client: c, results: append([]string(nil), msg.Results...)}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
