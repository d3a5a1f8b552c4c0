package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/marketdata"
	"github.com/user/papertrade/backend/internal/models"
)

// Message types sent on the feed.
const (
	TypeQuote = "quote"
	TypeTrade = "trade"
)

// Message is the envelope of every frame written to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client represents a single WebSocket client connection.
type Client struct {
	Addr string
	Send chan []byte // Buffered channel for outbound messages
}

// NewClient returns a client with a send buffer of size frames.
func NewClient(addr string, size int) *Client {
	return &Client{Addr: addr, Send: make(chan []byte, size)}
}

// Hub manages WebSocket clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	log        *zap.Logger
	mu         sync.RWMutex
}

// NewHub creates and initializes a new Hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the Hub's event loop. It returns when ctx is done, closing every
// client's Send channel.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("websocket hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("client registered", zap.String("addr", client.Addr))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.log.Debug("client unregistered", zap.String("addr", client.Addr))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Slow consumer: drop it rather than stall everyone else.
					h.log.Warn("client send buffer full, dropping", zap.String("addr", client.Addr))
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Join registers c. It returns false once the hub has stopped.
func (h *Hub) Join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Leave unregisters c. Safe to call more than once and after the hub stopped.
func (h *Hub) Leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every client. It never blocks; when the queue
// is full the message is dropped.
func (h *Hub) Broadcast(msgType string, data any) {
	b, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.log.Error("marshal broadcast", zap.String("type", msgType), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.log.Warn("broadcast queue full, dropping message", zap.String("type", msgType))
	}
}

// TradeExecuted publishes a committed trade to the feed.
func (h *Hub) TradeExecuted(t *models.Trade) {
	h.Broadcast(TypeTrade, t)
}

// PublishQuotes publishes a batch of quotes to the feed.
func (h *Hub) PublishQuotes(quotes []marketdata.Quote) {
	for _, q := range quotes {
		h.Broadcast(TypeQuote, q)
	}
}
