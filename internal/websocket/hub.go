// Package websocket pushes live game metrics to connected Mini App clients.
//
// Each connection subscribes to a set of games (its owner's watch-list at
// connect time, plus whatever it asks for later). When the refresh worker
// stores new metrics for a game, the hub fans them out to that game's
// subscribers.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/roblox-stats/internal/model"
)

// Message types
const (
	MessageTypeGameUpdate   = "game_update"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string    `json:"type"`
	GameID    int64     `json:"universeId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GameUpdate is the payload of a game_update message.
type GameUpdate struct {
	UniverseID int64             `json:"universeId"`
	Metrics    model.GameMetrics `json:"metrics"`
	Rating     int               `json:"rating"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by game id
	clients map[int64]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	gameID int64
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[int64]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			for _, id := range client.initial {
				h.addLocked(client, id)
			}
			h.mu.Unlock()
			h.logger.Debug("client registered",
				"client_id", client.id,
				"user_id", client.userID,
				"subscriptions", len(client.initial),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for gameID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, gameID)
						}
					}
				}
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			// A subscribe can race with unregister; ignore clients that left.
			if h.allClients[req.client] {
				h.addLocked(req.client, req.gameID)
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "game_id", req.gameID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.gameID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.gameID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "game_id", req.gameID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) addLocked(c *Client, gameID int64) {
	if _, ok := h.clients[gameID]; !ok {
		h.clients[gameID] = make(map[*Client]bool)
	}
	h.clients[gameID][c] = true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.allClients {
		c.closeSend()
	}
	h.allClients = make(map[*Client]bool)
	h.clients = make(map[int64]map[*Client]bool)
}

// Stop stops the hub and closes every client's send queue, which makes
// the write pumps send a close frame.
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the game's subscribers, or to every
// client when GameID is zero.
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.GameID != 0 {
		targets = h.clients[message.GameID]
	}
	for client := range targets {
		if !client.trySend(data) {
			// Slow reader; it will catch up on the next update.
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastGameUpdate sends fresh metrics to every subscriber of gameID.
// It never blocks; when the queue is full the update is dropped.
func (h *Hub) BroadcastGameUpdate(gameID int64, metrics model.GameMetrics) {
	message := &Message{
		Type:   MessageTypeGameUpdate,
		GameID: gameID,
		Data: GameUpdate{
			UniverseID: gameID,
			Metrics:    metrics,
			Rating:     metrics.Rating(),
		},
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "game_id", gameID)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		client.closeSend()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a game's subscribers
func (h *Hub) Subscribe(client *Client, gameID int64) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, gameID: gameID}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a game's subscribers
func (h *Hub) Unsubscribe(client *Client, gameID int64) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, gameID: gameID}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers of a game
func (h *Hub) GetSubscriberCount(gameID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[gameID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
