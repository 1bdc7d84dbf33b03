package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leaderboard-ledger/internal/domain"
)

// Message types
const (
	MessageTypeTopScoreChanged     = "top_score_changed"
	MessageTypePlayerUpdate        = "player_update"
	MessageTypeLeaderboardSnapshot = "leaderboard_snapshot"
	MessageTypeSubscribe           = "subscribe"
	MessageTypeUnsubscribe         = "unsubscribe"
	MessageTypeSubscribed          = "subscribed"
	MessageTypeUnsubscribed        = "unsubscribed"
	MessageTypePing                = "ping"
	MessageTypePong                = "pong"
	MessageTypeError               = "error"
)

// ChannelLeaderboard carries champion changes and periodic snapshots.
const ChannelLeaderboard = "leaderboard"

const playerChannelPrefix = "player:"

// PlayerChannel returns the channel carrying updates to id's record.
func PlayerChannel(id domain.Identity) string {
	return playerChannelPrefix + id.String()
}

// validChannel reports whether clients may subscribe to channel.
func validChannel(channel string) bool {
	if channel == ChannelLeaderboard {
		return true
	}
	id, ok := strings.CutPrefix(channel, playerChannelPrefix)
	return ok && domain.Identity(id).Valid()
}

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by channel
	clients map[string]map[*Client]bool

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
	client  *Client
	channel string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
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

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.removeClient(client)
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.clients[req.channel]; !ok {
					h.clients[req.channel] = make(map[*Client]bool)
				}
				h.clients[req.channel][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "channel", req.channel)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.channel]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.channel)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "channel", req.channel)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.allClients[client]; !ok {
		return
	}
	delete(h.allClients, client)
	for channel, clients := range h.clients {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.clients, channel)
			}
		}
	}
	close(client.send)
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the clients subscribed to its channel,
// or to every client when it has none
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.Channel != "" {
		targets = h.clients[message.Channel]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// BroadcastTopScore announces a new champion or top score
func (h *Hub) BroadcastTopScore(snap domain.LeaderboardSnapshot) {
	h.enqueue(&Message{
		Type:      MessageTypeTopScoreChanged,
		Channel:   ChannelLeaderboard,
		Data:      snap,
		Timestamp: time.Now(),
	})
}

// BroadcastPlayerUpdate sends a player's record to its channel
func (h *Hub) BroadcastPlayerUpdate(player domain.PlayerRecord) {
	h.enqueue(&Message{
		Type:      MessageTypePlayerUpdate,
		Channel:   PlayerChannel(player.Owner),
		Data:      player,
		Timestamp: time.Now(),
	})
}

// BroadcastSnapshot sends the periodic leaderboard aggregates
func (h *Hub) BroadcastSnapshot(snap domain.LeaderboardSnapshot) {
	h.enqueue(&Message{
		Type:      MessageTypeLeaderboardSnapshot,
		Channel:   ChannelLeaderboard,
		Data:      snap,
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a channel
func (h *Hub) Subscribe(client *Client, channel string) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, channel: channel}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a channel
func (h *Hub) Unsubscribe(client *Client, channel string) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, channel: channel}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers for a channel
func (h *Hub) GetSubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[channel])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

// Stats reports connection and per-channel subscriber counts
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	channels := make(map[string]int, len(h.clients))
	for channel, clients := range h.clients {
		channels[channel] = len(clients)
	}
	return map[string]interface{}{
		"total_connections": len(h.allClients),
		"channels":          channels,
	}
}
