package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/runthrough-pairing/internal/domain"
)

// Message types
const (
	MessageTypeTournamentUpdate  = "tournament_update"
	MessageTypeTournamentDeleted = "tournament_deleted"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type         string    `json:"type"`
	TournamentID int64     `json:"tournament_id,omitempty"`
	Data         any       `json:"data,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Hub keeps track of connected clients and fans tournament updates out to
// the clients subscribed to that tournament.
type Hub struct {
	// Subscribed clients by tournament ID
	subscribers map[int64]map[*Client]struct{}

	// All connected clients
	clients map[*Client]struct{}

	register      chan *Client
	unregister    chan *Client
	broadcast     chan *Message
	subscriptions chan subscription

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscription struct {
	client       *Client
	tournamentID int64
	subscribe    bool
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers:   make(map[int64]map[*Client]struct{}),
		clients:       make(map[*Client]struct{}),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *Message, 256),
		subscriptions: make(chan subscription, 64),
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
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
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.removeClient(client)
			h.logger.Debug("client unregistered", "client_id", client.id)

		case sub := <-h.subscriptions:
			h.applySubscription(sub)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for id, subs := range h.subscribers {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscribers, id)
		}
	}
	close(client.send)
}

func (h *Hub) applySubscription(sub subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// the client may have disconnected while the request was queued
	if _, connected := h.clients[sub.client]; !connected {
		return
	}

	subs, ok := h.subscribers[sub.tournamentID]
	if sub.subscribe {
		if !ok {
			subs = make(map[*Client]struct{})
			h.subscribers[sub.tournamentID] = subs
		}
		subs[sub.client] = struct{}{}
		h.logger.Debug("client subscribed", "client_id", sub.client.id, "tournament_id", sub.tournamentID)
		return
	}

	if ok {
		delete(subs, sub.client)
		if len(subs) == 0 {
			delete(h.subscribers, sub.tournamentID)
		}
	}
	h.logger.Debug("client unsubscribed", "client_id", sub.client.id, "tournament_id", sub.tournamentID)
}

// broadcastMessage sends a message to the subscribers of its tournament, or
// to everybody when it carries no tournament id.
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.clients
	if message.TournamentID != 0 {
		targets = h.subscribers[message.TournamentID]
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
		h.logger.Warn("broadcast channel full, dropping message",
			"type", message.Type,
			"tournament_id", message.TournamentID,
		)
	}
}

// BroadcastTournamentUpdate sends fresh standings and active matches to the
// subscribers of a tournament
func (h *Hub) BroadcastTournamentUpdate(update domain.TournamentUpdate) {
	h.enqueue(&Message{
		Type:         MessageTypeTournamentUpdate,
		TournamentID: update.TournamentID,
		Data:         update,
		Timestamp:    time.Now(),
	})
}

// BroadcastTournamentDeleted tells subscribers that a tournament is gone
func (h *Hub) BroadcastTournamentDeleted(tournamentID int64) {
	h.enqueue(&Message{
		Type:         MessageTypeTournamentDeleted,
		TournamentID: tournamentID,
		Timestamp:    time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a tournament subscription
func (h *Hub) Subscribe(client *Client, tournamentID int64) {
	h.subscriptions <- subscription{client: client, tournamentID: tournamentID, subscribe: true}
}

// Unsubscribe removes a client from a tournament subscription
func (h *Hub) Unsubscribe(client *Client, tournamentID int64) {
	h.subscriptions <- subscription{client: client, tournamentID: tournamentID}
}

// GetSubscriberCount returns the number of subscribers for a tournament
func (h *Hub) GetSubscriberCount(tournamentID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[tournamentID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
