package main

import (
	"context"
	"sync"

	"github.com/hellocng/deepstack-sub002/common/logger"
)

// Hub maintains active WebSocket connections grouped by partition key
type Hub struct {
	// Map: partition key → clients watching that waitlist
	connections map[string]map[*Client]struct{}
	mutex       sync.RWMutex
	log         *logger.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
}

// Message is a change event addressed to one partition
type Message struct {
	Partition string
	Data      []byte
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string]map[*Client]struct{}),
		log:         log,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		done:        make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("hub stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToPartition(message)
		}
	}
}

// Register adds a client; false once the hub has stopped
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues data for every client watching partition
func (h *Hub) Broadcast(partition string, data []byte) {
	select {
	case h.broadcast <- &Message{Partition: partition, Data: data}:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients, ok := h.connections[client.partition]
	if !ok {
		clients = make(map[*Client]struct{})
		h.connections[client.partition] = clients
	}
	clients[client] = struct{}{}

	h.log.Debug("client registered",
		"partition", client.partition,
		"user_id", client.userID,
		"watchers", len(clients))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.removeLocked(client)
}

// removeLocked drops client and closes its send channel once
func (h *Hub) removeLocked(client *Client) {
	clients := h.connections[client.partition]
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.connections, client.partition)
	}

	h.log.Debug("client unregistered",
		"partition", client.partition,
		"user_id", client.userID,
		"watchers", len(clients))
}

func (h *Hub) broadcastToPartition(message *Message) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.connections[message.Partition] {
		select {
		case client.send <- message.Data:
		default:
			// Slow consumer; it reconnects and refetches the list
			h.log.Warn("client send buffer full, dropping connection",
				"partition", client.partition,
				"user_id", client.userID)
			h.removeLocked(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, clients := range h.connections {
		for client := range clients {
			h.removeLocked(client)
		}
	}
}

// ConnectionCount returns the total number of active connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// PartitionCount returns the number of partitions with at least one watcher
func (h *Hub) PartitionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
