package main

import (
	"sync"

	"github.com/nodeai/nodeai/common/logger"
)

// Hub maintains active WebSocket connections and broadcasts execution
// events to them.
type Hub struct {
	// Map: execution_id -> []*Client
	connections map[string][]*Client
	mutex       sync.RWMutex

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting messages
	broadcast chan *Message

	log *logger.Logger
}

// Message represents an event to be broadcast
type Message struct {
	ExecutionID string
	Data        []byte
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		log:         log.WithComponent("hub"),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.log.Info("hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToExecution(message)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.executionID] = append(h.connections[client.executionID], client)
	h.log.Debug("client registered",
		"execution_id", client.executionID,
		"total_for_execution", len(h.connections[client.executionID]))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.executionID]
	for i, c := range clients {
		if c == client {
			h.connections[client.executionID] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			if len(h.connections[client.executionID]) == 0 {
				delete(h.connections, client.executionID)
			}

			h.log.Debug("client unregistered",
				"execution_id", client.executionID,
				"remaining_for_execution", len(h.connections[client.executionID]))
			break
		}
	}
}

// broadcastToExecution sends a message to every connection following
// one execution.
func (h *Hub) broadcastToExecution(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[message.ExecutionID]
	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		select {
		case client.send <- message.Data:
		default:
			// Client can't keep up; drop the event rather than block
			// the hub. Dead peers are reaped by the read pump.
			h.log.Warn("client send buffer full, dropping event",
				"execution_id", client.executionID)
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

// ExecutionCount returns the number of executions being followed
func (h *Hub) ExecutionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
