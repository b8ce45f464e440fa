package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/nodeai/nodeai/common/logger"
	"github.com/nodeai/nodeai/engine/streambus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// replayLimit caps how many stream entries one connect can replay
const replayLimit = 1024

// Server handles WebSocket connections for remote event streaming
type Server struct {
	hub   *Hub
	redis *redis.Client
	log   *logger.Logger
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, redisClient *redis.Client, log *logger.Logger) *Server {
	return &Server{
		hub:   hub,
		redis: redisClient,
		log:   log.WithComponent("server"),
	}
}

// HandleWebSocket handles WebSocket upgrade and registration.
// URL: /ws?execution_id=...&replay=true
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	executionID := r.URL.Query().Get("execution_id")
	if executionID == "" {
		http.Error(w, "execution_id query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, executionID, s.log)

	// Replay the capped stream backlog before going live. A client may
	// see an event twice across the seam; events carry timestamps so
	// consumers can de-duplicate.
	if r.URL.Query().Get("replay") == "true" {
		s.replay(r.Context(), client)
	}

	s.hub.register <- client

	s.log.Info("websocket connected",
		"execution_id", executionID,
		"remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// replay queues the execution's stream history onto the client
func (s *Server) replay(ctx context.Context, client *Client) {
	entries, err := s.redis.XRangeN(ctx, streambus.StreamKey(client.executionID), "-", "+", replayLimit).Result()
	if err != nil {
		s.log.Warn("failed to read stream backlog",
			"execution_id", client.executionID, "error", err)
		return
	}

	for _, entry := range entries {
		payload, ok := entry.Values["event"].(string)
		if !ok {
			continue
		}
		select {
		case client.send <- []byte(payload):
		default:
			s.log.Warn("replay overflowed client buffer",
				"execution_id", client.executionID)
			return
		}
	}
}

// HandleStats reports hub occupancy
// GET /stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"connections": s.hub.ConnectionCount(),
		"executions":  s.hub.ExecutionCount(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}
