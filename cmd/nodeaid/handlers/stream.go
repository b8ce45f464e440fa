package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nodeai/nodeai/cmd/nodeaid/service"
	"github.com/nodeai/nodeai/common/logger"
	"github.com/nodeai/nodeai/engine/streambus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum message size allowed from peer (clients only send pongs)
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamHandler serves live execution event streams over websocket
type StreamHandler struct {
	executions *service.ExecutionService
	log        *logger.Logger
}

// NewStreamHandler creates a stream handler
func NewStreamHandler(executions *service.ExecutionService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		executions: executions,
		log:        log.WithComponent("stream"),
	}
}

// StreamEvents upgrades to websocket and forwards one execution's
// events until the execution finishes or the client disconnects. A
// finished execution closes the socket immediately with a normal
// closure.
// GET /v1/executions/:id/events
func (h *StreamHandler) StreamEvents(c echo.Context) error {
	executionID := c.Param("id")

	// Subscribe before upgrading so no event slips between the two
	sub := h.executions.Subscribe(executionID)

	conn, err := upgrader.Upgrade(c.Response().Writer, c.Request(), nil)
	if err != nil {
		sub.Close()
		h.log.Warn("websocket upgrade failed", "execution_id", executionID, "error", err)
		return nil
	}

	h.log.Debug("stream opened",
		"execution_id", executionID,
		"remote", c.Request().RemoteAddr)

	disconnected := make(chan struct{})
	go h.readPump(conn, disconnected)
	h.writePump(conn, sub, disconnected)

	sub.Close()
	conn.Close()
	h.log.Debug("stream closed", "execution_id", executionID)
	return nil
}

// readPump drains the connection to service ping/pong and detect
// disconnects; clients are not expected to send data.
func (h *StreamHandler) readPump(conn *websocket.Conn, disconnected chan<- struct{}) {
	defer close(disconnected)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards subscription events to the peer, one JSON frame
// per event so clients can parse each object individually.
func (h *StreamHandler) writePump(conn *websocket.Conn, sub *streambus.Subscription, disconnected <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Execution finished and the queue is drained
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution finished"))
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("failed to marshal event",
					"execution_id", sub.ExecutionID(),
					"event_type", string(ev.Type),
					"error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-disconnected:
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
