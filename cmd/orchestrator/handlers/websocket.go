package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/appforge/cmd/orchestrator/container"
	"github.com/lyzr/appforge/cmd/orchestrator/middleware"
	"github.com/lyzr/appforge/common/events"
	"github.com/lyzr/appforge/common/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum message size allowed from peer (join/leave frames only)
	maxMessageSize = 4096
)

// WebSocketHandler upgrades clients onto the real-time channel
type WebSocketHandler struct {
	hub      *events.Hub
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(c *container.Container) *WebSocketHandler {
	return &WebSocketHandler{
		hub: c.Hub,
		log: c.Components.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are not restricted; the handshake token authenticates
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the connection and starts the client pumps
// GET /ws
func (h *WebSocketHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already replied
		h.log.Warn("websocket upgrade failed", "error", err)
		return nil
	}

	id := uuid.NewString()
	log := h.log.WithFields(map[string]any{
		"connection_id": id,
		"subject":       middleware.GetSubject(c),
	})
	log.Info("websocket connected", "remote", c.RealIP())

	client := &wsClient{
		hub:     h.hub,
		conn:    conn,
		sub:     events.NewSubscriber(id, events.DefaultBuffer),
		replies: make(chan events.Ack, 16),
		log:     log,
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// wsClient is one connection. readPump owns room membership; writePump owns
// every write to the socket.
type wsClient struct {
	hub     *events.Hub
	conn    *websocket.Conn
	sub     *events.Subscriber
	replies chan events.Ack
	log     *logger.Logger
}

// readPump applies join/leave frames until the peer goes away
func (c *wsClient) readPump() {
	defer func() {
		c.hub.Remove(c.sub)
		c.conn.Close()
		c.log.Info("websocket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}

		if !c.reply(c.handleFrame(data)) {
			c.log.Warn("client not reading replies, closing")
			return
		}
	}
}

func (c *wsClient) handleFrame(data []byte) events.Ack {
	var frame events.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return events.Ack{Type: events.FrameError, Error: "invalid frame"}
	}
	if frame.ProjectID == "" {
		return events.Ack{Type: events.FrameError, Error: "projectId is required"}
	}

	switch frame.Type {
	case events.FrameJoin:
		if !c.hub.Join(frame.ProjectID, c.sub) {
			return events.Ack{Type: events.FrameError, ProjectID: frame.ProjectID, Error: "connection closed"}
		}
		c.log.Debug("joined project", "project_id", frame.ProjectID)
		return events.Ack{Type: events.FrameJoined, ProjectID: frame.ProjectID}
	case events.FrameLeave:
		c.hub.Leave(frame.ProjectID, c.sub)
		c.log.Debug("left project", "project_id", frame.ProjectID)
		return events.Ack{Type: events.FrameLeft, ProjectID: frame.ProjectID}
	default:
		return events.Ack{Type: events.FrameError, ProjectID: frame.ProjectID, Error: "unknown frame type: " + frame.Type}
	}
}

// reply queues an ack; false means the client's reply queue is full
func (c *wsClient) reply(ack events.Ack) bool {
	select {
	case c.replies <- ack:
		return true
	default:
		return false
	}
}

// writePump sends events, acks and pings. It exits when the hub closes the
// subscriber or a write fails.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub removed the subscriber
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One event per frame so clients can parse each JSON object on its own
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case ack := <-c.replies:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ack); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
