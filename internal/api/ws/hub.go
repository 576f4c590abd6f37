package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/visionguard/internal/auth"
	"github.com/your-org/visionguard/internal/models"
	"github.com/your-org/visionguard/internal/observability"
	"github.com/your-org/visionguard/pkg/dto"
)

const (
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS layer
	},
}

// Client is one user's alert channel. All outbound writes go through the
// send channel so a single writer owns the connection.
type Client struct {
	userID      string
	conn        *websocket.Conn
	send        chan dto.WSMessage
	connectedAt time.Time

	mu         sync.Mutex
	lastPongAt time.Time
	closeCode  int
	closeText  string

	done chan struct{}
}

// Hub maintains at most one alert channel per user. A new connection for
// a user supersedes the old one, which is closed with code 4000.
type Hub struct {
	verifier auth.Verifier

	mu      sync.Mutex
	clients map[string]*Client
}

func NewHub(verifier auth.Verifier) *Hub {
	return &Hub{
		verifier: verifier,
		clients:  make(map[string]*Client),
	}
}

// HandleWS upgrades an alert channel request. The token rides the query
// string because browsers cannot set headers on WebSocket dials; a bad
// token gets the connection closed with 4401 right after the upgrade.
func (h *Hub) HandleWS(c *gin.Context) {
	userID := c.Param("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	if h.verifier != nil {
		claims, err := h.verifier.Verify(c.Query("token"))
		if err != nil || claims.UserID != userID {
			closeWith(conn, dto.CloseUnauthorized, "unauthorized")
			return
		}
	}

	now := time.Now()
	client := &Client{
		userID:      userID,
		conn:        conn,
		send:        make(chan dto.WSMessage, sendBuffer),
		connectedAt: now,
		lastPongAt:  now,
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	if prev, ok := h.clients[userID]; ok {
		prev.shutdown(dto.CloseSuperseded, "superseded by newer connection")
		// The superseded client is overwritten below, so its writePump's
		// remove() will not decrement for it.
		observability.WSConnections.Dec()
	}
	h.clients[userID] = client
	h.mu.Unlock()
	observability.WSConnections.Inc()
	slog.Info("alert channel connected", "user_id", userID)

	go client.writePump(h)
	go client.readPump(h)
}

// PushAnomaly delivers an anomaly alert to one user. No-op when the user
// has no open channel.
func (h *Hub) PushAnomaly(userID string, event models.AnomalyEvent) {
	h.push(userID, dto.WSMessage{
		Type:      dto.WSTypeAnomaly,
		Timestamp: time.Now().UTC(),
		Data:      event,
	})
}

// Notify sends a free-form notification to one user.
func (h *Hub) Notify(userID string, payload interface{}) {
	h.push(userID, dto.WSMessage{
		Type:      dto.WSTypeNotification,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
}

func (h *Hub) push(userID string, msg dto.WSMessage) {
	h.mu.Lock()
	client := h.clients[userID]
	h.mu.Unlock()
	if client == nil {
		return
	}

	// A full mailbox blocks the producer so an abnormal burst cannot leak
	// memory; the heartbeat reaper bounds the wait by closing dead
	// connections, which releases the send.
	select {
	case client.send <- msg:
	case <-client.done:
		slog.Warn("alert channel closing, message dropped",
			"user_id", userID, "type", msg.Type)
	}
}

// Connected reports whether a user has an open channel.
func (h *Hub) Connected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[userID] != nil
}

// Stats returns info for one user's channel, or nil.
func (h *Hub) Stats(userID string) *dto.ConnectionInfo {
	h.mu.Lock()
	client := h.clients[userID]
	h.mu.Unlock()
	if client == nil {
		return nil
	}
	info := client.info()
	return &info
}

// StatsAll returns info for every open channel.
func (h *Hub) StatsAll() []dto.ConnectionInfo {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	infos := make([]dto.ConnectionInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, c.info())
	}
	return infos
}

// Shutdown notifies every client and closes all channels with a normal
// close. Used during graceful server shutdown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.sendNow(dto.WSMessage{
			Type:      dto.WSTypeShutdown,
			Timestamp: time.Now().UTC(),
		})
		c.shutdown(websocket.CloseNormalClosure, "server shutting down")
		observability.WSConnections.Dec()
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if h.clients[client.userID] == client {
		delete(h.clients, client.userID)
		observability.WSConnections.Dec()
	}
	h.mu.Unlock()
}

func (c *Client) info() dto.ConnectionInfo {
	c.mu.Lock()
	lastPong := c.lastPongAt
	c.mu.Unlock()
	now := time.Now()
	return dto.ConnectionInfo{
		UserID:                c.userID,
		Connected:             true,
		ConnectedAt:           c.connectedAt,
		UptimeSeconds:         now.Sub(c.connectedAt).Seconds(),
		LastHeartbeatAt:       lastPong,
		SecondsSinceHeartbeat: now.Sub(lastPong).Seconds(),
		QueuedSends:           len(c.send),
	}
}

// writePump is the single writer for the connection. It interleaves queued
// messages with heartbeat pings and closes the connection when the peer
// stops answering. A shutdown request drains queued messages before the
// close frame so nothing enqueued ahead of it is lost.
func (c *Client) writePump(h *Hub) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		h.remove(c)
	}()

	for {
		select {
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if err := c.write(msg); err != nil {
						return
					}
				default:
					c.mu.Lock()
					code, text := c.closeCode, c.closeText
					c.mu.Unlock()
					closeWith(c.conn, code, text)
					return
				}
			}

		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.mu.Lock()
			stale := time.Since(c.lastPongAt) > pongTimeout
			c.mu.Unlock()
			if stale {
				closeWith(c.conn, dto.ClosePongTimeout, "heartbeat timeout")
				return
			}
			err := c.write(dto.WSMessage{
				Type:      dto.WSTypePing,
				Timestamp: time.Now().UTC(),
			})
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		c.shutdown(websocket.CloseNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var in dto.WSInbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}

		// Any well-formed message proves liveness.
		c.mu.Lock()
		c.lastPongAt = time.Now()
		c.mu.Unlock()

		switch in.Type {
		case dto.WSTypePing:
			c.sendNow(dto.WSMessage{
				Type:      dto.WSTypePong,
				Timestamp: time.Now().UTC(),
			})
		case dto.WSTypePong, dto.WSTypeAck:
			// liveness only
		}
	}
}

func (c *Client) sendNow(msg dto.WSMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) write(msg dto.WSMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// shutdown asks the writer to drain and close with the given code.
// Idempotent; the first caller's code wins.
func (c *Client) shutdown(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}
	c.closeCode = code
	c.closeText = reason
	close(c.done)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
