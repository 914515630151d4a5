package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256

	authTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	logger   *zap.Logger
	identity *auth.Identity

	mu     sync.RWMutex
	stages map[string]bool // nil means all stages
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// wants reports whether a message about stageName goes to this client.
// Messages without a stage go to everyone.
func (c *Client) wants(stageName string) bool {
	if stageName == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stages == nil || c.stages[stageName]
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if c.identity == nil {
		c.conn.SetReadDeadline(time.Now().Add(authTimeout))
	}

	for {
		var msg map[string]interface{}
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			break
		}

		// First message MUST be authentication
		if c.identity == nil {
			if !c.authenticate(msg) {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg map[string]interface{}) bool {
	if msgType, ok := msg["type"].(string); !ok || msgType != "auth" {
		c.sendAuthFailed("First message must be authentication")
		return false
	}

	token, ok := msg["token"].(string)
	if !ok || token == "" {
		c.sendAuthFailed("Missing token in auth message")
		return false
	}

	identity, err := c.hub.authService.ValidateToken(context.Background(), token, c.remoteAddr())
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.sendAuthFailed("Invalid or expired token")
		return false
	}

	c.identity = identity
	c.conn.SetReadDeadline(time.Time{})

	c.sendAuthSuccess()
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.String("identity", identity.Name))

	// only authenticated clients receive broadcasts
	c.hub.addClient(c)
	return true
}

func (c *Client) sendAuthSuccess() {
	c.sendJSON(map[string]interface{}{
		"type":        "auth_success",
		"timestamp":   time.Now(),
		"permissions": c.identity.Permissions,
	})
}

func (c *Client) sendAuthFailed(reason string) {
	c.sendJSON(map[string]interface{}{
		"type":      "auth_failed",
		"timestamp": time.Now(),
		"reason":    reason,
	})
	// let writePump flush the reply before the connection goes away
	time.Sleep(100 * time.Millisecond)
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// handleMessage handles client commands:
//
//	{"type":"subscribe","stages":["sim"]}   only these stages
//	{"type":"subscribe"}                    all stages again
func (c *Client) handleMessage(msg map[string]interface{}) {
	c.logger.Debug("Received client message",
		zap.String("remote_addr", c.remoteAddr()),
		zap.Any("message", msg))

	if msgType, _ := msg["type"].(string); msgType != "subscribe" {
		return
	}

	var stages map[string]bool
	if list, ok := msg["stages"].([]interface{}); ok {
		stages = make(map[string]bool, len(list))
		for _, v := range list {
			if name, ok := v.(string); ok {
				stages[name] = true
			}
		}
	}

	c.mu.Lock()
	c.stages = stages
	c.mu.Unlock()

	c.sendJSON(map[string]interface{}{
		"type":      "subscribed",
		"timestamp": time.Now(),
		"stages":    msg["stages"],
	})
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	go client.writePump()

	if !hub.authService.Enabled() {
		client.identity = auth.Anonymous()
		hub.addClient(client)
	}

	go client.readPump()
}
