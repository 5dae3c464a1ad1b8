package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	registryWait   = 5 * time.Second
)

type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	userID       string
	connectionID string
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, connectionID string) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 64),
		closed:       make(chan struct{}),
		userID:       userID,
		connectionID: connectionID,
	}
}

func (c *Client) UserID() string       { return c.userID }
func (c *Client) ConnectionID() string { return c.connectionID }

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// ReadPump reads until the socket fails, then removes the connection from
// the registry.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), registryWait)
		defer cancel()
		if err := c.hub.registry.OnDisconnect(ctx, c.userID, c.connectionID); err != nil {
			log.Printf("ERROR [websocket.ReadPump] failed to record disconnect for user %s connection %s: %v", c.userID, c.connectionID, err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.recordActivity()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("INVALID_MESSAGE", "Message is not valid JSON")
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeHeartbeat:
		if c.recordActivity() {
			c.sendMessage(MessageTypeHeartbeatAck, nil)
		} else {
			c.sendError("REGISTRY_UNAVAILABLE", "Failed to record activity")
		}

	case MessageTypeQueryPresence:
		var payload QueryPresencePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("INVALID_PAYLOAD", "Invalid query presence payload")
			return
		}
		c.queryPresence(payload.UserIDs)

	default:
		c.sendError("UNKNOWN_TYPE", "Unknown message type")
	}
}

func (c *Client) recordActivity() bool {
	ctx, cancel := context.WithTimeout(context.Background(), registryWait)
	defer cancel()

	registry := c.hub.registry
	if err := registry.OnActivity(ctx, c.userID, c.connectionID, registry.Now()); err != nil {
		log.Printf("ERROR [websocket.recordActivity] user %s connection %s: %v", c.userID, c.connectionID, err)
		return false
	}
	return true
}

func (c *Client) queryPresence(userIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), registryWait)
	defer cancel()

	online, err := c.hub.registry.BulkIsOnline(ctx, userIDs)
	if err != nil {
		log.Printf("ERROR [websocket.queryPresence] bulk online check: %v", err)
		c.sendError("REGISTRY_UNAVAILABLE", "Presence is unknown")
		return
	}
	lastActivity, err := c.hub.registry.GetLastActivity(ctx, userIDs)
	if err != nil {
		log.Printf("ERROR [websocket.queryPresence] last activity lookup: %v", err)
		c.sendError("REGISTRY_UNAVAILABLE", "Presence is unknown")
		return
	}

	c.sendMessage(MessageTypePresenceStatus, PresenceStatusPayload{
		Online:       online,
		LastActivity: lastActivity,
	})
}

func (c *Client) sendMessage(msgType MessageType, payload interface{}) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		log.Printf("failed to build %s message: %v", msgType, err)
		return
	}
	c.Send(msg)
}

func (c *Client) sendError(code, message string) {
	c.sendMessage(MessageTypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}

func (c *Client) Send(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to marshal message: %v", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		log.Printf("dropping %s message for slow client %s", msg.Type, c.connectionID)
	}
}
