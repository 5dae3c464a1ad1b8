package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	// Client to Server
	MessageTypeHeartbeat     MessageType = "HEARTBEAT"
	MessageTypeQueryPresence MessageType = "QUERY_PRESENCE"

	// Server to Client
	MessageTypeConnected      MessageType = "CONNECTED"
	MessageTypeHeartbeatAck   MessageType = "HEARTBEAT_ACK"
	MessageTypePresenceStatus MessageType = "PRESENCE_STATUS"
	MessageTypeError          MessageType = "ERROR"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload == nil {
		return msg, nil
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg.Payload = payloadBytes
	return msg, nil
}

// Client to Server payloads

type QueryPresencePayload struct {
	UserIDs []string `json:"userIds"`
}

// Server to Client payloads

type ConnectedPayload struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

type PresenceStatusPayload struct {
	Online       []string             `json:"online"`
	LastActivity map[string]time.Time `json:"lastActivity"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
