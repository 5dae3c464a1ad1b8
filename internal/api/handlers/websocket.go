package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/dom/presence-registry/internal/service"
	"github.com/dom/presence-registry/internal/websocket"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type WebSocketHandler struct {
	hub          *websocket.Hub
	presence     *service.PresenceService
	tokenService *service.TokenService
}

func NewWebSocketHandler(hub *websocket.Hub, presence *service.PresenceService, tokenService *service.TokenService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		presence:     presence,
		tokenService: tokenService,
	}
}

func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Get token from query parameter
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Token required", http.StatusUnauthorized)
		return
	}

	userID, err := h.tokenService.UserID(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	connectionID := uuid.New().String()
	if err := h.presence.OnConnect(r.Context(), userID, connectionID, h.presence.Now()); err != nil {
		log.Printf("ERROR [handlers.WebSocket] failed to record connect for user %s: %v", userID, err)
		http.Error(w, "Presence registry unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.forget(userID, connectionID)
		return
	}

	client := websocket.NewClient(h.hub, conn, userID, connectionID)
	client.Send(mustMessage(websocket.MessageTypeConnected, websocket.ConnectedPayload{
		UserID:       userID,
		ConnectionID: connectionID,
	}))
	if !h.hub.Serve(client) {
		conn.Close()
		h.forget(userID, connectionID)
	}
}

func (h *WebSocketHandler) forget(userID, connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.OnDisconnect(ctx, userID, connectionID); err != nil {
		log.Printf("ERROR [handlers.WebSocket] failed to undo connect for user %s: %v", userID, err)
	}
}

func mustMessage(msgType websocket.MessageType, payload interface{}) *websocket.Message {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}
