package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/dom/presence-registry/internal/api/middleware"
	"github.com/dom/presence-registry/internal/api/validators"
	"github.com/dom/presence-registry/internal/domain"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/dom/presence-registry/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
	statusUnknown = "unknown"
)

type PresenceHandler struct {
	presence     *service.PresenceService
	maxBulkUsers int
}

func NewPresenceHandler(presence *service.PresenceService, maxBulkUsers int) *PresenceHandler {
	return &PresenceHandler{
		presence:     presence,
		maxBulkUsers: maxBulkUsers,
	}
}

type OnlineUsersResponse struct {
	Online []string `json:"online"`
}

type LastActivityResponse struct {
	LastActivity map[string]string `json:"lastActivity"`
}

type ConnectionEventRequest struct {
	ConnectionID string `json:"connectionId" validate:"required"`
}

type ConnectionsResponse struct {
	UserID      string                   `json:"userId"`
	Connections []domain.ConnectionEntry `json:"connections"`
}

// IsOnline answers with a plain-text "online" or "offline".
func (h *PresenceHandler) IsOnline(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusNotFound)
		return
	}

	online, err := h.presence.IsOnline(r.Context(), userID)
	if err != nil {
		log.Printf("ERROR [handlers.IsOnline] user %s: %v", userID, err)
		http.Error(w, statusUnknown, http.StatusServiceUnavailable)
		return
	}

	status := statusOffline
	if online {
		status = statusOnline
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(status))
}

func (h *PresenceHandler) BulkIsOnline(w http.ResponseWriter, r *http.Request) {
	req, ok := validators.DecodeUserIDsRequest(w, r, h.maxBulkUsers)
	if !ok {
		return
	}

	online, err := h.presence.BulkIsOnline(r.Context(), req.UserIDs)
	if err != nil {
		log.Printf("ERROR [handlers.BulkIsOnline] %d users: %v", len(req.UserIDs), err)
		http.Error(w, statusUnknown, http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, OnlineUsersResponse{Online: online})
}

func (h *PresenceHandler) LastActivity(w http.ResponseWriter, r *http.Request) {
	req, ok := validators.DecodeUserIDsRequest(w, r, h.maxBulkUsers)
	if !ok {
		return
	}

	seen, err := h.presence.GetLastActivity(r.Context(), req.UserIDs)
	if err != nil {
		log.Printf("ERROR [handlers.LastActivity] %d users: %v", len(req.UserIDs), err)
		http.Error(w, statusUnknown, http.StatusServiceUnavailable)
		return
	}

	resp := LastActivityResponse{LastActivity: make(map[string]string, len(seen))}
	for userID, at := range seen {
		resp.LastActivity[userID] = at.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PresenceHandler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	online, err := h.presence.OnlineUsers(r.Context())
	if err != nil {
		log.Printf("ERROR [handlers.OnlineUsers] %v", err)
		http.Error(w, statusUnknown, http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, OnlineUsersResponse{Online: online})
}

// MyConnections lists the caller's live connections.
func (h *PresenceHandler) MyConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "invalid authorization", http.StatusBadRequest)
		return
	}

	record, err := h.presence.Connections(r.Context(), userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Printf("ERROR [handlers.MyConnections] user %s: %v", userID, err)
		http.Error(w, statusUnknown, http.StatusServiceUnavailable)
		return
	}

	resp := ConnectionsResponse{UserID: userID, Connections: []domain.ConnectionEntry{}}
	if record != nil && record.HasConnections() {
		resp.Connections = record.Connections
	}
	writeJSON(w, http.StatusOK, resp)
}

// RemoveMe drops the caller's whole connection record.
func (h *PresenceHandler) RemoveMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "invalid authorization", http.StatusBadRequest)
		return
	}

	if err := h.presence.Remove(r.Context(), userID); err != nil {
		log.Printf("ERROR [handlers.RemoveMe] user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Connect, Disconnect and Activity let an external gateway that owns the
// sockets report connection events on behalf of the authenticated user.

func (h *PresenceHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.connectionEvent(w, r)
	if !ok {
		return
	}

	if err := h.presence.OnConnect(r.Context(), userID, req.ConnectionID, h.presence.Now()); err != nil {
		log.Printf("ERROR [handlers.Connect] user %s connection %s: %v", userID, req.ConnectionID, err)
		h.writeEventError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PresenceHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.connectionEvent(w, r)
	if !ok {
		return
	}

	if err := h.presence.OnDisconnect(r.Context(), userID, req.ConnectionID); err != nil {
		log.Printf("ERROR [handlers.Disconnect] user %s connection %s: %v", userID, req.ConnectionID, err)
		h.writeEventError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PresenceHandler) Activity(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.connectionEvent(w, r)
	if !ok {
		return
	}

	if err := h.presence.OnActivity(r.Context(), userID, req.ConnectionID, h.presence.Now()); err != nil {
		log.Printf("ERROR [handlers.Activity] user %s connection %s: %v", userID, req.ConnectionID, err)
		h.writeEventError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PresenceHandler) connectionEvent(w http.ResponseWriter, r *http.Request) (string, *ConnectionEventRequest, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "invalid authorization", http.StatusBadRequest)
		return "", nil, false
	}

	var req ConnectionEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return "", nil, false
	}
	if errs := validators.Validate(req); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, validators.ValidationResponse{Errors: errs})
		return "", nil, false
	}

	return userID, &req, true
}

func (h *PresenceHandler) writeEventError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrInvalidUserID) || errors.Is(err, domain.ErrInvalidConnectionID) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
