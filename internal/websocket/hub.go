package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/dom/presence-registry/internal/metrics"
)

// Registry is the presence registry as seen by websocket clients.
type Registry interface {
	Now() time.Time
	OnConnect(ctx context.Context, userID, connectionID string, at time.Time) error
	OnDisconnect(ctx context.Context, userID, connectionID string) error
	OnActivity(ctx context.Context, userID, connectionID string, at time.Time) error
	BulkIsOnline(ctx context.Context, userIDs []string) ([]string, error)
	GetLastActivity(ctx context.Context, userIDs []string) (map[string]time.Time, error)
}

// Hub tracks the sockets open on this instance so they can be counted and
// closed on shutdown. Presence itself lives in the registry.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{} // closed when Run() exits
	stopped    bool
	stopOnce   sync.Once
	registry   Registry
	metrics    *metrics.Metrics
	readers    sync.WaitGroup
	mu         sync.RWMutex
}

func NewHub(registry Registry, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		registry:   registry,
		metrics:    m,
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			h.stopped = true
			for client := range h.clients {
				client.Close()
				h.metrics.ConnectionClosed()
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.stopped {
				client.Close()
			} else {
				h.clients[client] = true
				h.metrics.ConnectionOpened()
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.metrics.ConnectionClosed()
			}
			h.mu.Unlock()
		}
	}
}

// Stop closes every client and blocks until Run has returned. It is safe to
// call from several goroutines.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Serve registers client and starts its pumps. Once the hub has stopped it
// closes client instead and reports false; the caller still owns the
// client's registry entry.
func (h *Hub) Serve(client *Client) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		client.Close()
		return false
	}
	h.readers.Add(1)
	h.mu.Unlock()

	h.Register(client)
	go client.WritePump()
	go func() {
		defer h.readers.Done()
		client.ReadPump()
	}()
	return true
}

// Wait blocks until every read pump started by Serve has returned and
// recorded its disconnect.
func (h *Hub) Wait() {
	h.readers.Wait()
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of sockets open on this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserClientCount returns how many sockets userID has open on this instance.
func (h *Hub) UserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.userID == userID {
			n++
		}
	}
	return n
}
