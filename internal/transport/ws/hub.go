package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vote-relay/internal/domain"
	"github.com/vote-relay/internal/observability"
)

const (
	maxMessageBytes = 64 << 10
	sendBuffer      = 64
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
)

// ErrHubClosed is returned when pushing to a channel that is shutting down.
var ErrHubClosed = errors.New("hub closed")

// Registry is the address book the hub keeps current on register and disconnect.
type Registry interface {
	Register(address, channelID string, role domain.Role)
	Lookup(address string, role domain.Role) (string, bool)
	UnregisterByChannel(channelID string) int
}

// RecentNotifications returns the unread notifications replayed on register_host.
type RecentNotifications interface {
	RecentUnread(ctx context.Context, receiver string) ([]domain.Notification, error)
}

// Frame is the JSON envelope for every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Hub owns every live websocket connection, keyed by channel id.
type Hub struct {
	registry Registry
	recent   RecentNotifications
	metrics  *observability.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(registry Registry, recent RecentNotifications, allowedOrigins []string,
	metrics *observability.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		registry: registry,
		recent:   recent,
		metrics:  metrics,
		log:      logger,
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, `{"error":"shutting down"}`, http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := newClient(h, conn, uuid.NewString())
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	defer h.wg.Done()
	h.metrics.ConnectionOpened()

	go c.writeLoop()
	_ = c.enqueue("connected", map[string]string{"channelId": c.id})
	c.readLoop(r.Context())

	h.remove(c)
	c.close()
	<-c.writerDone
	h.metrics.ConnectionClosed()
}

// Push sends event to one channel. A missing channel yields domain.ErrChannelClosed.
func (h *Hub) Push(channelID, event string, payload interface{}) error {
	h.mu.RLock()
	c, ok := h.clients[channelID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channel %s: %w", channelID, domain.ErrChannelClosed)
	}
	return c.enqueue(event, payload)
}

// Broadcast sends event to every open channel and returns how many accepted it.
func (h *Hub) Broadcast(event string, payload interface{}) int {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range clients {
		if err := c.enqueue(event, payload); err == nil {
			n++
		}
	}
	return n
}

// Len is the number of open channels.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops accepting connections, closes every open one and waits for
// their handlers to return or ctx to expire.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) isOpen(channelID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[channelID]
	return ok
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.wg.Add(1)
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	n := h.registry.UnregisterByChannel(c.id)
	h.log.Debug("channel disconnected", "channel", c.id, "entries_removed", n)
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
