// Package notify delivers sync run lifecycle events to websocket clients and
// to a Kafka topic.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/marcus/fieldsync/internal/engine"
)

const (
	hubQueueSize = 100
	writeTimeout = 5 * time.Second
)

// EventHello is sent to each client right after it connects.
const EventHello = "hello"

// Hub broadcasts engine events to connected websocket clients.
type Hub struct {
	logger         *slog.Logger
	originPatterns []string

	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	broadcast chan engine.Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewHub starts a hub. originPatterns are host patterns accepted for
// cross-origin clients; empty means same-origin only.
func NewHub(logger *slog.Logger, originPatterns []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:         logger.With("component", "event_hub"),
		originPatterns: originPatterns,
		clients:        make(map[*websocket.Conn]struct{}),
		broadcast:      make(chan engine.Event, hubQueueSize),
		ctx:            ctx,
		cancel:         cancel,
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Notify implements engine.Notifier. Events are dropped when the queue is full.
func (h *Hub) Notify(_ context.Context, ev engine.Event) {
	select {
	case h.broadcast <- ev:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("event queue full, dropping event", "type", ev.Type, "run_id", ev.RunID)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops the broadcast loop.
func (h *Hub) Close() {
	h.cancel()
	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()
	h.wg.Wait()
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev := <-h.broadcast:
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now().UTC()
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("encode event", "err", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Debug("drop client after write failure", "err", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request and keeps the connection until the client
// or the hub goes away. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Info("event client connected", "clients", count)

	hello, _ := json.Marshal(engine.Event{Type: EventHello, Timestamp: time.Now().UTC()})
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	_ = conn.Write(ctx, websocket.MessageText, hello)
	cancel()

	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, exists := h.clients[conn]
	delete(h.clients, conn)
	h.clientsMu.Unlock()
	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}
