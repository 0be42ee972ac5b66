package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	hubBufferSize   = 100
	hubWriteTimeout = 5 * time.Second
)

// Hub broadcasts events to websocket subscribers. It implements Emitter;
// messages are dropped when the broadcast queue is full.
type Hub struct {
	logger *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]struct{}

	broadcast chan Message
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:    logger,
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, hubBufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Handler serves /ws for subscribers and /health.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)
	return mux
}

// Emit queues an event for broadcast.
func (h *Hub) Emit(name string, payload any) {
	msg := Message{Event: name, Payload: payload, Timestamp: time.Now()}
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("event broadcast queue full, dropping message", "event", name)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and stops the broadcast loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.cancel()

		h.clientsMu.Lock()
		for conn := range h.clients {
			_ = conn.Close(websocket.StatusGoingAway, "agent shutting down")
			delete(h.clients, conn)
		}
		h.clientsMu.Unlock()

		h.wg.Wait()
	})
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Warn("failed to marshal event", "event", msg.Event, "error", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, hubWriteTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Debug("event write failed", "error", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Debug("event subscriber connected", "clients", count)

	h.readLoop(conn)
}

// readLoop holds the connection open until the client goes away.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug("event subscriber disconnected", "clients", count)
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": h.ClientCount(),
	})
}
