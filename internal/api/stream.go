package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskflowd/taskflowd/internal/events"
)

// maxStreamClients caps concurrent /stream subscribers.
const maxStreamClients = 200

// StreamHub fans status-transition events out to connected operators. A
// single goroutine owns the client set so there's one place that mutates
// it, instead of N handler goroutines racing on a shared map.
type StreamHub struct {
	clients    map[*websocket.Conn]subscription
	register   chan registration
	unregister chan *websocket.Conn
	publish    chan events.StatusEvent
	mu         sync.RWMutex
}

type subscription struct {
	service string
	userID  string
}

type registration struct {
	conn *websocket.Conn
	sub  subscription
}

// NewStreamHub constructs an idle hub; call Run to start its loop.
func NewStreamHub() *StreamHub {
	return &StreamHub{
		clients:    make(map[*websocket.Conn]subscription),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		publish:    make(chan events.StatusEvent, 256),
	}
}

// Run owns the client map until ctx is cancelled, at which point it closes
// every connection and returns.
func (h *StreamHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxStreamClients {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("api: stream connection rejected, at capacity (%d)", maxStreamClients)
				continue
			}
			h.clients[reg.conn] = reg.sub
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case ev := <-h.publish:
			h.broadcast(ev)
		}
	}
}

func (h *StreamHub) broadcast(ev events.StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, sub := range h.clients {
		if sub.service != "" && sub.service != ev.Service {
			continue
		}
		if sub.userID != "" && sub.userID != ev.UserID {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("api: stream write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *StreamHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]subscription)
}

// Register admits a new subscriber, filtered to service/userID (either may
// be empty to mean "any").
func (h *StreamHub) Register(conn *websocket.Conn, service, userID string) {
	h.register <- registration{conn: conn, sub: subscription{service: service, userID: userID}}
}

// Unregister drops a subscriber.
func (h *StreamHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// Publish enqueues ev for broadcast. Non-blocking: a full buffer drops the
// event rather than stall the Event Processor worker that produced it.
func (h *StreamHub) Publish(ev events.StatusEvent) {
	select {
	case h.publish <- ev:
	default:
		log.Printf("api: stream publish buffer full, dropping event for task %s", ev.TaskID)
	}
}

// ClientCount reports the number of connected subscribers.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
