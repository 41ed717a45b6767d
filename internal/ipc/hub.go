package ipc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/and161185/caseflow/internal/syncer"
)

// Event types sent on /events.
const (
	EventCaseClosed = "case.closed"
	EventHello      = "hello"
)

const writeTimeout = 5 * time.Second

// Message is one event frame.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Hub fans events out to websocket subscribers. Slow clients are dropped.
type Hub struct {
	log       *zap.Logger
	mu        sync.RWMutex
	clients   map[*websocket.Conn]struct{}
	broadcast chan Message
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	origins   []string
}

// NewHub starts the broadcast loop. Origins lists extra allowed browser
// origins; same-host connections are always accepted.
func NewHub(log *zap.Logger, origins ...string) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		log:       log,
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		origins:   origins,
	}
	go h.loop()
	return h
}

// Broadcast queues msg for every client; it never blocks.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.log.Warn("event dropped, queue full", zap.String("type", msg.Type))
	}
}

// SyncEvent forwards an engine event; pass it to Engine.Subscribe.
func (h *Hub) SyncEvent(ev syncer.Event) {
	var data any = ev.Push
	if ev.Pull != nil {
		data = ev.Pull
	}
	h.Broadcast(Message{Type: ev.Kind, Data: map[string]any{"summary": data, "status": ev.Status}})
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops the loop.
func (h *Hub) Close() {
	h.cancel()
	<-h.done
	h.mu.Lock()
	for c := range h.clients {
		_ = c.Close(websocket.StatusGoingAway, "shutting down")
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.broadcast:
			h.mu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for c := range h.clients {
				conns = append(conns, c)
			}
			h.mu.RUnlock()

			for _, c := range conns {
				ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
				err := wsjson.Write(ctx, c, msg)
				cancel()
				if err != nil {
					h.log.Debug("event write failed", zap.Error(err))
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.Close(websocket.StatusNormalClosure, "")
	}
}

// ServeHTTP upgrades the request and holds it until the client leaves.
// Client frames are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ctx := c.CloseRead(h.ctx)

	hello, cancel := context.WithTimeout(ctx, writeTimeout)
	err = wsjson.Write(hello, c, Message{Type: EventHello, Timestamp: time.Now()})
	cancel()
	if err != nil {
		_ = c.Close(websocket.StatusInternalError, "")
		return
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("event client connected", zap.Int("clients", n))

	<-ctx.Done()
	h.remove(c)
}
