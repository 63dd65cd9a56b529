package wsserver

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-relay/internal/coordinator"
	"github.com/park285/chess-relay/internal/obslog"
)

// Hub tracks live clients and delivers coordinator envelopes to them without blocking.
type Hub struct {
	mu      sync.RWMutex
	clients map[coordinator.ConnID]*client
}

func NewHub() *Hub { return &Hub{clients: make(map[coordinator.ConnID]*client)} }

// Send implements coordinator.Emitter. Unknown connections are ignored; a client whose queue is
// full is disconnected.
func (h *Hub) Send(conn coordinator.ConnID, env coordinator.Envelope) {
	h.mu.RLock()
	cl := h.clients[conn]
	h.mu.RUnlock()
	if cl == nil { return }
	raw, err := json.Marshal(env)
	if err != nil {
		obslog.L().Error("ws_encode_failed", zap.String("event", env.Event), zap.Error(err))
		return
	}
	if !cl.enqueue(raw) {
		obslog.L().Warn("ws_slow_consumer", zap.String("conn", string(conn)), zap.String("event", env.Event))
		cl.kick()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(cl *client) {
	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
}

func (h *Hub) remove(id coordinator.ConnID) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// closeAll cancels every client; their handlers finish the close handshake.
func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		cl.kick()
	}
}
