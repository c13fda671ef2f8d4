package signaling

import (
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/pairing"
)

// Hub is the live connection table. It implements pairing.Emitter so the
// pairing service and the reconciliation job can push events to any
// connection by id.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	conns map[string]*conn
}

var _ pairing.Emitter = (*Hub)(nil)

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		logger:  logger,
		metrics: m,
		conns:   make(map[string]*conn),
	}
}

// Emit queues an event for connID. It reports false when the connection is
// unknown, already closing, or too far behind to accept more frames.
func (h *Hub) Emit(connID, event string, data any) bool {
	c := h.lookup(connID)
	if c == nil {
		return false
	}
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("encode outbound frame", "conn_id", connID, "event", event, "err", err)
		return false
	}
	return c.enqueue(frame)
}

// Close starts closing connID with the given close code. Unknown ids are
// ignored.
func (h *Hub) Close(connID string, code int, reason string) {
	if c := h.lookup(connID); c != nil {
		c.close(code, reason)
	}
}

// CloseAll closes every live connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) lookup(connID string) *conn {
	if connID == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[connID]
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if h.conns[c.id] == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
}
