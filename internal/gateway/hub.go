package gateway

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/haasonsaas/parley/internal/observability"
)

// Hub tracks the websocket connections attached to this process and delivers
// realtime events to them.
type Hub struct {
	conns   *xsync.MapOf[string, *wsConn]
	metrics *observability.Metrics
}

// NewHub creates an empty hub.
func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		conns:   xsync.NewMapOf[string, *wsConn](),
		metrics: metrics,
	}
}

// Emit queues an event on the connection. It reports false when the
// connection is not attached or its send queue is full.
func (h *Hub) Emit(connID, event string, payload any) bool {
	c, ok := h.conns.Load(connID)
	if !ok {
		return false
	}
	return c.enqueue(event, payload)
}

// Connected reports whether the connection is attached.
func (h *Hub) Connected(connID string) bool {
	_, ok := h.conns.Load(connID)
	return ok
}

// Len returns the number of attached connections.
func (h *Hub) Len() int {
	return h.conns.Size()
}

func (h *Hub) add(c *wsConn) {
	h.conns.Store(c.id, c)
	h.metrics.ConnectionOpened()
}

// remove detaches c unless the id now belongs to another connection.
func (h *Hub) remove(c *wsConn) {
	removed := false
	h.conns.Compute(c.id, func(cur *wsConn, loaded bool) (*wsConn, bool) {
		if !loaded || cur != c {
			return cur, !loaded
		}
		removed = true
		return nil, true
	})
	if removed {
		h.metrics.ConnectionClosed()
	}
}

// closeAll terminates every attached connection.
func (h *Hub) closeAll() {
	h.conns.Range(func(_ string, c *wsConn) bool {
		c.close()
		return true
	})
}
