package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/realtime"
)

const (
	wsPongWait   = 45 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsWriteWait  = 10 * time.Second

	// UserHeader carries the user id set by the authenticating proxy.
	UserHeader = "X-User-ID"
)

// wsInbound is a frame received from a client.
type wsInbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// wsOutbound is a frame sent to a client.
type wsOutbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type wsHandler struct {
	server   *Server
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func (s *Server) newWSHandler() http.Handler {
	return &wsHandler{
		server: s,
		logger: s.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// wsConn is one attached client. The send queue is never closed; the writer
// stops when ctx is cancelled.
type wsConn struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	maxPayload int64
	logger     *slog.Logger
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := requestUser(r)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, response{Message: "user id is required"})
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	cfg := h.server.config
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		id:         uuid.NewString(),
		userID:     userID,
		ws:         ws,
		send:       make(chan []byte, cfg.SendQueue),
		ctx:        ctx,
		cancel:     cancel,
		maxPayload: cfg.MaxPayloadBytes,
	}
	c.logger = h.logger.With("conn_id", c.id, "user_id", userID)
	h.server.serveConn(c)
}

// requestUser reads the acting user from the _id query parameter or the
// proxy header.
func requestUser(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("_id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

func (s *Server) serveConn(c *wsConn) {
	client := realtime.Client{ConnID: c.id, UserID: c.userID}
	s.hub.add(c)
	go c.writeLoop()

	if err := s.service.Connect(c.ctx, client); err != nil {
		c.logger.Warn("connect reconciliation failed", "error", err)
	}
	c.logger.Info("client connected")

	c.readLoop(func(event string, data json.RawMessage) {
		ctx := observability.WithConnID(c.ctx, c.id)
		_ = s.service.Dispatch(ctx, client, event, data) //nolint:errcheck
	})

	c.close()
	s.hub.remove(c)
	s.service.Disconnect(context.Background(), client)
	c.logger.Info("client disconnected")
}

func (c *wsConn) close() {
	c.once.Do(func() {
		c.cancel()
		_ = c.ws.Close() //nolint:errcheck
	})
}

func (c *wsConn) readLoop(dispatch func(event string, data json.RawMessage)) {
	if c.maxPayload > 0 {
		c.ws.SetReadLimit(c.maxPayload)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame wsInbound
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			c.enqueue(realtime.EventError, realtime.ErrorPayload{Type: "event", Message: "invalid frame"})
			continue
		}
		dispatch(frame.Event, frame.Data)
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

// enqueue encodes the event and queues it without blocking.
func (c *wsConn) enqueue(event string, payload any) bool {
	data, err := json.Marshal(wsOutbound{Event: event, Data: payload})
	if err != nil {
		c.logger.Error("failed to encode event", "event", event, "error", err)
		return false
	}
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send queue full, dropping event", "event", event)
		return false
	}
}
