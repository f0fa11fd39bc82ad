// Package realtime implements the chat event handlers: message delivery,
// call signaling transitions, chat visibility changes and the connect and
// disconnect reconciliation that keeps presence consistent.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/internal/assets"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/presence"
	"github.com/haasonsaas/parley/internal/signaling"
	"github.com/haasonsaas/parley/internal/storage"
)

// Emitter delivers outbound events to connections attached to this process.
type Emitter interface {
	// Emit queues an event for the connection. It reports false when the
	// connection is gone or its queue is full.
	Emit(connID, event string, payload any) bool
	// Connected reports whether the connection is attached.
	Connected(connID string) bool
}

// Client identifies the connection an event arrived on.
type Client struct {
	ConnID string
	UserID string
}

// Options configures a Service.
type Options struct {
	Presence *presence.Registry
	Stores   storage.StoreSet
	Emitter  Emitter

	// Spool stages and uploads attachments. Without it, attachment payloads
	// are rejected.
	Spool *assets.Spool

	OfferTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Service handles realtime events.
type Service struct {
	presence *presence.Registry
	chats    storage.ChatStore
	messages storage.MessageStore
	users    storage.UserStore
	calls    *signaling.Registry
	spool    *assets.Spool
	emitter  Emitter

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time
	newID   func() string
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Presence == nil {
		return nil, fmt.Errorf("presence registry is required")
	}
	if opts.Emitter == nil {
		return nil, fmt.Errorf("emitter is required")
	}
	if opts.Stores.Chats == nil || opts.Stores.Messages == nil || opts.Stores.Users == nil {
		return nil, fmt.Errorf("chat, message and user stores are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	s := &Service{
		presence: opts.Presence,
		chats:    opts.Stores.Chats,
		messages: opts.Stores.Messages,
		users:    opts.Stores.Users,
		spool:    opts.Spool,
		emitter:  opts.Emitter,
		logger:   opts.Logger.With("component", "realtime"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	s.calls = signaling.NewRegistry(opts.OfferTimeout, s.offerExpired)
	if s.spool != nil {
		s.spool.OnComplete(s.uploadFinished)
	}
	return s, nil
}

// Calls exposes the call session registry.
func (s *Service) Calls() *signaling.Registry {
	return s.calls
}

// reach returns the connection the user can be reached on. A mapping to a
// connection that is no longer attached is stale and is cleared.
func (s *Service) reach(ctx context.Context, userID string) (string, bool) {
	if userID == "" {
		return "", false
	}
	connID, ok := s.presence.ConnForUser(ctx, userID)
	if !ok {
		return "", false
	}
	if !s.emitter.Connected(connID) {
		s.presence.Clear(ctx, connID, userID)
		s.logger.DebugContext(ctx, "cleared stale presence", "user_id", userID, "conn_id", connID)
		return "", false
	}
	return connID, true
}

func (s *Service) send(connID, event string, payload any) bool {
	ok := s.emitter.Emit(connID, event, payload)
	if ok {
		s.metrics.Delivery(event, "delivered")
	} else {
		s.metrics.Delivery(event, "dropped")
	}
	return ok
}

// notify sends to the user's connection if the user is present.
func (s *Service) notify(ctx context.Context, userID, event string, payload any) bool {
	connID, ok := s.reach(ctx, userID)
	if !ok {
		s.metrics.Delivery(event, "unreachable")
		return false
	}
	return s.send(connID, event, payload)
}

func (s *Service) sendError(connID string, err *Error) {
	s.send(connID, EventError, ErrorPayload{Type: err.Type, Message: err.Message})
}

// storeFailed logs and counts a persistence failure that does not stop the
// operation.
func (s *Service) storeFailed(ctx context.Context, op string, err error, attrs ...any) {
	s.metrics.StoreError(op)
	s.logger.WarnContext(ctx, "store operation failed", append([]any{"op", op, "error", err}, attrs...)...)
}
