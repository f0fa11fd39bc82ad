// Package gateway serves parley's websocket endpoint, the chat lifecycle HTTP
// API and the operational endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/realtime"
	"github.com/haasonsaas/parley/pkg/models"
)

// Realtime is the event core the gateway drives.
type Realtime interface {
	Connect(ctx context.Context, c realtime.Client) error
	Disconnect(ctx context.Context, c realtime.Client)
	Dispatch(ctx context.Context, c realtime.Client, event string, data json.RawMessage) error

	ChatList(ctx context.Context, userID string, withUnread bool) ([]models.Contact, error)
	AddContact(ctx context.Context, userID, contactID string) (models.Contact, error)
	BlockChat(ctx context.Context, userID, chatID string) (models.Contact, error)
	UnblockChat(ctx context.Context, userID, chatID string) (models.Contact, error)
	DeleteChat(ctx context.Context, userID, chatID string) (models.Contact, error)
}

// Options configures a Server.
type Options struct {
	Config  config.ServerConfig
	Service Realtime
	Hub     *Hub

	// Files serves uploaded assets under /files/ when set.
	Files http.Handler
	// Gatherer backs /metrics. Defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer

	// Ready reports readiness for /healthz.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

// Server is the parley HTTP server.
type Server struct {
	config   config.ServerConfig
	service  Realtime
	hub      *Hub
	files    http.Handler
	gatherer prometheus.Gatherer
	ready    func(ctx context.Context) error
	logger   *slog.Logger

	httpServer   *http.Server
	httpListener net.Listener
}

// NewServer creates a server.
func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("realtime service is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:   opts.Config,
		service:  opts.Service,
		hub:      opts.Hub,
		files:    opts.Files,
		gatherer: opts.Gatherer,
		ready:    opts.Ready,
		logger:   opts.Logger.With("component", "gateway"),
	}, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/ws", s.newWSHandler())

	mux.HandleFunc("GET /api/v1/chats", s.handleListChats)
	mux.HandleFunc("POST /api/v1/chats", s.handleCreateChat)
	mux.HandleFunc("POST /api/v1/chats/{chatID}/block", s.handleBlockChat)
	mux.HandleFunc("POST /api/v1/chats/{chatID}/unblock", s.handleUnblockChat)
	mux.HandleFunc("DELETE /api/v1/chats/{chatID}", s.handleDeleteChat)

	if s.files != nil {
		mux.Handle("/files/", http.StripPrefix("/files/", s.files))
	}
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Stop shuts down the HTTP server and closes every websocket connection.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("stopping server")

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	err := s.httpServer.Shutdown(shutdownCtx)
	s.hub.closeAll()
	s.httpServer = nil
	s.httpListener = nil
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": s.hub.Len()})
}
