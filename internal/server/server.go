// Package server exposes the alert API over REST, a WebSocket alert stream and
// the gRPC health protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Options configures the HTTP server.
type Options struct {
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Server is the HTTP front of the monitoring engine.
type Server struct {
	http   *http.Server
	hub    *Hub
	opts   Options
	logger *zap.Logger
}

// New builds the router, middleware chain and HTTP server.
func New(opts Options, h *Handler, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           NewRouter(opts, h, hub, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		hub:    hub,
		opts:   opts,
		logger: logger,
	}
}

// NewRouter wires every route behind CORS and the middleware chain.
func NewRouter(opts Options, h *Handler, hub *Hub, logger *zap.Logger) http.Handler {
	router := mux.NewRouter()
	SetupRoutes(router, h)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if hub != nil {
		upgrader := websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		}
		router.HandleFunc("/ws/entities/{entity}/alerts", hub.ServeWS(upgrader)).Methods(http.MethodGet)
	}

	router.Use(RequestID)
	router.Use(Recovery(logger))
	router.Use(StructuredLog(logger))
	router.Use(SecureHeaders)

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader, "Retry-After"},
		AllowCredentials: true,
	})
	return Tracing(c.Handler(router))
}

// originChecker allows same-origin requests and the configured origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// ListenAndServe serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", zap.String("address", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve serves on listener until Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the alert stream and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}
