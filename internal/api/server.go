package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"horde/internal/config"

	"github.com/go-chi/chi/v5"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for the live tier feed.
type Server struct {
	engine      EngineInterface
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
}

// ServerOptions carries the optional parts of a Server
type ServerOptions struct {
	Config config.AppConfig
	Audio  AudioInterface
}

// NewServer creates a new API server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(engine EngineInterface, opts ServerOptions) *Server {
	s := &Server{
		engine: engine,
		wsHub:  NewWebSocketHub(),
	}

	s.rateLimiter = NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: opts.Config.Server.RequestsPerSecond,
		Burst:             opts.Config.Server.Burst,
		CleanupInterval:   DefaultRateLimitConfig.CleanupInterval,
	})

	s.router = NewRouter(RouterConfig{
		Engine:      engine,
		Audio:       opts.Audio,
		Config:      opts.Config,
		RateLimiter: s.rateLimiter,
		AdminToken:  opts.Config.Server.AdminToken,
	})

	// WebSocket route needs the hub instance, so it is not part of NewRouter
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	return s
}

// startWorkers launches the hub and broadcast loop
func (s *Server) startWorkers() {
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.engine)
}

// Start begins the HTTP server AND starts background workers.
// It blocks until the server stops; http.ErrServerClosed is not an error.
func (s *Server) Start(addr string) error {
	s.startWorkers()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("📡 Tier feed: ws://localhost%s/ws", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Stop shuts the listener down gracefully and stops background workers
func (s *Server) Stop(ctx context.Context) error {
	s.wsHub.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
