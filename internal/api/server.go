package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"heatmap-tiles/internal/tilecache"
)

// ServerConfig holds what the tile server needs to run.
type ServerConfig struct {
	Layers            map[string]TileSource
	DefaultScheme     string
	MaxCompositeTiles int
	RateLimit         RateLimitConfig
	CORSOrigins       []string
	TileCache         *tilecache.Cache

	// Hub is an optional pre-built websocket hub, so tile callbacks can be
	// wired to it before the server exists. If nil, one is created.
	Hub *WebSocketHub
}

// Server is the HTTP tile server with WebSocket redraw notifications.
type Server struct {
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new tile server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(cfg ServerConfig) *Server {
	hub := cfg.Hub
	if hub == nil {
		hub = NewWebSocketHub(cfg.CORSOrigins, cfg.RateLimit.TrustedProxies)
	}

	s := &Server{
		wsHub:       hub,
		rateLimiter: NewIPRateLimiter(cfg.RateLimit),
	}

	s.router = NewRouter(RouterConfig{
		Layers:            cfg.Layers,
		DefaultScheme:     cfg.DefaultScheme,
		MaxCompositeTiles: cfg.MaxCompositeTiles,
		RateLimiter:       s.rateLimiter,
		CORSOrigins:       cfg.CORSOrigins,
		TileCache:         cfg.TileCache,
		ClientCount:       hub.ClientCount,
	})

	// The websocket route needs the hub instance, so it is not part of NewRouter
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	return s
}

// Start runs the websocket hub and serves HTTP until Shutdown.
// It returns nil after a graceful shutdown.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	log.Printf("🌐 Tile server starting on %s", addr)
	log.Printf("🗺️ Tiles: http://localhost%s/tiles/{scheme}/{level}/{col}/{row}.png", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown stops accepting requests, waits for in-flight ones and stops
// background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.wsHub.Stop()
	s.rateLimiter.Stop()
	return err
}
