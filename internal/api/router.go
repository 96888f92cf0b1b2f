package api

import (
	"context"
	"image"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"heatmap-tiles/internal/heatmap"
	"heatmap-tiles/internal/layer"
	"heatmap-tiles/internal/tilecache"
)

// TileSource is the tile layer the API serves from. *layer.Layer implements it;
// tests substitute their own.
type TileSource interface {
	Tile(ctx context.Context, key layer.TileKey) (*heatmap.Tile, error)
	View(ctx context.Context, sector heatmap.Sector, level int) (image.Image, []layer.TileKey, error)
	Scheme() layer.Scheme
	TileSize() int
	HeatMap() *heatmap.HeatMap
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Layers: map[string]api.TileSource{"geographic": l},
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Layers maps scheme names to tile sources (at least one required)
	Layers map[string]TileSource

	// DefaultScheme picks the layer for /api/view.png when the request names none.
	// If empty, any configured layer is used.
	DefaultScheme string

	// MaxCompositeTiles caps the tiles one view may render. 0 means 16.
	MaxCompositeTiles int

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, any origin may fetch tiles.
	CORSOrigins []string

	// TileCache keeps encoded tiles between requests (optional).
	TileCache *tilecache.Cache

	// ClientCount reports connected websocket clients for /api/stats (optional).
	ClientCount func() int

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	layers        map[string]TileSource
	defaultScheme string
	maxComposite  int
	clientCount   func() int
	cache         *tilecache.Cache
	limiter       *IPRateLimiter
	started       time.Time
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function starts no goroutines besides the rate limiter's
// cleanup loop, and opens no listeners, so it is safe to use with httptest.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Heatmap-Candidates"},
		MaxAge:         300,
	}))

	maxComposite := cfg.MaxCompositeTiles
	if maxComposite <= 0 {
		maxComposite = 16
	}
	h := &routerHandlers{
		layers:        cfg.Layers,
		defaultScheme: cfg.DefaultScheme,
		maxComposite:  maxComposite,
		clientCount:   cfg.ClientCount,
		cache:         cfg.TileCache,
		limiter:       rateLimiter,
		started:       time.Now(),
	}

	r.Get("/health", h.handleHealth)
	r.Get("/tiles/{scheme}/{level}/{col}/{row}.png", h.handleTile)

	r.Route("/api", func(r chi.Router) {
		r.Get("/view.png", h.handleView)
		r.Get("/stats", h.handleGetStats)
		r.Get("/config", h.handleGetConfig)
	})

	return r
}
