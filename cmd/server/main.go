package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"heatmap-tiles/internal/api"
	"heatmap-tiles/internal/config"
	"heatmap-tiles/internal/dataset"
	"heatmap-tiles/internal/heatmap"
	"heatmap-tiles/internal/layer"
	"heatmap-tiles/internal/tilecache"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🔥 ================================")
	log.Println("🔥  HEATMAP TILE SERVER")
	log.Println("🔥 ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	opts, err := appConfig.HeatmapOptions()
	if err != nil {
		log.Fatalf("❌ Invalid heat map options: %v", err)
	}

	dsCfg := appConfig.Dataset
	points, source, err := dataset.LoadOrGenerate(dsCfg.Path, dsCfg.IntensityProp, dsCfg.SyntheticPoints, dsCfg.SyntheticSeed)
	if err != nil {
		log.Fatalf("❌ Failed to load dataset: %v", err)
	}
	log.Printf("📍 Dataset: %s", source)

	start := time.Now()
	hm, err := heatmap.New(points, opts)
	if err != nil {
		log.Fatalf("❌ Failed to build heat map: %v", err)
	}
	stats := hm.IndexStats()
	log.Printf("🌳 Indexed %d points in %v (%d nodes, depth %d, %d refs)",
		hm.Len(), time.Since(start).Round(time.Millisecond), stats.Nodes, stats.MaxDepth, stats.References)
	log.Printf("🎨 Config: radius %v, blur %.1f, %s gradient, %s rasterizer, %dpx tiles",
		opts.Radius, opts.Blur, opts.Interval, opts.Rasterizer.Name(), appConfig.Tile.Size)

	proxies, err := api.ParseTrustedProxies(appConfig.Server.TrustedProxies)
	if err != nil {
		log.Fatalf("❌ TRUSTED_PROXIES: %v", err)
	}

	// Hub first so tile callbacks can reach it
	hub := api.NewWebSocketHub(nil, proxies)

	layers := make(map[string]api.TileSource)
	var closers []func()
	for _, name := range []string{"geographic", "webmercator"} {
		scheme, err := layer.SchemeByName(name)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		l := layer.New(hm, scheme, layer.Config{
			TileSize:       appConfig.Tile.Size,
			AbsentCooldown: appConfig.Tile.AbsentCooldown,
			OnTileReady: func(key layer.TileKey, tile *heatmap.Tile) {
				api.RecordTileRendered(tile)
				hub.NotifyTileReady(name, key, tile)
			},
		})
		layers[scheme.Name()] = l
		closers = append(closers, l.Close)
	}

	defaultScheme, err := layer.SchemeByName(appConfig.Tile.Scheme)
	if err != nil {
		log.Fatalf("❌ TILE_SCHEME: %v", err)
	}

	var cache *tilecache.Cache
	if appConfig.Tile.CacheSize > 0 {
		cache = tilecache.New(appConfig.Tile.CacheSize, appConfig.Tile.CacheTTL)
		log.Printf("🗄️ Tile cache: %d tiles, TTL %v", appConfig.Tile.CacheSize, appConfig.Tile.CacheTTL)
	}

	// Start debug server
	if appConfig.Server.DebugEnabled {
		if err := api.StartDebugServer(api.DefaultObservabilityConfig()); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	server := api.NewServer(api.ServerConfig{
		Layers:            layers,
		DefaultScheme:     defaultScheme.Name(),
		MaxCompositeTiles: appConfig.Tile.MaxComposite,
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: appConfig.Server.RateLimitRPS,
			Burst:             appConfig.Server.RateLimitBurst,
			TrustedProxies:    proxies,
		},
		TileCache: cache,
		Hub:       hub,
	})

	// Start API server in goroutine
	go func() {
		addr := ":" + strconv.Itoa(appConfig.Server.Port)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Shutdown error: %v", err)
	}
	for _, closeLayer := range closers {
		closeLayer()
	}
	log.Println("👋 Goodbye!")
}
