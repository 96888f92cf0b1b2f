// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for heat map, tile and server settings.
//
// IMPORTANT: When changing defaults, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"heatmap-tiles/internal/heatmap"
)

// =============================================================================
// HEAT MAP CONFIGURATION
// =============================================================================

// HeatmapConfig holds the drawing settings shared by every tile.
type HeatmapConfig struct {
	Radius     float64       // Point radius in pixels
	RadiusMax  float64       // Zoom-scaled radius cap; 0 keeps Radius fixed at every level
	RadiusSpan float64       // Tile width in degrees at which a zoom-scaled radius equals Radius
	Blur       float64       // Blur amount in pixels
	Increment  float64       // Heat added per unit of intensity at a point's center
	Extension  float64       // Bleed margin as a fraction of the tile size
	Interval   string        // "continuous" or "quantile"
	Scale      []color.NRGBA // Color scale, low to high
	Rasterizer string        // "accumulation" or "canvas"
}

// DefaultHeatmap returns the default drawing configuration.
func DefaultHeatmap() HeatmapConfig {
	return HeatmapConfig{
		Radius:     25,
		RadiusSpan: 90, // a level 0 geographic tile
		Blur:       10,
		Increment:  0.025,
		Extension:  0.125, // 64px on a 512px tile, covers radius + blur
		Interval:   "continuous",
		Scale:      heatmap.DefaultScale(),
		Rasterizer: "accumulation",
	}
}

// HeatmapFromEnv returns drawing configuration with environment variable overrides.
func HeatmapFromEnv() (HeatmapConfig, error) {
	cfg := DefaultHeatmap()

	if v := getEnvFloat("HEATMAP_RADIUS", -1); v >= 0 {
		cfg.Radius = v
	}
	if v := getEnvFloat("HEATMAP_RADIUS_MAX", -1); v >= 0 {
		cfg.RadiusMax = v
	}
	if v := getEnvFloat("HEATMAP_RADIUS_SPAN", 0); v > 0 {
		cfg.RadiusSpan = v
	}
	if v := getEnvFloat("HEATMAP_BLUR", -1); v >= 0 {
		cfg.Blur = v
	}
	if v := getEnvFloat("HEATMAP_INCREMENT", -1); v >= 0 {
		cfg.Increment = v
	}
	if v := getEnvFloat("HEATMAP_EXTENSION", -1); v >= 0 {
		cfg.Extension = v
	}
	if v := os.Getenv("HEATMAP_INTERVAL"); v != "" {
		cfg.Interval = v
	}
	if v := os.Getenv("HEATMAP_RASTERIZER"); v != "" {
		cfg.Rasterizer = v
	}
	if v := os.Getenv("HEATMAP_SCALE"); v != "" {
		scale, err := ParseScale(v)
		if err != nil {
			return cfg, fmt.Errorf("HEATMAP_SCALE: %w", err)
		}
		cfg.Scale = scale
	}

	return cfg, nil
}

// =============================================================================
// SPATIAL INDEX CONFIGURATION
// =============================================================================

// IndexConfig holds quadtree settings.
type IndexConfig struct {
	MaxObjects int // Points per leaf before it splits
	MaxLevels  int // Maximum tree depth
}

// DefaultIndex returns the default index configuration.
func DefaultIndex() IndexConfig {
	return IndexConfig{
		MaxObjects: 10,
		MaxLevels:  8,
	}
}

// IndexFromEnv returns index configuration with environment variable overrides.
func IndexFromEnv() IndexConfig {
	cfg := DefaultIndex()

	if v := getEnvInt("INDEX_MAX_OBJECTS", 0); v > 0 {
		cfg.MaxObjects = v
	}
	if v := getEnvInt("INDEX_MAX_LEVELS", -1); v >= 0 {
		cfg.MaxLevels = v
	}

	return cfg
}

// =============================================================================
// TILE CONFIGURATION
// =============================================================================

// TileConfig holds tile layer settings.
type TileConfig struct {
	Size           int           // Tile edge in pixels
	Scheme         string        // "geographic" or "webmercator"
	AbsentCooldown time.Duration // How long a failed tile key is refused
	MaxComposite   int           // Tile cap for one composite view
	CacheSize      int           // Encoded tiles kept in memory; 0 disables the cache
	CacheTTL       time.Duration
}

// DefaultTile returns the default tile configuration.
func DefaultTile() TileConfig {
	return TileConfig{
		Size:           512,
		Scheme:         "geographic",
		AbsentCooldown: 30 * time.Second,
		MaxComposite:   16,
		CacheSize:      1024,
		CacheTTL:       10 * time.Minute,
	}
}

// TileFromEnv returns tile configuration with environment variable overrides.
func TileFromEnv() TileConfig {
	cfg := DefaultTile()

	if v := getEnvInt("TILE_SIZE", 0); v > 0 {
		cfg.Size = v
	}
	if v := os.Getenv("TILE_SCHEME"); v != "" {
		cfg.Scheme = v
	}
	if v := getEnvInt("TILE_CACHE_SIZE", -1); v >= 0 {
		cfg.CacheSize = v
	}
	if v := getEnvInt("TILE_CACHE_TTL_SECONDS", 0); v > 0 {
		cfg.CacheTTL = time.Duration(v) * time.Second
	}

	return cfg
}

// =============================================================================
// DATASET CONFIGURATION
// =============================================================================

// DatasetConfig selects where points come from.
type DatasetConfig struct {
	Path            string // .geojson or .csv; empty means synthetic
	IntensityProp   string // GeoJSON property holding the intensity
	SyntheticPoints int    // Generated points when Path is empty
	SyntheticSeed   int64
}

// DefaultDataset returns the default dataset configuration.
func DefaultDataset() DatasetConfig {
	return DatasetConfig{
		IntensityProp:   "intensity",
		SyntheticPoints: 10_000,
		SyntheticSeed:   1,
	}
}

// DatasetFromEnv returns dataset configuration with environment variable overrides.
func DatasetFromEnv() DatasetConfig {
	cfg := DefaultDataset()

	cfg.Path = os.Getenv("DATASET_PATH")
	if v := os.Getenv("DATASET_INTENSITY_PROP"); v != "" {
		cfg.IntensityProp = v
	}
	if v := getEnvInt("SYNTHETIC_POINTS", -1); v >= 0 {
		cfg.SyntheticPoints = v
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int
	RateLimitRPS   float64 // Requests per second per client IP
	RateLimitBurst int
	TrustedProxies []string // IPs or CIDRs whose X-Forwarded-For is believed
	DebugEnabled   bool     // pprof + /metrics on localhost:6060
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		RateLimitRPS:   50, // a map view pulls a dozen tiles at once
		RateLimitBurst: 100,
		DebugEnabled:   true,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if v := getEnvFloat("RATE_LIMIT_RPS", 0); v > 0 {
		cfg.RateLimitRPS = v
	}
	if v := getEnvInt("RATE_LIMIT_BURST", 0); v > 0 {
		cfg.RateLimitBurst = v
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = strings.Split(v, ",")
	}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.DebugEnabled = false
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Heatmap HeatmapConfig
	Index   IndexConfig
	Tile    TileConfig
	Dataset DatasetConfig
	Server  ServerConfig
}

// Default returns the complete configuration without environment overrides.
func Default() AppConfig {
	return AppConfig{
		Heatmap: DefaultHeatmap(),
		Index:   DefaultIndex(),
		Tile:    DefaultTile(),
		Dataset: DefaultDataset(),
		Server:  DefaultServer(),
	}
}

// Load returns the complete configuration with environment overrides.
func Load() (AppConfig, error) {
	hm, err := HeatmapFromEnv()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Heatmap: hm,
		Index:   IndexFromEnv(),
		Tile:    TileFromEnv(),
		Dataset: DatasetFromEnv(),
		Server:  ServerFromEnv(),
	}, nil
}

// HeatmapOptions converts the configuration into heat map options.
func (c AppConfig) HeatmapOptions() (heatmap.Options, error) {
	interval, err := heatmap.ParseInterval(c.Heatmap.Interval)
	if err != nil {
		return heatmap.Options{}, err
	}
	rasterizer, err := heatmap.RasterizerByName(c.Heatmap.Rasterizer)
	if err != nil {
		return heatmap.Options{}, err
	}

	opts := heatmap.DefaultOptions()
	opts.Scale = c.Heatmap.Scale
	opts.Interval = interval
	opts.Radius = heatmap.FixedRadius(c.Heatmap.Radius)
	if c.Heatmap.RadiusMax > c.Heatmap.Radius {
		// Extension must cover RadiusMax + Blur on the deepest tiles, or seams appear
		opts.Radius = heatmap.ComputedRadius(heatmap.ZoomScaledRadius(c.Heatmap.Radius, c.Heatmap.RadiusSpan, c.Heatmap.RadiusMax))
	}
	opts.Blur = c.Heatmap.Blur
	opts.IncrementPerIntensity = c.Heatmap.Increment
	opts.Extension = c.Heatmap.Extension
	opts.MaxObjects = c.Index.MaxObjects
	opts.MaxLevels = c.Index.MaxLevels
	opts.Rasterizer = rasterizer
	return opts, opts.Validate()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// ParseScale parses a comma-separated list of #rrggbb or #rrggbbaa colors.
func ParseScale(s string) ([]color.NRGBA, error) {
	parts := strings.Split(s, ",")
	scale := make([]color.NRGBA, 0, len(parts))
	for _, p := range parts {
		c, err := ParseHexColor(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		scale = append(scale, c)
	}
	return scale, nil
}

// ParseHexColor parses #rrggbb or #rrggbbaa.
func ParseHexColor(hex string) (color.NRGBA, error) {
	if (len(hex) != 7 && len(hex) != 9) || hex[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", hex)
	}
	for i := 1; i < len(hex); i++ {
		if _, ok := hexCharToNibble(hex[i]); !ok {
			return color.NRGBA{}, fmt.Errorf("invalid color %q", hex)
		}
	}

	c := color.NRGBA{
		R: hexToByte(hex[1], hex[2]),
		G: hexToByte(hex[3], hex[4]),
		B: hexToByte(hex[5], hex[6]),
		A: 255,
	}
	if len(hex) == 9 {
		c.A = hexToByte(hex[7], hex[8])
	}
	return c, nil
}

// hexToByte converts two hex chars to a byte
func hexToByte(h1, h2 byte) uint8 {
	hi, _ := hexCharToNibble(h1)
	lo, _ := hexCharToNibble(h2)
	return hi<<4 | lo
}

func hexCharToNibble(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
