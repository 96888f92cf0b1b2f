package config

import (
	"image/color"
	"testing"
	"time"

	"heatmap-tiles/internal/heatmap"
)

// TestDefaultsBuildValidOptions tests that the defaults convert cleanly
func TestDefaultsBuildValidOptions(t *testing.T) {
	opts, err := Default().HeatmapOptions()
	if err != nil {
		t.Fatalf("Default options invalid: %v", err)
	}

	if opts.Radius.Resolve(heatmap.Sector{}, 512, 512) != 25 {
		t.Errorf("Expected radius 25, got %v", opts.Radius)
	}
	if opts.MaxObjects != 10 || opts.MaxLevels != 8 {
		t.Errorf("Expected index 10/8, got %d/%d", opts.MaxObjects, opts.MaxLevels)
	}
	if opts.Rasterizer.Name() != "accumulation" {
		t.Errorf("Expected accumulation rasterizer, got %s", opts.Rasterizer.Name())
	}
}

// TestLoadFromEnv tests environment overrides
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("HEATMAP_RADIUS", "12.5")
	t.Setenv("HEATMAP_BLUR", "0")
	t.Setenv("HEATMAP_INTERVAL", "quantile")
	t.Setenv("HEATMAP_SCALE", "#000000, #ff000080")
	t.Setenv("HEATMAP_RASTERIZER", "canvas")
	t.Setenv("INDEX_MAX_LEVELS", "0")
	t.Setenv("TILE_SIZE", "256")
	t.Setenv("TILE_SCHEME", "webmercator")
	t.Setenv("TILE_CACHE_SIZE", "0")
	t.Setenv("TILE_CACHE_TTL_SECONDS", "90")
	t.Setenv("DATASET_PATH", "/data/quakes.geojson")
	t.Setenv("SYNTHETIC_POINTS", "not-a-number")
	t.Setenv("DISABLE_DEBUG_SERVER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.DebugEnabled {
		t.Error("Debug server should be disabled")
	}
	if cfg.Heatmap.Radius != 12.5 || cfg.Heatmap.Blur != 0 {
		t.Errorf("Expected radius 12.5 blur 0, got %v %v", cfg.Heatmap.Radius, cfg.Heatmap.Blur)
	}
	if cfg.Index.MaxLevels != 0 {
		t.Errorf("Expected max levels 0, got %d", cfg.Index.MaxLevels)
	}
	if cfg.Tile.Size != 256 || cfg.Tile.Scheme != "webmercator" {
		t.Errorf("Unexpected tile config %+v", cfg.Tile)
	}
	if cfg.Tile.CacheSize != 0 || cfg.Tile.CacheTTL != 90*time.Second {
		t.Errorf("Expected disabled cache with 90s TTL, got %d %v", cfg.Tile.CacheSize, cfg.Tile.CacheTTL)
	}
	if cfg.Dataset.Path != "/data/quakes.geojson" {
		t.Errorf("Unexpected dataset path %q", cfg.Dataset.Path)
	}
	if cfg.Dataset.SyntheticPoints != DefaultDataset().SyntheticPoints {
		t.Errorf("Invalid number should keep the default, got %d", cfg.Dataset.SyntheticPoints)
	}

	want := []color.NRGBA{{A: 255}, {R: 255, A: 128}}
	if len(cfg.Heatmap.Scale) != 2 || cfg.Heatmap.Scale[0] != want[0] || cfg.Heatmap.Scale[1] != want[1] {
		t.Errorf("Expected scale %v, got %v", want, cfg.Heatmap.Scale)
	}

	opts, err := cfg.HeatmapOptions()
	if err != nil {
		t.Fatalf("HeatmapOptions failed: %v", err)
	}
	if opts.Interval != heatmap.IntervalQuantile || opts.Rasterizer.Name() != "canvas" {
		t.Errorf("Unexpected options %+v", opts)
	}
}

// TestLoadRejectsBadScale tests that a malformed scale is an error
func TestLoadRejectsBadScale(t *testing.T) {
	t.Setenv("HEATMAP_SCALE", "#00ff00,blue")

	if _, err := Load(); err == nil {
		t.Error("Expected error for bad scale")
	}
}

// TestHeatmapOptionsRejectsUnknownNames tests interval and rasterizer names
func TestHeatmapOptionsRejectsUnknownNames(t *testing.T) {
	cfg := Default()
	cfg.Heatmap.Interval = "logarithmic"
	if _, err := cfg.HeatmapOptions(); err == nil {
		t.Error("Expected error for unknown interval")
	}

	cfg = Default()
	cfg.Heatmap.Rasterizer = "webgl"
	if _, err := cfg.HeatmapOptions(); err == nil {
		t.Error("Expected error for unknown rasterizer")
	}
}

// TestHeatmapOptionsZoomScaledRadius tests that a radius cap switches to a per-tile radius
func TestHeatmapOptionsZoomScaledRadius(t *testing.T) {
	t.Setenv("HEATMAP_RADIUS_MAX", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	opts, err := cfg.HeatmapOptions()
	if err != nil {
		t.Fatalf("HeatmapOptions failed: %v", err)
	}
	if !opts.Radius.IsComputed() {
		t.Fatal("Expected a computed radius")
	}

	tests := []struct {
		span float64
		want float64
	}{
		{90, 25},    // level 0
		{22.5, 50},  // level 2
		{5.625, 60}, // capped
	}
	for _, tt := range tests {
		sector := heatmap.Sector{MinLat: 0, MaxLat: tt.span, MinLon: 0, MaxLon: tt.span}
		if got := opts.Radius.Resolve(sector, 256, 256); got != tt.want {
			t.Errorf("Radius for %v° tile = %v, want %v", tt.span, got, tt.want)
		}
	}

	// A cap at or below the base radius keeps it fixed
	cfg.Heatmap.RadiusMax = cfg.Heatmap.Radius
	opts, err = cfg.HeatmapOptions()
	if err != nil || opts.Radius.IsComputed() {
		t.Errorf("Expected fixed radius, got %v (%v)", opts.Radius, err)
	}
}

// TestServerTrustedProxies tests the proxy list parsing from env
func TestServerTrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")

	cfg := ServerFromEnv()
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" {
		t.Errorf("Unexpected trusted proxies %v", cfg.TrustedProxies)
	}
	if len(DefaultServer().TrustedProxies) != 0 {
		t.Error("Default should trust no proxies")
	}
}

// TestParseHexColor tests hex color parsing
func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{"#ff0000", color.NRGBA{R: 255, A: 255}, false},
		{"#00FF00", color.NRGBA{G: 255, A: 255}, false},
		{"#0000ff7f", color.NRGBA{B: 255, A: 127}, false},
		{"ff0000", color.NRGBA{}, true},
		{"#ff00", color.NRGBA{}, true},
		{"#gg0000", color.NRGBA{}, true},
	}

	for _, tt := range tests {
		got, err := ParseHexColor(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseHexColor(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseHexColor(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
