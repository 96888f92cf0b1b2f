package api

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatmap-tiles/internal/heatmap"
	"heatmap-tiles/internal/layer"
	"heatmap-tiles/internal/tilecache"
)

func newTestLayer(t *testing.T, onReady func(layer.TileKey, *heatmap.Tile)) *layer.Layer {
	t.Helper()

	h, err := heatmap.New([]heatmap.Point{
		{Lat: 45, Lon: 45, Intensity: 20},
		{Lat: -30, Lon: -60, Intensity: 5},
	}, heatmap.DefaultOptions())
	require.NoError(t, err)

	l := layer.New(h, layer.GeographicScheme{LevelZeroDelta: 90}, layer.Config{TileSize: 64, OnTileReady: onReady})
	t.Cleanup(l.Close)
	return l
}

func newTestRouter(t *testing.T, src TileSource) *httptest.Server {
	t.Helper()

	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000})
	t.Cleanup(limiter.Stop)

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Layers:            map[string]TileSource{"geographic": src},
		MaxCompositeTiles: 4,
		RateLimiter:       limiter,
		DisableLogging:    true,
	}))
	t.Cleanup(ts.Close)
	return ts
}

// TestHealth tests the health endpoint
func TestHealth(t *testing.T) {
	ts := newTestRouter(t, newTestLayer(t, nil))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestGetTile tests serving a rendered tile
func TestGetTile(t *testing.T) {
	ts := newTestRouter(t, newTestLayer(t, nil))

	resp, err := http.Get(ts.URL + "/tiles/geographic/0/2/1.png")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1", resp.Header.Get("X-Heatmap-Candidates"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	_, _, _, a := img.At(32, 32).RGBA()
	assert.Greater(t, a, uint32(0))
}

// TestGetTileErrors tests tile request validation
func TestGetTileErrors(t *testing.T) {
	ts := newTestRouter(t, newTestLayer(t, nil))

	tests := []struct {
		path string
		want int
	}{
		{"/tiles/mercator/0/0/0.png", http.StatusNotFound},
		{"/tiles/geographic/x/0/0.png", http.StatusBadRequest},
		{"/tiles/geographic/0/9/0.png", http.StatusNotFound},
		{"/tiles/geographic/0/0/0.jpg", http.StatusNotFound},
	}

	for _, tt := range tests {
		resp, err := http.Get(ts.URL + tt.path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.want, resp.StatusCode, tt.path)
	}
}

// TestGetTileCached tests that a cached tile skips rendering
func TestGetTileCached(t *testing.T) {
	var renders atomic.Int32
	l := newTestLayer(t, func(layer.TileKey, *heatmap.Tile) { renders.Add(1) })

	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000})
	defer limiter.Stop()
	cache := tilecache.New(8, time.Minute)

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Layers:         map[string]TileSource{"geographic": l},
		RateLimiter:    limiter,
		TileCache:      cache,
		DisableLogging: true,
	}))
	defer ts.Close()

	bodies := make([][]byte, 2)
	for i := range bodies {
		resp, err := http.Get(ts.URL + "/tiles/geographic/0/2/1.png")
		require.NoError(t, err)
		bodies[i], err = io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "1", resp.Header.Get("X-Heatmap-Candidates"))
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	}

	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, int32(1), renders.Load())
	assert.Equal(t, 1, cache.Size())
}

// TestGetView tests compositing a bounding box
func TestGetView(t *testing.T) {
	ts := newTestRouter(t, newTestLayer(t, nil))

	resp, err := http.Get(ts.URL + "/api/view.png?bbox=-10,10,80,80&level=0")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-Heatmap-Tiles"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
}

// TestGetViewErrors tests view request validation
func TestGetViewErrors(t *testing.T) {
	ts := newTestRouter(t, newTestLayer(t, nil))

	for _, query := range []string{
		"bbox=1,2,3&level=0",
		"bbox=a,b,c,d&level=0",
		"bbox=10,10,0,0&level=0",
		"bbox=0,0,10,10&level=x",
		"bbox=-180,-90,180,90&level=2", // 32 tiles, limit 4
	} {
		resp, err := http.Get(ts.URL + "/api/view.png?" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

// TestGetStatsAndConfig tests the JSON endpoints
func TestGetStatsAndConfig(t *testing.T) {
	ts := newTestRouter(t, newTestLayer(t, nil))

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	var stats struct {
		Points    int                      `json:"points"`
		Index     map[string]int           `json:"index"`
		Gradient  []map[string]interface{} `json:"gradient"`
		RateLimit map[string]interface{}   `json:"rateLimit"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()

	assert.Equal(t, 2, stats.Points)
	assert.Equal(t, 2, stats.Index["items"])
	require.Len(t, stats.Gradient, 5)
	assert.Equal(t, "#0000ff", stats.Gradient[0]["color"])
	assert.Equal(t, float64(1), stats.RateLimit["allowed"])
	assert.Equal(t, float64(1), stats.RateLimit["tilesCharged"])

	resp, err = http.Get(ts.URL + "/api/config")
	require.NoError(t, err)
	var cfg map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	resp.Body.Close()

	assert.Equal(t, "25px", cfg["radius"])
	assert.Equal(t, "continuous", cfg["interval"])
	assert.Equal(t, float64(64), cfg["tileSize"])
}

// TestRateLimit tests that excess requests are rejected
func TestRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	defer limiter.Stop()

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Layers:         map[string]TileSource{"geographic": newTestLayer(t, nil)},
		RateLimiter:    limiter,
		DisableLogging: true,
	}))
	defer ts.Close()

	codes := make([]int, 3)
	for i := range codes {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		codes[i] = resp.StatusCode
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, uint64(1), limiter.Stats()["rejected"])
}

// TestClientIP tests that forwarding headers count only from trusted proxies
func TestClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.5 ", ""})
	require.NoError(t, err)
	require.Len(t, proxies, 2)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	r.Header.Set("X-Real-IP", "198.51.100.2")

	// Untrusted peer: headers are ignored
	assert.Equal(t, "203.0.113.7", proxies.ClientIP(r))
	assert.Equal(t, "203.0.113.7", TrustedProxies(nil).ClientIP(r))

	// Trusted peer: first forwarded address wins, then X-Real-IP
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.1.2.3")
	assert.Equal(t, "198.51.100.1", proxies.ClientIP(r))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "198.51.100.2", proxies.ClientIP(r))

	r.RemoteAddr = "192.168.1.5:80"
	r.Header.Del("X-Real-IP")
	assert.Equal(t, "192.168.1.5", proxies.ClientIP(r))

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}

// TestRateLimitIgnoresSpoofedForwarding tests that rotating X-Forwarded-For
// does not buy an untrusted client a fresh bucket
func TestRateLimitIgnoresSpoofedForwarding(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	defer limiter.Stop()

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Layers:         map[string]TileSource{"geographic": newTestLayer(t, nil)},
		RateLimiter:    limiter,
		DisableLogging: true,
	}))
	defer ts.Close()

	codes := make([]int, 4)
	for i := range codes {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		codes[i] = resp.StatusCode
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, limiter.Stats()["clients"])
}

// TestViewChargedPerTile tests that a composite view costs one token per tile
func TestViewChargedPerTile(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 3})
	defer limiter.Stop()

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Layers:            map[string]TileSource{"geographic": newTestLayer(t, nil)},
		MaxCompositeTiles: 4,
		RateLimiter:       limiter,
		DisableLogging:    true,
	}))
	defer ts.Close()

	// Two tiles: three tokens become one
	resp, err := http.Get(ts.URL + "/api/view.png?bbox=-10,10,80,80&level=0")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(2), limiter.Stats()["tilesCharged"])

	// The next two-tile view passes the middleware but cannot pay for the second tile
	resp, err = http.Get(ts.URL + "/api/view.png?bbox=-10,10,80,80&level=0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, uint64(3), limiter.Stats()["tilesCharged"])
}

// TestConnLimiter tests per-address websocket slots
func TestConnLimiter(t *testing.T) {
	cl := NewConnLimiter(2)

	assert.True(t, cl.Acquire("a"))
	assert.True(t, cl.Acquire("a"))
	assert.False(t, cl.Acquire("a"))
	assert.True(t, cl.Acquire("b"))

	cl.Release("a")
	assert.True(t, cl.Acquire("a"))

	cl.Release("b")
	cl.Release("b") // extra release is harmless
	assert.NotContains(t, cl.open, "b")
}

// TestIsAllowedOrigin tests origin patterns
func TestIsAllowedOrigin(t *testing.T) {
	allowed := []string{"https://maps.example.com", "https://*.example.org"}

	assert.True(t, IsAllowedOrigin("", allowed))
	assert.True(t, IsAllowedOrigin("http://localhost:5173", allowed))
	assert.True(t, IsAllowedOrigin("https://maps.example.com", allowed))
	assert.False(t, IsAllowedOrigin("https://evil.example.com", allowed))
	assert.True(t, IsAllowedOrigin("https://anything", []string{"*"}))

	// Trailing star matches a prefix only
	assert.False(t, IsAllowedOrigin("https://a.example.org", allowed))
	assert.True(t, IsAllowedOrigin("https://a.example.org", []string{"https://a.*"}))
}

// TestWebSocketTileReady tests that rendered tiles are announced to clients
func TestWebSocketTileReady(t *testing.T) {
	hub := NewWebSocketHub(nil, nil)
	l := newTestLayer(t, func(key layer.TileKey, tile *heatmap.Tile) {
		hub.NotifyTileReady("geographic", key, tile)
	})

	srv := NewServer(ServerConfig{
		Layers:    map[string]TileSource{"geographic": l},
		RateLimit: RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		Hub:       hub,
	})
	go hub.Run()
	defer srv.Shutdown(context.Background())

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Event)
	assert.Len(t, hello.Data["clientId"], 36)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/tiles/geographic/0/2/1.png")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ready struct {
		Event string         `json:"event"`
		Data  TileReadyEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ready))
	assert.Equal(t, "tile:ready", ready.Event)
	assert.Equal(t, TileReadyEvent{Scheme: "geographic", Level: 0, Row: 1, Col: 2, Candidates: 1}, ready.Data)
}

// TestDebugHandler tests the metrics endpoint and basic auth
func TestDebugHandler(t *testing.T) {
	ts := httptest.NewServer(NewDebugHandler(ObservabilityConfig{BasicAuthUser: "ops", BasicAuthPass: "secret"}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	req.SetBasicAuth("ops", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
