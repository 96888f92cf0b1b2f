package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/go-chi/chi/v5"

	"heatmap-tiles/internal/heatmap"
	"heatmap-tiles/internal/layer"
)

// Handler methods for routerHandlers

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *routerHandlers) handleTile(w http.ResponseWriter, r *http.Request) {
	src, ok := h.layers[chi.URLParam(r, "scheme")]
	if !ok {
		writeError(w, "unknown tile scheme", http.StatusNotFound)
		return
	}

	key, err := parseTileKey(chi.URLParam(r, "level"), chi.URLParam(r, "col"), chi.URLParam(r, "row"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cacheKey := chi.URLParam(r, "scheme") + "/" + key.String()
	start := time.Now()
	if data, header, ok := h.cache.Get(cacheKey); ok {
		RecordTileServed("cached", time.Since(start))
		writePNG(w, data, header)
		return
	}

	tile, err := src.Tile(r.Context(), key)
	if err != nil {
		status := tileErrorStatus(err)
		RecordTileServed(statusLabel(status), time.Since(start))
		writeError(w, err.Error(), status)
		return
	}

	var buf bytes.Buffer
	if err := tile.EncodePNG(&buf); err != nil {
		log.Printf("⚠️ Failed to encode tile %s: %v", key, err)
		writeError(w, "encode failed", http.StatusInternalServerError)
		return
	}
	RecordTileServed(tileStatusLabel(tile), time.Since(start))

	header := map[string]string{"X-Heatmap-Candidates": strconv.Itoa(tile.Candidates)}
	h.cache.Put(cacheKey, buf.Bytes(), header)
	writePNG(w, buf.Bytes(), header)
}

func (h *routerHandlers) handleView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	src, err := h.layerFor(q.Get("scheme"))
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	sector, err := parseBBox(q.Get("bbox"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	level, err := strconv.Atoi(q.Get("level"))
	if err != nil {
		writeError(w, "level must be an integer", http.StatusBadRequest)
		return
	}

	n := len(src.Scheme().Covering(sector, level))
	if n > h.maxComposite {
		writeError(w, fmt.Sprintf("view needs %d tiles, limit is %d", n, h.maxComposite), http.StatusBadRequest)
		return
	}
	// The middleware already charged one tile for the request itself
	if !h.limiter.AllowN(h.limiter.ClientIP(r), n-1) {
		RecordConnectionRejected("view_cost")
		tooManyRequests(w)
		return
	}

	img, keys, err := src.View(r.Context(), sector, level)
	if err != nil {
		writeError(w, err.Error(), tileErrorStatus(err))
		return
	}

	var buf bytes.Buffer
	if err := gg.NewContextForImage(img).EncodePNG(&buf); err != nil {
		log.Printf("⚠️ Failed to encode view: %v", err)
		writeError(w, "encode failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Heatmap-Tiles", strconv.Itoa(len(keys)))
	w.Write(buf.Bytes())
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	src, err := h.layerFor("")
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	hm := src.HeatMap()

	stops := hm.Gradient().Stops()
	gradient := make([]map[string]interface{}, len(stops))
	for i, s := range stops {
		gradient[i] = map[string]interface{}{
			"position": s.Position,
			"color":    hexColor(s.Color),
		}
	}

	stats := map[string]interface{}{
		"points":    hm.Len(),
		"index":     hm.IndexStats(),
		"gradient":  gradient,
		"schemes":   h.schemeNames(),
		"cache":     h.cache.Stats(),
		"rateLimit": h.limiter.Stats(),
	}
	if h.clientCount != nil {
		stats["wsClients"] = h.clientCount()
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	src, err := h.layerFor("")
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	opts := src.HeatMap().Options()

	scale := make([]string, len(opts.Scale))
	for i, c := range opts.Scale {
		scale[i] = hexColor(c)
	}

	writeJSON(w, map[string]interface{}{
		"radius":                opts.Radius.String(),
		"blur":                  opts.Blur,
		"incrementPerIntensity": opts.IncrementPerIntensity,
		"extension":             opts.Extension,
		"interval":              opts.Interval.String(),
		"scale":                 scale,
		"rasterizer":            opts.Rasterizer.Name(),
		"maxObjects":            opts.MaxObjects,
		"maxLevels":             opts.MaxLevels,
		"tileSize":              src.TileSize(),
		"schemes":               h.schemeNames(),
	})
}

func (h *routerHandlers) layerFor(scheme string) (TileSource, error) {
	if scheme == "" {
		scheme = h.defaultScheme
	}
	if src, ok := h.layers[scheme]; ok {
		return src, nil
	}
	if names := h.schemeNames(); scheme == "" && len(names) > 0 {
		return h.layers[names[0]], nil
	}
	return nil, fmt.Errorf("unknown tile scheme %q", scheme)
}

func (h *routerHandlers) schemeNames() []string {
	names := make([]string, 0, len(h.layers))
	for name := range h.layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseTileKey(level, col, row string) (layer.TileKey, error) {
	var key layer.TileKey
	var err error
	if key.Level, err = strconv.Atoi(level); err != nil {
		return key, fmt.Errorf("level %q is not an integer", level)
	}
	if key.Col, err = strconv.Atoi(col); err != nil {
		return key, fmt.Errorf("column %q is not an integer", col)
	}
	if key.Row, err = strconv.Atoi(row); err != nil {
		return key, fmt.Errorf("row %q is not an integer", row)
	}
	return key, nil
}

// parseBBox parses "minLon,minLat,maxLon,maxLat".
func parseBBox(s string) (heatmap.Sector, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return heatmap.Sector{}, errors.New("bbox must be minLon,minLat,maxLon,maxLat")
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return heatmap.Sector{}, fmt.Errorf("bbox value %q is not a number", p)
		}
		v[i] = f
	}

	sector := heatmap.Sector{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	if err := sector.Validate(); err != nil {
		return heatmap.Sector{}, err
	}
	return sector, nil
}

func tileErrorStatus(err error) int {
	switch {
	case errors.Is(err, layer.ErrInvalidKey), errors.Is(err, layer.ErrTileAbsent):
		return http.StatusNotFound
	case errors.Is(err, heatmap.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func statusLabel(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusServiceUnavailable:
		return "canceled"
	default:
		return "error"
	}
}

func tileStatusLabel(tile *heatmap.Tile) string {
	if tile.Candidates == 0 {
		return "empty"
	}
	return "ok"
}

func hexColor(c color.NRGBA) string {
	if c.A == 255 {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

func writePNG(w http.ResponseWriter, data []byte, header map[string]string) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	for k, v := range header {
		w.Header().Set(k, v)
	}
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
