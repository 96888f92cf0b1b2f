package layer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/sync/singleflight"

	"heatmap-tiles/internal/heatmap"
)

// ErrTileAbsent is returned while a key that recently failed is cooling down.
var ErrTileAbsent = errors.New("tile marked absent")

// maxAbsentKeys caps the absent set. Failures past the cap are not remembered.
const maxAbsentKeys = 1024

// Config holds the layer settings.
type Config struct {
	TileSize       int           // pixels per tile side
	AbsentCooldown time.Duration // how long a failed key is refused
	Workers        int           // tile pool size, 0 means NumCPU
	// OnTileReady is called after each successful render, outside any lock.
	OnTileReady func(key TileKey, tile *heatmap.Tile)
}

// DefaultConfig returns 512px tiles and a 30s absent cool-down.
func DefaultConfig() Config {
	return Config{
		TileSize:       512,
		AbsentCooldown: 30 * time.Second,
	}
}

// Layer renders the tiles of one heat map in one tile scheme.
type Layer struct {
	heat   *heatmap.HeatMap
	scheme Scheme
	cfg    Config
	pool   *TilePool

	group singleflight.Group

	absentMu  sync.Mutex
	absent    map[TileKey]time.Time
	maxAbsent int

	now func() time.Time
}

// New creates a layer and starts its tile pool. Call Close to stop it.
func New(heat *heatmap.HeatMap, scheme Scheme, cfg Config) *Layer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = DefaultConfig().TileSize
	}
	l := &Layer{
		heat:      heat,
		scheme:    scheme,
		cfg:       cfg,
		pool:      NewTilePool(cfg.Workers),
		absent:    make(map[TileKey]time.Time),
		maxAbsent: maxAbsentKeys,
		now:       time.Now,
	}
	l.pool.Start()
	return l
}

// Close stops the tile pool.
func (l *Layer) Close() {
	l.pool.Stop()
}

// Scheme returns the layer's tile scheme.
func (l *Layer) Scheme() Scheme { return l.scheme }

// TileSize returns the tile edge length in pixels.
func (l *Layer) TileSize() int { return l.cfg.TileSize }

// HeatMap returns the heat map the layer draws.
func (l *Layer) HeatMap() *heatmap.HeatMap { return l.heat }

// Tile renders the tile for key. Concurrent calls for the same key share one
// render. A key whose render failed is refused with ErrTileAbsent until the
// cool-down passes. Keys outside the scheme fail with ErrInvalidKey every time
// and are never marked absent.
func (l *Layer) Tile(ctx context.Context, key TileKey) (*heatmap.Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.isAbsent(key) {
		return nil, fmt.Errorf("%w: %v", ErrTileAbsent, key)
	}

	ch := l.group.DoChan(key.String(), func() (interface{}, error) {
		return l.render(key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*heatmap.Tile), nil
	}
}

func (l *Layer) render(key TileKey) (*heatmap.Tile, error) {
	sector, err := l.scheme.Sector(key)
	if err != nil {
		return nil, err
	}

	tile, err := l.heat.RenderTile(sector, l.cfg.TileSize, l.cfg.TileSize)
	if err != nil {
		l.markAbsent(key)
		log.Printf("⚠️ Tile %s render failed: %v", key, err)
		return nil, err
	}

	if l.cfg.OnTileReady != nil {
		l.cfg.OnTileReady(key, tile)
	}
	return tile, nil
}

func (l *Layer) isAbsent(key TileKey) bool {
	l.absentMu.Lock()
	defer l.absentMu.Unlock()

	until, ok := l.absent[key]
	if !ok {
		return false
	}
	if l.now().After(until) {
		delete(l.absent, key)
		return false
	}
	return true
}

func (l *Layer) markAbsent(key TileKey) {
	if l.cfg.AbsentCooldown <= 0 {
		return
	}
	l.absentMu.Lock()
	defer l.absentMu.Unlock()

	now := l.now()
	if _, ok := l.absent[key]; !ok && len(l.absent) >= l.maxAbsent {
		// Drop expired keys before giving up on this one
		for k, until := range l.absent {
			if now.After(until) {
				delete(l.absent, k)
			}
		}
		if len(l.absent) >= l.maxAbsent {
			return
		}
	}
	l.absent[key] = now.Add(l.cfg.AbsentCooldown)
}

// AbsentCount returns the number of keys currently refused.
func (l *Layer) AbsentCount() int {
	l.absentMu.Lock()
	defer l.absentMu.Unlock()
	return len(l.absent)
}

// Composite renders keys through the tile pool and draws them into one image
// laid out by column and row. Keys must share one level.
func (l *Layer) Composite(ctx context.Context, keys []TileKey) (image.Image, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no tiles to composite", ErrInvalidKey)
	}

	level := keys[0].Level
	minCol, maxCol := keys[0].Col, keys[0].Col
	minTop, maxTop := l.scheme.RowFromTop(keys[0]), l.scheme.RowFromTop(keys[0])
	for _, k := range keys[1:] {
		if k.Level != level {
			return nil, fmt.Errorf("%w: mixed levels %d and %d", ErrInvalidKey, level, k.Level)
		}
		top := l.scheme.RowFromTop(k)
		minCol, maxCol = min(minCol, k.Col), max(maxCol, k.Col)
		minTop, maxTop = min(minTop, top), max(maxTop, top)
	}

	tiles, err := l.pool.RenderAll(ctx, keys, l.Tile)
	if err != nil {
		return nil, err
	}

	size := l.cfg.TileSize
	dc := gg.NewContext((maxCol-minCol+1)*size, (maxTop-minTop+1)*size)
	for i, k := range keys {
		if tiles[i] == nil || tiles[i].IsTransparent() {
			continue
		}
		x := (k.Col - minCol) * size
		y := (l.scheme.RowFromTop(k) - minTop) * size
		dc.DrawImage(tiles[i].NRGBA(), x, y)
	}
	return dc.Image(), nil
}

// View composites every tile at level that intersects sector.
func (l *Layer) View(ctx context.Context, sector heatmap.Sector, level int) (image.Image, []TileKey, error) {
	keys := l.scheme.Covering(sector, level)
	if len(keys) == 0 {
		return nil, nil, fmt.Errorf("%w: nothing covers %v at level %d", ErrInvalidKey, sector, level)
	}
	img, err := l.Composite(ctx, keys)
	return img, keys, err
}
