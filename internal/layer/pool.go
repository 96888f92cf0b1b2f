package layer

import (
	"context"
	"runtime"
	"sync"

	"heatmap-tiles/internal/heatmap"
)

// RenderFunc renders the tile for one key.
type RenderFunc func(ctx context.Context, key TileKey) (*heatmap.Tile, error)

// TilePool manages a pool of goroutines that render tiles in parallel
type TilePool struct {
	numWorkers int
	jobChan    chan tileJob
	wg         sync.WaitGroup
	running    bool
	mu         sync.RWMutex
}

// tileJob is one tile of a batch
type tileJob struct {
	ctx     context.Context
	index   int
	key     TileKey
	render  RenderFunc
	results chan<- tileResult
}

type tileResult struct {
	index int
	tile  *heatmap.Tile
	err   error
}

// Batches smaller than this render on the calling goroutine.
const minParallelTiles = 4

// NewTilePool creates a pool with the specified number of workers.
// If numWorkers is 0, it defaults to NumCPU.
func NewTilePool(numWorkers int) *TilePool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	// Cap at reasonable maximum
	if numWorkers > 16 {
		numWorkers = 16
	}

	return &TilePool{
		numWorkers: numWorkers,
		jobChan:    make(chan tileJob, numWorkers*2),
	}
}

// Start begins the worker pool
func (p *TilePool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.jobChan = make(chan tileJob, p.numWorkers*2)
	p.wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go p.worker(p.jobChan)
	}
}

// Stop stops the worker pool and waits for queued jobs to finish
func (p *TilePool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.jobChan)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *TilePool) worker(jobs <-chan tileJob) {
	defer p.wg.Done()

	for job := range jobs {
		job.results <- runJob(job.ctx, job.index, job.key, job.render)
	}
}

func runJob(ctx context.Context, index int, key TileKey, render RenderFunc) tileResult {
	if err := ctx.Err(); err != nil {
		return tileResult{index: index, err: err}
	}
	tile, err := render(ctx, key)
	return tileResult{index: index, tile: tile, err: err}
}

// RenderAll renders keys and returns the tiles in key order. The first error
// encountered is returned after every submitted job has finished.
func (p *TilePool) RenderAll(ctx context.Context, keys []TileKey, render RenderFunc) ([]*heatmap.Tile, error) {
	tiles := make([]*heatmap.Tile, len(keys))
	if len(keys) == 0 {
		return tiles, nil
	}

	p.mu.RLock()
	if !p.running || len(keys) < minParallelTiles {
		p.mu.RUnlock()
		// Fallback to sequential
		return p.renderSequential(ctx, keys, render, tiles)
	}

	results := make(chan tileResult, len(keys))
	var inline []tileResult
	submitted := 0
	for i, key := range keys {
		job := tileJob{ctx: ctx, index: i, key: key, render: render, results: results}
		select {
		case p.jobChan <- job:
			submitted++
		default:
			// Queue full, render on this goroutine
			inline = append(inline, runJob(ctx, i, key, render))
		}
	}
	p.mu.RUnlock()

	var firstErr error
	collect := func(r tileResult) {
		tiles[r.index] = r.tile
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	for _, r := range inline {
		collect(r)
	}
	for i := 0; i < submitted; i++ {
		collect(<-results)
	}
	return tiles, firstErr
}

func (p *TilePool) renderSequential(ctx context.Context, keys []TileKey, render RenderFunc, tiles []*heatmap.Tile) ([]*heatmap.Tile, error) {
	for i, key := range keys {
		r := runJob(ctx, i, key, render)
		if r.err != nil {
			return tiles, r.err
		}
		tiles[i] = r.tile
	}
	return tiles, nil
}

// NumWorkers returns the number of workers in the pool
func (p *TilePool) NumWorkers() int {
	return p.numWorkers
}

// IsRunning returns whether the pool is currently running
func (p *TilePool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
