package api

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client request budgets. One token buys one
// tile: a tile request costs 1 and a composite view costs one per tile.
type RateLimitConfig struct {
	RequestsPerSecond float64       // tokens refilled per second per client
	Burst             int           // bucket size; also the largest view one client can afford
	CleanupInterval   time.Duration // how often idle clients are forgotten
	TrustedProxies    TrustedProxies
}

// DefaultRateLimitConfig returns production-safe defaults
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 50,  // a map view pulls a dozen tiles at once
	Burst:             100, // a full viewport refresh
	CleanupInterval:   5 * time.Minute,
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

// IPRateLimiter charges tile work against a token bucket per client address.
type IPRateLimiter struct {
	buckets  sync.Map // client ip -> *clientBucket
	config   RateLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once

	allowed      atomic.Uint64
	rejected     atomic.Uint64
	tilesCharged atomic.Uint64
}

// NewIPRateLimiter creates a limiter and starts its cleanup loop. Call Stop.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		config:   cfg,
		stopChan: make(chan struct{}),
	}

	// Forget idle clients so the bucket map does not grow forever
	go rl.cleanupLoop()

	return rl
}

// Stop ends the cleanup loop.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

// ClientIP returns the address r is charged under.
func (rl *IPRateLimiter) ClientIP(r *http.Request) string {
	return rl.config.TrustedProxies.ClientIP(r)
}

func (rl *IPRateLimiter) bucket(ip string) *rate.Limiter {
	now := time.Now().UnixNano()

	if v, ok := rl.buckets.Load(ip); ok {
		b := v.(*clientBucket)
		b.lastSeen.Store(now)
		return b.limiter
	}

	b := &clientBucket{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
	b.lastSeen.Store(now)
	actual, _ := rl.buckets.LoadOrStore(ip, b)
	return actual.(*clientBucket).limiter
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case now := <-ticker.C:
			rl.forgetIdle(now.Add(-2 * rl.config.CleanupInterval))
		}
	}
}

func (rl *IPRateLimiter) forgetIdle(before time.Time) {
	cutoff := before.UnixNano()
	rl.buckets.Range(func(key, value interface{}) bool {
		if value.(*clientBucket).lastSeen.Load() < cutoff {
			rl.buckets.Delete(key)
		}
		return true
	})
}

// AllowN charges n tiles to ip and reports whether the bucket could pay.
// A rejected charge takes nothing from the bucket.
func (rl *IPRateLimiter) AllowN(ip string, n int) bool {
	if n <= 0 {
		return true
	}
	if rl.bucket(ip).AllowN(time.Now(), n) {
		rl.allowed.Add(1)
		rl.tilesCharged.Add(uint64(n))
		return true
	}
	rl.rejected.Add(1)
	return false
}

// Allow charges a single tile.
func (rl *IPRateLimiter) Allow(ip string) bool {
	return rl.AllowN(ip, 1)
}

// Middleware charges one tile per request before it reaches the handlers.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.ClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			tooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats reports request outcomes, tiles charged and tracked clients.
func (rl *IPRateLimiter) Stats() map[string]interface{} {
	clients := 0
	rl.buckets.Range(func(_, _ interface{}) bool {
		clients++
		return true
	})
	return map[string]interface{}{
		"allowed":      rl.allowed.Load(),
		"rejected":     rl.rejected.Load(),
		"tilesCharged": rl.tilesCharged.Load(),
		"clients":      clients,
	}
}

func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeError(w, "too many tile requests", http.StatusTooManyRequests)
}

// ConnLimiter caps concurrent websocket connections per client address.
type ConnLimiter struct {
	mu     sync.Mutex
	open   map[string]int
	maxPer int
}

// NewConnLimiter allows up to maxPer open connections per address.
func NewConnLimiter(maxPer int) *ConnLimiter {
	return &ConnLimiter{open: make(map[string]int), maxPer: maxPer}
}

// Acquire reserves a connection slot for ip.
func (cl *ConnLimiter) Acquire(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.open[ip] >= cl.maxPer {
		return false
	}
	cl.open[ip]++
	return true
}

// Release frees a slot taken by Acquire.
func (cl *ConnLimiter) Release(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	switch n := cl.open[ip]; {
	case n > 1:
		cl.open[ip] = n - 1
	case n == 1:
		delete(cl.open, ip)
	}
}

// IsAllowedOrigin checks an Origin header against allowed patterns.
// "*" allows any origin, a trailing "*" matches a prefix, and localhost is
// always allowed. An empty origin (non-browser client) is allowed.
func IsAllowedOrigin(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}

	// Allow localhost with any port
	if strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1") {
		return true
	}

	for _, pattern := range allowed {
		switch {
		case pattern == "*":
			return true
		case strings.HasSuffix(pattern, "*"):
			if strings.HasPrefix(origin, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		case origin == pattern:
			return true
		}
	}

	return false
}
