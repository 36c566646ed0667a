// Package snapshot runs the independent periodic TA cache: it refreshes
// 1m/5m candle series per configured asset on a fixed cadence and
// invalidates entries older than a TTL, so the orchestrator's signal
// evaluation reads a fresh snapshot or nothing.
package snapshot

import (
	"context"
	"sync"
	"time"

	"martin/internal/clock"
	"martin/internal/logger"
	"martin/internal/ta"
)

// TTL is how long a cached entry remains fresh. Readers past this age
// are treated as "no data, skip this tick" rather than stale data.
const TTL = 120 * time.Second

// DefaultRefreshInterval is the worker's reference cadence.
const DefaultRefreshInterval = 30 * time.Second

type entry struct {
	candles1m []ta.Candle
	candles5m []ta.Candle
	fetchedAt time.Time
}

// Cache is the single-writer/many-reader candle cache. The worker is the
// only writer; the orchestrator and any other reader only ever call Get.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clk     clock.Clock
}

func newCache(clk clock.Clock) *Cache {
	return &Cache{entries: make(map[string]entry), clk: clk}
}

// Get returns the cached 1m/5m series for asset if present and within
// TTL, or ok=false otherwise.
func (c *Cache) Get(asset string) (candles1m, candles5m []ta.Candle, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[asset]
	if !found || c.clk.Now().Sub(e.fetchedAt) > TTL {
		return nil, nil, false
	}
	return e.candles1m, e.candles5m, true
}

func (c *Cache) set(asset string, candles1m, candles5m []ta.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[asset] = entry{candles1m: candles1m, candles5m: candles5m, fetchedAt: c.clk.Now()}
}

// Fetcher is the candle-data collaborator the worker refreshes from.
// internal/candles implements it against Binance spot klines.
type Fetcher interface {
	Fetch1m(ctx context.Context, asset string, start, end int64) ([]ta.Candle, error)
	Fetch5m(ctx context.Context, asset string, start, end int64) ([]ta.Candle, error)
}

// Worker is the independent periodic task refreshing the Cache. Each
// refresh runs through the Fetcher's own HTTP client, and a failed
// refresh simply leaves the previous entry to age out.
type Worker struct {
	Cache *Cache

	assets        []string
	warmupSeconds int
	fetcher       Fetcher
	clk           clock.Clock
	interval      time.Duration
}

// New constructs a Worker. warmupSeconds is how much extra 1m/5m history
// to fetch ahead of "now" so EMA/ADX are warm, mirroring ta.warmup_seconds.
func New(assets []string, warmupSeconds int, fetcher Fetcher, clk clock.Clock, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Worker{
		Cache:         newCache(clk),
		assets:        assets,
		warmupSeconds: warmupSeconds,
		fetcher:       fetcher,
		clk:           clk,
		interval:      interval,
	}
}

// Run refreshes every configured asset once, then every interval, until
// ctx is cancelled. It polls ctx between sleeps so shutdown is prompt;
// an in-flight fetch is allowed to finish up to its own client timeout.
func (w *Worker) Run(ctx context.Context) {
	w.refreshAll(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refreshAll(ctx)
		}
	}
}

func (w *Worker) refreshAll(ctx context.Context) {
	now := w.clk.Now().Unix()
	start := now - int64(w.warmupSeconds)
	for _, asset := range w.assets {
		c1, err := w.fetcher.Fetch1m(ctx, asset, start, now)
		if err != nil {
			logger.Warnf("snapshot: refresh 1m candles for %s failed: %v", asset, err)
			continue
		}
		c5, err := w.fetcher.Fetch5m(ctx, asset, start, now)
		if err != nil {
			logger.Warnf("snapshot: refresh 5m candles for %s failed: %v", asset, err)
			continue
		}
		w.Cache.set(asset, c1, c5)
	}
}
