package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martin/internal/clock"
	"martin/internal/ta"
)

type fakeFetcher struct {
	candles1m, candles5m []ta.Candle
	calls                int
}

func (f *fakeFetcher) Fetch1m(_ context.Context, asset string, start, end int64) ([]ta.Candle, error) {
	f.calls++
	return f.candles1m, nil
}
func (f *fakeFetcher) Fetch5m(_ context.Context, asset string, start, end int64) ([]ta.Candle, error) {
	return f.candles5m, nil
}

func TestCacheGetMissWhenNeverSet(t *testing.T) {
	clk := clock.FixedClock{At: time.Unix(1000, 0)}
	c := newCache(clk)
	_, _, ok := c.Get("BTC")
	assert.False(t, ok)
}

func TestCacheGetStaleAfterTTL(t *testing.T) {
	clk := &settableClock{at: time.Unix(1000, 0)}
	c := newCache(clk)
	c.set("BTC", []ta.Candle{{OpenTime: 1}}, nil)

	clk.at = clk.at.Add(TTL + time.Second)
	_, _, ok := c.Get("BTC")
	assert.False(t, ok, "entries older than TTL must read as absent")
}

func TestWorkerRefreshAllPopulatesCache(t *testing.T) {
	clk := clock.FixedClock{At: time.Unix(1000, 0)}
	fetcher := &fakeFetcher{candles1m: []ta.Candle{{OpenTime: 900}}, candles5m: []ta.Candle{{OpenTime: 700}}}
	w := New([]string{"BTC", "ETH"}, 3600, fetcher, clk, time.Hour)

	w.refreshAll(context.Background())

	c1, c5, ok := w.Cache.Get("BTC")
	require.True(t, ok)
	assert.Len(t, c1, 1)
	assert.Len(t, c5, 1)
	assert.Equal(t, 2, fetcher.calls)
}

type settableClock struct{ at time.Time }

func (s *settableClock) Now() time.Time { return s.at }
