package pricehistory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martin/internal/capcheck"
	"martin/internal/httpx"
)

func mustTick(ts int64, price float64) capcheck.Tick {
	return capcheck.Tick{TS: ts, Price: price}
}

func TestStreamClientFetchFallsBackToPollerWhenNoWSURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"t":100,"p":0.5},{"t":200,"p":0.6}]`))
	}))
	defer srv.Close()

	poller := New(httpx.New(httpx.Config{}), srv.URL)
	sc := NewStreamClient("", "", poller)

	ticks, err := sc.Fetch(context.Background(), "tok-1", 0, 300)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, int64(100), ticks[0].TS)
	assert.Equal(t, int64(200), ticks[1].TS)
}

func TestStreamClientFetchServesBufferedTicksOnSecondCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	poller := New(httpx.New(httpx.Config{}), srv.URL)
	sc := NewStreamClient("", "", poller)
	sc.ensureSubscribed("tok-2")
	sc.appendTick("tok-2", mustTick(100, 0.5))
	sc.appendTick("tok-2", mustTick(150, 0.55))

	ticks, err := sc.Fetch(context.Background(), "tok-2", 0, 200)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, 0, calls, "buffered ticks must be served without a poller round trip")
}

func TestStreamClientBufferEvictsTicksOlderThanTTL(t *testing.T) {
	poller := New(httpx.New(httpx.Config{}), "http://unused")
	sc := NewStreamClient("", "", poller)
	sc.ensureSubscribed("tok-3")

	base := int64(10_000)
	sc.appendTick("tok-3", mustTick(base, 0.4))
	sc.appendTick("tok-3", mustTick(base+int64((bufferTTL+time.Minute).Seconds()), 0.45))

	sc.mu.Lock()
	defer sc.mu.Unlock()
	buf := sc.buffers["tok-3"]
	require.Len(t, buf.ticks, 1, "the stale tick must be evicted once a far-newer tick arrives")
}
