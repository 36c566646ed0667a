package pricehistory

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"martin/internal/capcheck"
	"martin/internal/logger"
)

// PollInterval is the fallback cadence when no push stream is configured
// or once the stream connection fails; the stream is not re-dialled.
const PollInterval = 5 * time.Second

// bufferTTL bounds how long a buffered tick is kept once the CAP window
// it could matter for has surely closed; longer than any single hourly
// window's cap-evaluation tail.
const bufferTTL = 2 * time.Hour

// StreamClient subscribes to a token's live tick feed over websocket,
// falling back to HTTP polling via Client.Fetch when wsURL is empty or the
// connection cannot be established. It also satisfies the same
// orchestrator.PriceHistoryFetcher interface as Client itself: Fetch
// lazily subscribes to tokenID and serves buffered ticks, so a configured
// stream replaces the per-cycle HTTP round trip entirely rather than
// running alongside it unused.
type StreamClient struct {
	wsURL  string
	header http.Header
	poller *Client

	mu      sync.Mutex
	buffers map[string]*tickBuffer
}

type tickBuffer struct {
	ticks   []capcheck.Tick
	started bool
}

func NewStreamClient(wsURL string, authToken string, poller *Client) *StreamClient {
	header := make(http.Header)
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}
	return &StreamClient{wsURL: wsURL, header: header, poller: poller, buffers: make(map[string]*tickBuffer)}
}

// Fetch returns every buffered tick for tokenID within [startTS, endTS],
// starting that token's background subscription on first use. The
// subscription outlives a single Fetch call and keeps accumulating ticks
// in the background for subsequent cycles.
func (s *StreamClient) Fetch(ctx context.Context, tokenID string, startTS, endTS int64) ([]capcheck.Tick, error) {
	s.ensureSubscribed(tokenID)

	s.mu.Lock()
	buf := s.buffers[tokenID]
	var out []capcheck.Tick
	for _, tk := range buf.ticks {
		if tk.TS >= startTS && tk.TS <= endTS {
			out = append(out, tk)
		}
	}
	s.mu.Unlock()

	if len(out) == 0 {
		return s.poller.Fetch(ctx, tokenID, startTS, endTS)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out, nil
}

func (s *StreamClient) ensureSubscribed(tokenID string) {
	s.mu.Lock()
	buf, ok := s.buffers[tokenID]
	if !ok {
		buf = &tickBuffer{}
		s.buffers[tokenID] = buf
	}
	alreadyStarted := buf.started
	buf.started = true
	s.mu.Unlock()
	if alreadyStarted {
		return
	}

	ctx := context.Background()
	ticks := s.Subscribe(ctx, tokenID)
	go func() {
		for tk := range ticks {
			s.appendTick(tokenID, tk)
		}
	}()
}

func (s *StreamClient) appendTick(tokenID string, tk capcheck.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buffers[tokenID]
	buf.ticks = append(buf.ticks, tk)
	cutoff := tk.TS - int64(bufferTTL.Seconds())
	kept := buf.ticks[:0]
	for _, t := range buf.ticks {
		if t.TS >= cutoff {
			kept = append(kept, t)
		}
	}
	buf.ticks = kept
}

// Subscribe returns a channel of ticks for tokenID, live for the duration
// of ctx. The channel is closed when ctx is cancelled or the underlying
// connection/poll loop gives up permanently.
func (s *StreamClient) Subscribe(ctx context.Context, tokenID string) <-chan capcheck.Tick {
	out := make(chan capcheck.Tick, 16)
	go func() {
		defer close(out)
		if s.wsURL == "" {
			s.pollLoop(ctx, tokenID, out)
			return
		}
		if !s.wsLoop(ctx, tokenID, out) {
			s.pollLoop(ctx, tokenID, out)
		}
	}()
	return out
}

// wsLoop runs the websocket subscription until ctx is cancelled or the
// connection fails. It returns true if it exited because ctx was
// cancelled (clean shutdown), false if it should fall back to polling.
func (s *StreamClient) wsLoop(ctx context.Context, tokenID string, out chan<- capcheck.Tick) bool {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, s.header)
	if err != nil {
		logger.Warnf("pricehistory: websocket dial failed, falling back to polling: %v", err)
		return false
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "token_id": tokenID}); err != nil {
		logger.Warnf("pricehistory: websocket subscribe failed, falling back to polling: %v", err)
		return false
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		var msg struct {
			T float64 `json:"t"`
			P float64 `json:"p"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-done:
				return true
			default:
				logger.Warnf("pricehistory: websocket read failed, falling back to polling: %v", err)
				return false
			}
		}
		select {
		case out <- capcheck.Tick{TS: normalizeTS(int64(msg.T)), Price: msg.P}:
		case <-ctx.Done():
			return true
		}
	}
}

// pollLoop is the fallback path: it fetches the most recent window on a
// fixed cadence and re-emits any ticks newer than the last one seen.
func (s *StreamClient) pollLoop(ctx context.Context, tokenID string, out chan<- capcheck.Tick) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	var lastTS int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().Unix()
			ticks, err := s.poller.Fetch(ctx, tokenID, now-int64(PollInterval.Seconds())*2, now)
			if err != nil {
				logger.Warnf("pricehistory: poll fallback fetch failed: %v", err)
				continue
			}
			for _, tk := range ticks {
				if tk.TS <= lastTS {
					continue
				}
				lastTS = tk.TS
				select {
				case out <- tk:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
