// Package discovery implements the market-discovery interface (§6): it
// lists currently open hourly Up/Down markets for the configured assets,
// tolerating both a flat and a nested {"data":{"events":[...]}} response
// shape, mapping each market's outcome labels (UP/YES, DOWN/NO, in any
// case) onto up/down token IDs and discarding any market it cannot
// resolve rather than failing the whole discovery pass.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"martin/internal/httpx"
	"martin/internal/logger"
)

// Market is a single discovered hourly Up/Down market, resolved to the
// two token IDs execution actually trades.
type Market struct {
	Asset       string
	Slug        string
	ConditionID string
	UpTokenID   string
	DownTokenID string
	StartTS     int64
	EndTS       int64
}

// Client discovers open markets over HTTP.
type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(http *httpx.Client, baseURL string) *Client {
	return &Client{http: http, baseURL: baseURL}
}

// rawOutcome is one side of a market in either of the two shapes the
// upstream API has been observed to use.
type rawOutcome struct {
	Label   string `json:"label"`
	Outcome string `json:"outcome"`
	TokenID string `json:"token_id"`
}

func (o rawOutcome) name() string {
	if o.Label != "" {
		return o.Label
	}
	return o.Outcome
}

type rawMarket struct {
	Slug        string       `json:"slug"`
	ConditionID string       `json:"condition_id"`
	Asset       string       `json:"asset"`
	StartTS     int64        `json:"start_ts"`
	EndTS       int64        `json:"end_ts"`
	Outcomes    []rawOutcome `json:"outcomes"`
	Tokens      []rawOutcome `json:"tokens"` // alternate field name for outcomes
}

func (m rawMarket) outcomes() []rawOutcome {
	if len(m.Outcomes) > 0 {
		return m.Outcomes
	}
	return m.Tokens
}

// flatResponse is a bare array of markets.
type flatResponse []rawMarket

// nestedResponse wraps markets under data.events, mirroring the shape
// several discovery APIs in the wild actually return.
type nestedResponse struct {
	Data struct {
		Events []rawMarket `json:"events"`
	} `json:"data"`
}

// ListOpenMarkets returns every currently open hourly Up/Down market for
// assets. Markets whose outcome labels cannot be mapped to up/down are
// discarded (logged), not returned as an error — one bad market must not
// block discovery of the rest.
func (c *Client) ListOpenMarkets(ctx context.Context, assets []string) ([]Market, error) {
	url := fmt.Sprintf("%s/markets?assets=%s", c.baseURL, strings.Join(assets, ","))
	body, err := c.http.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return parseMarkets(body)
}

func parseMarkets(body []byte) ([]Market, error) {
	raws, err := unmarshalMarkets(body)
	if err != nil {
		return nil, err
	}

	out := make([]Market, 0, len(raws))
	for _, rm := range raws {
		m, ok := resolveMarket(rm)
		if !ok {
			logger.Warnf("discovery: discarding market %q: could not resolve up/down token ids", rm.Slug)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func unmarshalMarkets(body []byte) ([]rawMarket, error) {
	var flat flatResponse
	if err := json.Unmarshal(body, &flat); err == nil && flat != nil {
		return flat, nil
	}

	var nested nestedResponse
	if err := json.Unmarshal(body, &nested); err == nil {
		return nested.Data.Events, nil
	}

	return nil, fmt.Errorf("unrecognized discovery response shape")
}

// rawOutcomeResponse is the shape of a window-outcome lookup response.
type rawOutcomeResponse struct {
	Outcome string `json:"outcome"`
	Status  string `json:"status"`
}

// ResolveOutcome asks the venue whether a window has settled. It returns
// ""  (no error) when the window has not yet resolved — settlement's
// cue to retry on a later cycle — or "UP"/"DOWN" once decided.
func (c *Client) ResolveOutcome(ctx context.Context, slug, conditionID string) (string, error) {
	url := fmt.Sprintf("%s/markets/%s/outcome", c.baseURL, slug)
	body, err := c.http.Get(ctx, url, nil)
	if err != nil {
		return "", err
	}
	var resp rawOutcomeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse outcome response: %w", err)
	}
	switch strings.ToUpper(resp.Outcome) {
	case "UP":
		return "UP", nil
	case "DOWN":
		return "DOWN", nil
	default:
		return "", nil
	}
}

func resolveMarket(rm rawMarket) (Market, bool) {
	var upToken, downToken string
	for _, o := range rm.outcomes() {
		switch strings.ToUpper(o.name()) {
		case "UP", "YES":
			upToken = o.TokenID
		case "DOWN", "NO":
			downToken = o.TokenID
		}
	}
	if upToken == "" || downToken == "" {
		return Market{}, false
	}
	return Market{
		Asset:       rm.Asset,
		Slug:        rm.Slug,
		ConditionID: rm.ConditionID,
		UpTokenID:   upToken,
		DownTokenID: downToken,
		StartTS:     rm.StartTS,
		EndTS:       rm.EndTS,
	}, true
}
