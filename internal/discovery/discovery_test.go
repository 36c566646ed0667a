package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martin/internal/httpx"
)

func TestParseMarketsFlatShape(t *testing.T) {
	body := []byte(`[
		{"slug":"btc-up-down-1700000000","condition_id":"c1","asset":"BTC","start_ts":1700000000,"end_ts":1700003600,
		 "outcomes":[{"label":"Up","token_id":"tok-up"},{"label":"Down","token_id":"tok-down"}]}
	]`)
	markets, err := parseMarkets(body)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "tok-up", markets[0].UpTokenID)
	assert.Equal(t, "tok-down", markets[0].DownTokenID)
}

func TestParseMarketsNestedShape(t *testing.T) {
	body := []byte(`{"data":{"events":[
		{"slug":"eth-up-down-1700000000","asset":"ETH","outcomes":[
			{"outcome":"YES","token_id":"tok-yes"},{"outcome":"NO","token_id":"tok-no"}]}
	]}}`)
	markets, err := parseMarkets(body)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "tok-yes", markets[0].UpTokenID)
	assert.Equal(t, "tok-no", markets[0].DownTokenID)
}

func TestParseMarketsTokensFieldNameAlternate(t *testing.T) {
	body := []byte(`[{"slug":"s","asset":"BTC","tokens":[{"label":"up","token_id":"a"},{"label":"down","token_id":"b"}]}]`)
	markets, err := parseMarkets(body)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "a", markets[0].UpTokenID)
}

func TestParseMarketsDiscardsUnresolvableMarket(t *testing.T) {
	body := []byte(`[
		{"slug":"resolvable","asset":"BTC","outcomes":[{"label":"Up","token_id":"a"},{"label":"Down","token_id":"b"}]},
		{"slug":"unresolvable","asset":"BTC","outcomes":[{"label":"Maybe","token_id":"c"}]}
	]`)
	markets, err := parseMarkets(body)
	require.NoError(t, err)
	require.Len(t, markets, 1, "a market with no recognizable up/down outcome must be discarded, not fail the batch")
	assert.Equal(t, "resolvable", markets[0].Slug)
}

func TestParseMarketsRejectsUnrecognizedShape(t *testing.T) {
	_, err := parseMarkets([]byte(`"just a string"`))
	assert.Error(t, err)
}

func TestResolveOutcomeParsesDecidedAndPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "decided") {
			_, _ = w.Write([]byte(`{"outcome":"up","status":"settled"}`))
			return
		}
		_, _ = w.Write([]byte(`{"outcome":"","status":"open"}`))
	}))
	defer srv.Close()

	client := New(httpx.New(httpx.Config{}), srv.URL)

	outcome, err := client.ResolveOutcome(context.Background(), "decided-window", "c1")
	require.NoError(t, err)
	assert.Equal(t, "UP", outcome)

	pending, err := client.ResolveOutcome(context.Background(), "open-window", "c2")
	require.NoError(t, err)
	assert.Empty(t, pending)
}
