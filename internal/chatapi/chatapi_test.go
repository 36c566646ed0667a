package chatapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martin/internal/config"
	"martin/internal/httpx"
	"martin/internal/store"
	"martin/internal/tradefsm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newReadyTrade(t *testing.T, db *store.DB) *store.Trade {
	t.Helper()
	win := &store.MarketWindow{Asset: "BTC", Slug: "btc-1", ConditionID: "c1", UpTokenID: "up", DownTokenID: "down", StartTS: 1000, EndTS: 4600}
	require.NoError(t, db.MarketWindows.Create(win))

	tr := &store.Trade{WindowID: win.ID, Status: tradefsm.SearchingSignal, TimeMode: "DAY", PolicyMode: "BASE", Decision: tradefsm.DecisionPending, FillStatus: tradefsm.FillPending}
	require.NoError(t, db.Trades.Create(tr))

	fsm := tr.ToFSM()
	require.NoError(t, fsm.OnQualifyingSignalFound(1))
	require.NoError(t, fsm.OnQualityPass())
	require.NoError(t, fsm.OnConfirmReached())
	require.NoError(t, fsm.OnCapPass())
	tr.FromFSM(fsm)
	require.NoError(t, db.Trades.Save(tr))
	return tr
}

func TestSendTradeCardPostsSignedTokens(t *testing.T) {
	db := openTestDB(t)
	var gotCard Card
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotCard))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.ChatAPIConfig{JWTSecret: "test-secret", CardWebhookURL: srv.URL, CallbackTTLSeconds: 900}
	s := New(db, httpx.New(httpx.Config{}), cfg)

	win := &store.MarketWindow{Asset: "ETH", Slug: "eth-1", ConditionID: "c2", UpTokenID: "u", DownTokenID: "d", StartTS: 0, EndTS: 3600}
	require.NoError(t, db.MarketWindows.Create(win))
	tr := &store.Trade{WindowID: win.ID, Status: tradefsm.WaitingConfirm, TimeMode: "NIGHT", PolicyMode: "STRICT", Decision: tradefsm.DecisionPending, FillStatus: tradefsm.FillPending}
	require.NoError(t, db.Trades.Create(tr))
	signal := &store.Signal{WindowID: win.ID, Direction: "UP", SignalTS: 100, ConfirmTS: 220, Quality: 0.81}

	require.NoError(t, s.SendTradeCard(context.Background(), tr, win, signal))

	assert.Equal(t, tr.ID, gotCard.TradeID)
	assert.Equal(t, "ETH", gotCard.Asset)
	assert.Equal(t, "UP", gotCard.Direction)
	assert.NotEmpty(t, gotCard.OKToken)
	assert.NotEmpty(t, gotCard.SkipToken)
	assert.NotEqual(t, gotCard.OKToken, gotCard.SkipToken)

	claims, err := s.parseAction(gotCard.OKToken)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, claims.TradeID)
}

func TestCallbackOKRequiresValidToken(t *testing.T) {
	db := openTestDB(t)
	cfg := config.ChatAPIConfig{JWTSecret: "test-secret", CallbackTTLSeconds: 900}
	s := New(db, httpx.New(httpx.Config{}), cfg)
	tr := newReadyTrade(t, db)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/callback/ok/"+itoa(tr.ID), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	reloaded, err := db.Trades.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tradefsm.DecisionPending, reloaded.Decision)
}

func TestCallbackOKAppliesDecisionWithValidToken(t *testing.T) {
	db := openTestDB(t)
	cfg := config.ChatAPIConfig{JWTSecret: "test-secret", CallbackTTLSeconds: 900}
	s := New(db, httpx.New(httpx.Config{}), cfg)
	tr := newReadyTrade(t, db)

	token, err := s.signAction(tr.ID, 15*time.Minute)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/callback/ok/"+itoa(tr.ID)+"?token="+url.QueryEscape(token), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	reloaded, err := db.Trades.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tradefsm.DecisionOK, reloaded.Decision)
	assert.Equal(t, tradefsm.Ready, reloaded.Status)
}

func TestCallbackSkipCancelsTrade(t *testing.T) {
	db := openTestDB(t)
	cfg := config.ChatAPIConfig{JWTSecret: "test-secret", CallbackTTLSeconds: 900}
	s := New(db, httpx.New(httpx.Config{}), cfg)
	tr := newReadyTrade(t, db)

	token, err := s.signAction(tr.ID, 15*time.Minute)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/callback/skip/"+itoa(tr.ID)+"?token="+url.QueryEscape(token), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	reloaded, err := db.Trades.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tradefsm.Cancelled, reloaded.Status)
	require.NotNil(t, reloaded.CancelReason)
	assert.Equal(t, tradefsm.Skip, *reloaded.CancelReason)
}

func TestCallbackIsIdempotentAgainstDoubleClick(t *testing.T) {
	db := openTestDB(t)
	cfg := config.ChatAPIConfig{JWTSecret: "test-secret", CallbackTTLSeconds: 900}
	s := New(db, httpx.New(httpx.Config{}), cfg)
	tr := newReadyTrade(t, db)

	token, err := s.signAction(tr.ID, 15*time.Minute)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url1 := srv.URL + "/callback/ok/" + itoa(tr.ID) + "?token=" + url.QueryEscape(token)
	resp1, err := http.Post(url1, "application/json", nil)
	require.NoError(t, err)
	resp1.Body.Close()
	assert.Equal(t, http.StatusOK, resp1.StatusCode)

	resp2, err := http.Post(url1, "application/json", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	reloaded, err := db.Trades.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tradefsm.DecisionOK, reloaded.Decision, "a replayed OK token must not re-run the transition")
}

func TestCallbackTokenCannotBeReplayedAgainstAnotherTrade(t *testing.T) {
	db := openTestDB(t)
	cfg := config.ChatAPIConfig{JWTSecret: "test-secret", CallbackTTLSeconds: 900}
	s := New(db, httpx.New(httpx.Config{}), cfg)
	tr1 := newReadyTrade(t, db)
	tr2 := newReadyTrade(t, db)

	token, err := s.signAction(tr1.ID, 15*time.Minute)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/callback/ok/"+itoa(tr2.ID)+"?token="+url.QueryEscape(token), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
