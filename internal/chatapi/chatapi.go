// Package chatapi is the trade-card front-end: it sends exactly one card
// per trade at its SIGNALLED -> WAITING_CONFIRM transition, exposes the
// two callback actions (OK, SKIP) a chat operator can take on a READY
// trade, and delivers the once-a-day day-end reminder notice. Every
// callback acknowledges before it touches the database, so a slow FSM
// transition never trips the chat front-end's own timeout.
package chatapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"martin/internal/apperr"
	"martin/internal/config"
	"martin/internal/httpx"
	"martin/internal/logger"
	"martin/internal/store"
	"martin/internal/tradefsm"
)

// actionClaims is the signed payload carried by a trade card's OK/SKIP
// links: just enough to identify the trade and bound how long the card
// stays answerable.
type actionClaims struct {
	TradeID int64 `json:"trade_id"`
	jwt.RegisteredClaims
}

// Card is the payload POSTed to the configured webhook for every trade
// that reaches WAITING_CONFIRM.
type Card struct {
	TradeID   int64   `json:"trade_id"`
	Asset     string  `json:"asset"`
	Direction string  `json:"direction"`
	TimeMode  string  `json:"time_mode"`
	Quality   float64 `json:"quality"`
	SignalTS  int64   `json:"signal_ts"`
	ConfirmTS int64   `json:"confirm_ts"`
	WindowEnd int64   `json:"window_end"`
	OKToken   string  `json:"ok_token"`
	SkipToken string  `json:"skip_token"`
}

// ReminderNotice is the payload POSTed to the webhook once per day when
// the DAY window is about to close, giving an operator a chance to
// react to the current night-session/execution mode before autotrade
// takes over.
type ReminderNotice struct {
	Kind             string `json:"kind"`
	NightSessionMode string `json:"night_session_mode"`
	ExecutionMode    string `json:"execution_mode"`
	DayEndTS         int64  `json:"day_end_ts"`
	MinutesBefore    int    `json:"minutes_before"`
}

// Server bundles the outbound card sender and the inbound callback
// router behind a single trade-card front-end.
type Server struct {
	db     *store.DB
	client *httpx.Client
	cfg    config.ChatAPIConfig
	secret []byte
}

// New builds a Server. httpClient is shared with the rest of MARTIN's
// outbound collaborators, not constructed per package.
func New(db *store.DB, client *httpx.Client, cfg config.ChatAPIConfig) *Server {
	return &Server{db: db, client: client, cfg: cfg, secret: []byte(cfg.JWTSecret)}
}

// SendTradeCard implements orchestrator.CardSender: it signs one OK and
// one SKIP action token scoped to callback_ttl_seconds and POSTs the card
// to the configured webhook. Called exactly once per trade.
func (s *Server) SendTradeCard(ctx context.Context, trade *store.Trade, window *store.MarketWindow, signal *store.Signal) error {
	ttl := time.Duration(s.cfg.CallbackTTLSeconds) * time.Second
	okToken, err := s.signAction(trade.ID, ttl)
	if err != nil {
		return apperr.Security("sign ok action token", err)
	}
	skipToken, err := s.signAction(trade.ID, ttl)
	if err != nil {
		return apperr.Security("sign skip action token", err)
	}

	direction := ""
	quality := 0.0
	signalTS := int64(0)
	confirmTS := int64(0)
	if signal != nil {
		direction = signal.Direction
		quality = signal.Quality
		signalTS = signal.SignalTS
		confirmTS = signal.ConfirmTS
	}

	card := Card{
		TradeID:   trade.ID,
		Asset:     window.Asset,
		Direction: direction,
		TimeMode:  trade.TimeMode,
		Quality:   quality,
		SignalTS:  signalTS,
		ConfirmTS: confirmTS,
		WindowEnd: window.EndTS,
		OKToken:   okToken,
		SkipToken: skipToken,
	}
	body, err := json.Marshal(card)
	if err != nil {
		return apperr.Trade("marshal trade card", err)
	}

	if _, err := s.client.Post(ctx, s.cfg.CardWebhookURL, body, nil); err != nil {
		return err
	}
	logger.Infof("trade %d: card sent", trade.ID)
	return nil
}

// SendDayEndReminder implements orchestrator.ReminderSender: it posts a
// same-day, rate-limited notice to the configured webhook when the DAY
// window is within day_night.reminder_minutes_before_day_end of closing.
// The orchestrator owns the once-per-day rate limit; this call is a
// plain best-effort POST.
func (s *Server) SendDayEndReminder(ctx context.Context, nightSessionMode, executionMode string, dayEndTS int64, minutesBefore int) error {
	notice := ReminderNotice{
		Kind:             "day_end_reminder",
		NightSessionMode: nightSessionMode,
		ExecutionMode:    executionMode,
		DayEndTS:         dayEndTS,
		MinutesBefore:    minutesBefore,
	}
	body, err := json.Marshal(notice)
	if err != nil {
		return apperr.Trade("marshal day end reminder", err)
	}
	if _, err := s.client.Post(ctx, s.cfg.CardWebhookURL, body, nil); err != nil {
		return err
	}
	logger.Infof("day end reminder sent: night_mode=%s execution_mode=%s", nightSessionMode, executionMode)
	return nil
}

// signAction mints a token for tradeID. A random token id makes every
// minted token distinct, so a card's OK and SKIP tokens never coincide.
func (s *Server) signAction(tradeID int64, ttl time.Duration) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	claims := actionClaims{
		TradeID: tradeID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(nonce),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

func (s *Server) parseAction(tokenStr string) (*actionClaims, error) {
	claims := &actionClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, apperr.Security("invalid or expired action token", err)
	}
	return claims, nil
}

// Router builds the gin engine exposing the callback and health routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/callback/ok/:tradeID", s.authMiddleware(), s.handleOK)
	r.POST("/callback/skip/:tradeID", s.authMiddleware(), s.handleSkip)
	return r
}

// authMiddleware validates the token against the :tradeID in the path so
// a token minted for one trade can't be replayed against another.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID, err := strconv.ParseInt(c.Param("tradeID"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
			return
		}
		tokenStr := c.Query("token")
		if tokenStr == "" {
			tokenStr = c.GetHeader("Authorization")
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := s.parseAction(tokenStr)
		if err != nil || claims.TradeID != tradeID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set("trade_id", tradeID)
		c.Next()
	}
}

// handleOK acknowledges the callback first, per the front-end's no-timeout
// guarantee, then records the user's OK decision.
func (s *Server) handleOK(c *gin.Context) {
	tradeID := c.GetInt64("trade_id")
	c.JSON(http.StatusOK, gin.H{"status": "received"})
	if err := s.applyDecision(tradeID, tradefsm.DecisionOK); err != nil {
		logger.Errorf("trade %d: apply user OK: %v", tradeID, err)
	}
}

// handleSkip mirrors handleOK for the SKIP action.
func (s *Server) handleSkip(c *gin.Context) {
	tradeID := c.GetInt64("trade_id")
	c.JSON(http.StatusOK, gin.H{"status": "received"})
	if err := s.applyDecision(tradeID, tradefsm.DecisionSkip); err != nil {
		logger.Errorf("trade %d: apply user SKIP: %v", tradeID, err)
	}
}

// applyDecision loads the trade, checks it is still an answerable READY
// trade awaiting a decision (idempotent against double-clicks and token
// replays), and applies the FSM transition.
func (s *Server) applyDecision(tradeID int64, decision tradefsm.Decision) error {
	tr, err := s.db.Trades.Get(tradeID)
	if err != nil {
		return apperr.Storage("load trade for callback", err)
	}
	if tr.Status != tradefsm.Ready || tr.Decision != tradefsm.DecisionPending {
		return nil
	}

	fsm := tr.ToFSM()
	switch decision {
	case tradefsm.DecisionOK:
		if err := fsm.OnUserOK(); err != nil {
			return err
		}
	case tradefsm.DecisionSkip:
		if err := fsm.OnUserSkip(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported callback decision %s", decision)
	}
	tr.FromFSM(fsm)
	return s.db.Trades.Save(tr)
}
