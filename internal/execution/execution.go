// Package execution derives an outcome token and fill price from a
// signal and places an order: a paper-mode simulator that fills
// immediately at the price cap, and a live-mode EIP-712-signed order
// client gated behind an armed security state.
package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"martin/internal/apperr"
	"martin/internal/tradefsm"
)

// Side is the order side: the outcome token being bought.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Request is what the orchestrator hands to an Executor once a trade is
// READY with a positive decision.
type Request struct {
	TradeID     int64
	UpTokenID   string
	DownTokenID string
	Side        Side
	PriceCap    float64
	StakeAmount float64
}

// Result is what settlement consumes: the placed order id, the actual
// token traded, and the fill price/status.
type Result struct {
	OrderID    string
	TokenID    string
	FillPrice  float64
	FillStatus tradefsm.FillStatus
}

// TokenFor resolves which token id a Request's side refers to.
func (r Request) TokenFor() string {
	if r.Side == SideUp {
		return r.UpTokenID
	}
	return r.DownTokenID
}

// Executor places an order and reports its fill. Both PaperExecutor and
// LiveExecutor implement it; the orchestrator depends only on this
// interface.
type Executor interface {
	PlaceOrder(ctx context.Context, req Request) (Result, error)
}

// PaperExecutor synthesizes an opaque order id and fills immediately at
// the request's price cap, per §4.7.
type PaperExecutor struct{}

func NewPaperExecutor() *PaperExecutor { return &PaperExecutor{} }

func (PaperExecutor) PlaceOrder(_ context.Context, req Request) (Result, error) {
	return Result{
		OrderID:    "paper-" + uuid.NewString(),
		TokenID:    req.TokenFor(),
		FillPrice:  req.PriceCap,
		FillStatus: tradefsm.FillFilled,
	}, nil
}

// Armer reports whether live execution is currently armed: valid
// credentials decrypted and a fresh TOTP code presented. Implemented by
// internal/security; execution depends only on this narrow interface to
// avoid a package cycle.
type Armer interface {
	Armed() bool
}

// LiveClient is the external order-placement collaborator (§6, out of
// core scope): authenticated POST/GET/DELETE against the venue's order
// API. internal/orderapi implements it against a real HTTP endpoint;
// tests stub it entirely, per the trading rules' Open Question on
// EIP-712 signing specifics.
type LiveClient interface {
	PlaceLimitOrder(ctx context.Context, tokenID string, side Side, price, size float64) (Result, error)
}

// LiveExecutor places real orders once armed. It never signs or sends
// anything while Armed() is false.
type LiveExecutor struct {
	armer  Armer
	client LiveClient
}

func NewLiveExecutor(armer Armer, client LiveClient) *LiveExecutor {
	return &LiveExecutor{armer: armer, client: client}
}

func (e *LiveExecutor) PlaceOrder(ctx context.Context, req Request) (Result, error) {
	if !e.armer.Armed() {
		return Result{}, apperr.Security("live execution is not armed", nil)
	}
	res, err := e.client.PlaceLimitOrder(ctx, req.TokenFor(), req.Side, req.PriceCap, req.StakeAmount)
	if err != nil {
		return Result{}, fmt.Errorf("place live order: %w", err)
	}
	return res, nil
}
