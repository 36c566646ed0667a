// Package orderapi implements the live order-placement interface (§6):
// a typed-data (EIP-712) signed limit order sent to the prediction
// market's order endpoint. It satisfies internal/execution.LiveClient
// and is only ever exercised behind an armed internal/security gate.
package orderapi

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"martin/internal/apperr"
	"martin/internal/execution"
	"martin/internal/httpx"
	"martin/internal/tradefsm"
)

// Domain parameterizes the EIP-712 domain separator. These are read from
// configuration, never hard-coded, since the same signer code must work
// against whichever deployment (mainnet, a test network) is configured.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

// Order is the limit order this interface signs and places.
type Order struct {
	TokenID    string
	Side       string // outcome side, "UP" or "DOWN"
	Price      float64
	Size       float64
	Expiration int64
	Nonce      int64
}

// Signer produces an EIP-712 signature for an order under a domain. Its
// own interface (rather than a bare *ecdsa.PrivateKey) lets tests stub
// signing entirely, per the spec's treatment of the live order interface
// as an out-of-scope, unpinned collaborator.
type Signer interface {
	Sign(domain Domain, order Order) (signature []byte, maker common.Address, err error)
}

// ECDSASigner signs with an in-memory private key.
type ECDSASigner struct {
	key *ecdsa.PrivateKey
}

func NewECDSASigner(hexKey string) (*ECDSASigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, apperr.Security("parse order-signing private key", err)
	}
	return &ECDSASigner{key: key}, nil
}

func (s *ECDSASigner) Sign(domain Domain, order Order) ([]byte, common.Address, error) {
	typedData := buildTypedData(domain, order)

	domainHash, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, common.Address{}, apperr.Security("hash EIP-712 domain", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, common.Address{}, apperr.Security("hash EIP-712 message", err)
	}

	rawData := append([]byte("\x19\x01"), append(domainHash, messageHash...)...)
	digest := crypto.Keccak256(rawData)

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, common.Address{}, apperr.Security("sign order", err)
	}
	// go-ethereum's recovery id convention wants 27/28 for on-chain
	// verification, not the raw 0/1 crypto.Sign produces.
	sig[64] += 27

	return sig, crypto.PubkeyToAddress(s.key.PublicKey), nil
}

func buildTypedData(domain Domain, order Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "tokenId", Type: "string"},
				{Name: "side", Type: "string"},
				{Name: "price", Type: "uint256"},
				{Name: "size", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           ethmath.NewHexOrDecimal256(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"tokenId":    order.TokenID,
			"side":       order.Side,
			"price":      scaleToWei(order.Price),
			"size":       scaleToWei(order.Size),
			"expiration": big.NewInt(order.Expiration),
			"nonce":      big.NewInt(order.Nonce),
		},
	}
}

// scaleToWei converts a decimal price/size (e.g. 0.62) into the fixed-
// point integer representation the contract expects, 18 decimals.
func scaleToWei(v float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(1e18))
	out, _ := scaled.Int(nil)
	return out
}

// Client places signed limit orders against the upstream order endpoint.
type Client struct {
	http    *httpx.Client
	baseURL string
	domain  Domain
	signer  Signer
}

func New(http *httpx.Client, baseURL string, domain Domain, signer Signer) *Client {
	return &Client{http: http, baseURL: baseURL, domain: domain, signer: signer}
}

type placeOrderRequest struct {
	TokenID    string `json:"token_id"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Expiration int64  `json:"expiration"`
	Nonce      int64  `json:"nonce"`
	Maker      string `json:"maker"`
	Signature  string `json:"signature"`
}

type placeOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// PlaceLimitOrder signs and submits the order, returning the filled
// execution.Result. It satisfies internal/execution.LiveClient.
func (c *Client) PlaceLimitOrder(ctx context.Context, tokenID string, side execution.Side, price, size float64) (execution.Result, error) {
	order := Order{
		TokenID:    tokenID,
		Side:       string(side),
		Price:      price,
		Size:       size,
		Expiration: time.Now().Add(10 * time.Minute).Unix(),
		Nonce:      time.Now().UnixNano(),
	}

	sig, maker, err := c.signer.Sign(c.domain, order)
	if err != nil {
		return execution.Result{}, err
	}

	reqBody := placeOrderRequest{
		TokenID:    tokenID,
		Side:       order.Side,
		Price:      fmt.Sprintf("%.6f", price),
		Size:       fmt.Sprintf("%.6f", size),
		Expiration: order.Expiration,
		Nonce:      order.Nonce,
		Maker:      maker.Hex(),
		Signature:  hexutil.Encode(sig),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return execution.Result{}, apperr.API("marshal place-order request", 0, "", err)
	}

	body, err := c.http.Post(ctx, c.baseURL+"/orders", payload, nil)
	if err != nil {
		return execution.Result{}, err
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return execution.Result{}, apperr.API("parse place-order response", 0, string(body), err)
	}
	return execution.Result{
		OrderID:    resp.OrderID,
		TokenID:    tokenID,
		FillPrice:  price,
		FillStatus: statusFromUpstream(resp.Status),
	}, nil
}

func statusFromUpstream(status string) tradefsm.FillStatus {
	switch status {
	case "filled":
		return tradefsm.FillFilled
	case "rejected":
		return tradefsm.FillRejected
	default:
		return tradefsm.FillPending
	}
}
