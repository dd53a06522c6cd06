package api

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/dutchmarket/pkg/app/core/bidbook"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/matching"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/offerbook"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
)

// API response types for REST endpoints and WebSocket messages.
// Amounts are decimal strings of base units; the matching *Units field is
// the same amount divided by the venue's price scale.

// ==============================
// REST Response Types
// ==============================

type PhaseInfo struct {
	Phase string `json:"phase"` // "deposit", "offer", "bid", "matching"
	Value uint8  `json:"value"`
}

// BalanceInfo is one account's holding of one asset, inside the venue
// (escrow) and outside it (wallet).
type BalanceInfo struct {
	Address     string `json:"address"`
	Asset       string `json:"asset"` // "native" or token address
	Escrow      string `json:"escrow"`
	EscrowUnits string `json:"escrowUnits"`
	Wallet      string `json:"wallet"`
	WalletUnits string `json:"walletUnits"`
	Nonce       uint64 `json:"nonce"` // highest used
}

type OfferInfo struct {
	ID            uint64 `json:"id"`
	Owner         string `json:"owner"`
	Token         string `json:"token"`
	Price         string `json:"price"`
	PriceUnits    string `json:"priceUnits"`
	Quantity      string `json:"quantity"` // remaining
	QuantityUnits string `json:"quantityUnits"`
	Active        bool   `json:"active"`
}

// BidInfo carries the reveal fields only once the bid is revealed.
type BidInfo struct {
	ID         uint64 `json:"id"`
	Agent      string `json:"agent"`
	Commitment string `json:"commitment"`
	Signature  string `json:"signature"`
	Revealed   bool   `json:"revealed"`

	Buyer         string `json:"buyer,omitempty"`
	Token         string `json:"token,omitempty"`
	Price         string `json:"price,omitempty"`
	PriceUnits    string `json:"priceUnits,omitempty"`
	Quantity      string `json:"quantity,omitempty"`
	QuantityUnits string `json:"quantityUnits,omitempty"`
	Filled        string `json:"filled,omitempty"`
}

type CountInfo struct {
	Count int `json:"count"`
}

type LastInfo struct {
	Last uint64 `json:"last"`
}

type FillInfo struct {
	Round     uint64 `json:"round"`
	Seq       int    `json:"seq"`
	OfferID   uint64 `json:"offerId"`
	BidID     uint64 `json:"bidId"`
	Seller    string `json:"seller"`
	Buyer     string `json:"buyer"`
	Token     string `json:"token"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Cost      string `json:"cost"`
	CostUnits string `json:"costUnits"`
}

type TokenInfo struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type ChainStatus struct {
	Height      int64       `json:"height"`
	AppHash     string      `json:"appHash"`
	Phase       string      `json:"phase"`
	Custody     string      `json:"custody"`
	Operator    string      `json:"operator,omitempty"`
	PriceScale  string      `json:"priceScale"`
	Tokens      []TokenInfo `json:"tokens"`
	MempoolSize int         `json:"mempoolSize"`
}

type SubmitTxResponse struct {
	Status string `json:"status"` // "submitted"
	Hash   string `json:"hash"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest: {"op": "subscribe", "channels": ["fills", "phase"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSAck answers a subscribe or unsubscribe with the client's resulting
// channel set.
type WSAck struct {
	Type     string   `json:"type"` // "subscribed"
	Channels []string `json:"channels"`
}

type FillsUpdate struct {
	Type  string     `json:"type"` // "fills"
	Fills []FillInfo `json:"fills"`
}

type PhaseUpdate struct {
	Type  string `json:"type"` // "phase"
	Phase string `json:"phase"`
	Value uint8  `json:"value"`
}

type BlockUpdate struct {
	Type    string `json:"type"` // "block"
	Height  uint64 `json:"height"`
	Hash    string `json:"hash"`
	AppHash string `json:"appHash"`
	Time    int64  `json:"time"` // Unix milliseconds
	Txs     int    `json:"txs"`
}

// ==============================
// Conversions
// ==============================

// unitFormatter renders base-unit amounts as decimals with the scale's
// number of fractional digits.
type unitFormatter struct{ exp int32 }

// newUnitFormatter uses log10(scale) digits when scale is a power of ten,
// otherwise none.
func newUnitFormatter(scale *uint256.Int) unitFormatter {
	if scale == nil {
		return unitFormatter{}
	}
	d := decimal.NewFromBigInt(scale.ToBig(), 0)
	exp := int32(0)
	ten := decimal.NewFromInt(10)
	for d.GreaterThan(decimal.NewFromInt(1)) {
		q, r := d.QuoRem(ten, 0)
		if !r.IsZero() {
			return unitFormatter{}
		}
		d = q
		exp++
	}
	return unitFormatter{exp: exp}
}

func (f unitFormatter) format(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -f.exp).String()
}

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func phaseInfo(p phase.Phase) PhaseInfo {
	return PhaseInfo{Phase: p.String(), Value: uint8(p)}
}

func (f unitFormatter) offerInfo(o offerbook.Offer) OfferInfo {
	return OfferInfo{
		ID:            uint64(o.ID),
		Owner:         o.Owner.Hex(),
		Token:         o.Token.Hex(),
		Price:         amount(o.Price),
		PriceUnits:    f.format(o.Price),
		Quantity:      amount(o.Remaining),
		QuantityUnits: f.format(o.Remaining),
		Active:        o.Active,
	}
}

func (f unitFormatter) bidInfo(b bidbook.Bid) BidInfo {
	info := BidInfo{
		ID:         uint64(b.ID),
		Agent:      b.Agent.Hex(),
		Commitment: b.Commitment.Hex(),
		Signature:  hexutil.Encode(b.Signature),
		Revealed:   b.Revealed,
	}
	if !b.Revealed {
		return info
	}
	info.Buyer = b.Buyer.Hex()
	info.Token = b.Token.Hex()
	info.Price = amount(b.Price)
	info.PriceUnits = f.format(b.Price)
	info.Quantity = amount(b.Quantity)
	info.QuantityUnits = f.format(b.Quantity)
	info.Filled = amount(b.Filled)
	return info
}

func (f unitFormatter) fillInfo(fl matching.Fill) FillInfo {
	return FillInfo{
		Round:     fl.Round,
		Seq:       fl.Seq,
		OfferID:   uint64(fl.OfferID),
		BidID:     uint64(fl.BidID),
		Seller:    fl.Seller.Hex(),
		Buyer:     fl.Buyer.Hex(),
		Token:     fl.Token.Hex(),
		Price:     amount(fl.Price),
		Quantity:  amount(fl.Quantity),
		Cost:      amount(fl.Cost),
		CostUnits: f.format(fl.Cost),
	}
}

func (f unitFormatter) fillInfos(fills []matching.Fill) []FillInfo {
	out := make([]FillInfo, 0, len(fills))
	for _, fl := range fills {
		out = append(out, f.fillInfo(fl))
	}
	return out
}
