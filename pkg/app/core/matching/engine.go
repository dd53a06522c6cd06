// Package matching clears revealed bids against active offers.
//
// Offers are walked cheapest first (earlier id on ties); bids are served
// strictly in id order. A fill trades at the offer's price for
// min(bid remaining, offer remaining) and is settled as one four-leg
// ledger transfer. A pair that cannot settle is skipped and the run goes on.
package matching

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/bidbook"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/offerbook"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/util"
)

type Settler interface {
	Settle(s escrow.Settlement) error
}

type OfferBook interface {
	Matchable() []offerbook.Offer
	Fill(id core.OrderID, quantity *uint256.Int) error
}

type BidBook interface {
	Matchable() []bidbook.Bid
	Fill(id core.OrderID, quantity *uint256.Int) error
}

// Fill is one executed trade.
type Fill struct {
	Round    uint64         `json:"round"`
	Seq      int            `json:"seq"`
	OfferID  core.OrderID   `json:"offerId"`
	BidID    core.OrderID   `json:"bidId"`
	Seller   common.Address `json:"seller"`
	Buyer    common.Address `json:"buyer"`
	Token    common.Address `json:"token"`
	Price    *uint256.Int   `json:"price"`
	Quantity *uint256.Int   `json:"quantity"`
	Cost     *uint256.Int   `json:"cost"`
}

// Skip reasons besides core error kinds.
const (
	ReasonSelfTrade = "SelfTrade"
	ReasonZeroCost  = "ZeroCost"
	ReasonOverflow  = "Overflow"
)

// Skip is a price-eligible pair that did not trade.
type Skip struct {
	OfferID core.OrderID `json:"offerId"`
	BidID   core.OrderID `json:"bidId"`
	Reason  string       `json:"reason"`
}

type Result struct {
	Round   uint64 `json:"round"`
	Fills   []Fill `json:"fills"`
	Skipped []Skip `json:"skipped"`
}

type Options struct {
	// Scale divides quantity*price to give a fill's native cost. Nil means 1.
	Scale *uint256.Int
	// SelfTradeGuard skips pairs whose offer owner is the bid's buyer.
	SelfTradeGuard bool
}

type Engine struct {
	phase  *phase.Controller
	ledger Settler
	offers OfferBook
	bids   BidBook
	scale  *uint256.Int
	guard  bool
	round  uint64
	logger *zap.Logger
}

func NewEngine(pc *phase.Controller, ledger Settler, offers OfferBook, bids BidBook, opts Options, logger *zap.Logger) *Engine {
	scale := uint256.NewInt(1)
	if core.Positive(opts.Scale) {
		scale = core.Clone(opts.Scale)
	}
	return &Engine{
		phase:  pc,
		ledger: ledger,
		offers: offers,
		bids:   bids,
		scale:  scale,
		guard:  opts.SelfTradeGuard,
		logger: util.OrNop(logger),
	}
}

// Cost returns quantity*price/scale rounded down, reporting overflow.
func (e *Engine) Cost(quantity, price *uint256.Int) (*uint256.Int, bool) {
	return new(uint256.Int).MulDivOverflow(quantity, price, e.scale)
}

// Round is the number of completed matching runs.
func (e *Engine) Round() uint64 { return e.round }

// SetRound restores the run counter after a restart.
func (e *Engine) SetRound(r uint64) { e.round = r }

// Run executes one matching pass. Running again with no new orders or
// funds produces no fills.
func (e *Engine) Run() (Result, error) {
	if err := e.phase.Require(phase.Matching); err != nil {
		return Result{}, err
	}
	e.round++
	res := Result{Round: e.round}

	offers := e.offers.Matchable()
	for _, bid := range e.bids.Matchable() {
		remaining := bid.Remaining()
		for i := range offers {
			if remaining.IsZero() {
				break
			}
			o := &offers[i]
			if o.Price.Gt(bid.Price) {
				// Sorted by price: nothing further is eligible.
				break
			}
			if o.Token != bid.Token || o.Remaining.IsZero() {
				continue
			}
			if e.guard && o.Owner == bid.Buyer {
				res.Skipped = append(res.Skipped, e.skip(o.ID, bid.ID, ReasonSelfTrade, nil))
				continue
			}

			qty := new(uint256.Int).Set(remaining)
			if o.Remaining.Lt(qty) {
				qty.Set(o.Remaining)
			}
			cost, overflow := e.Cost(qty, o.Price)
			if overflow {
				res.Skipped = append(res.Skipped, e.skip(o.ID, bid.ID, ReasonOverflow, nil))
				continue
			}
			if cost.IsZero() {
				res.Skipped = append(res.Skipped, e.skip(o.ID, bid.ID, ReasonZeroCost, nil))
				continue
			}

			err := e.ledger.Settle(escrow.Settlement{
				Buyer:    bid.Buyer,
				Seller:   o.Owner,
				Token:    o.Token,
				Quantity: qty,
				Cost:     cost,
			})
			if errors.Is(err, core.ErrInsufficientBalance) {
				res.Skipped = append(res.Skipped, e.skip(o.ID, bid.ID, core.Kind(err), err))
				continue
			}
			if err != nil {
				return res, fmt.Errorf("settle offer %d / bid %d: %w", o.ID, bid.ID, err)
			}

			if err := e.offers.Fill(o.ID, qty); err != nil {
				return res, fmt.Errorf("fill offer %d: %w", o.ID, err)
			}
			if err := e.bids.Fill(bid.ID, qty); err != nil {
				return res, fmt.Errorf("fill bid %d: %w", bid.ID, err)
			}
			o.Remaining.Sub(o.Remaining, qty)
			remaining.Sub(remaining, qty)

			f := Fill{
				Round:    e.round,
				Seq:      len(res.Fills),
				OfferID:  o.ID,
				BidID:    bid.ID,
				Seller:   o.Owner,
				Buyer:    bid.Buyer,
				Token:    o.Token,
				Price:    core.Clone(o.Price),
				Quantity: qty,
				Cost:     cost,
			}
			res.Fills = append(res.Fills, f)
			e.logger.Info("fill",
				zap.Uint64("round", f.Round),
				zap.Uint64("offer", uint64(f.OfferID)),
				zap.Uint64("bid", uint64(f.BidID)),
				zap.Stringer("price", f.Price),
				zap.Stringer("quantity", f.Quantity),
				zap.Stringer("cost", f.Cost))
		}
	}

	e.logger.Info("matching_done",
		zap.Uint64("round", e.round),
		zap.Int("fills", len(res.Fills)),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func (e *Engine) skip(offer, bid core.OrderID, reason string, err error) Skip {
	fields := []zap.Field{
		zap.Uint64("offer", uint64(offer)),
		zap.Uint64("bid", uint64(bid)),
		zap.String("reason", reason),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	e.logger.Debug("match_skipped", fields...)
	return Skip{OfferID: offer, BidID: bid, Reason: reason}
}
