// Package venue wires the phase controller, escrow ledger, both books and
// the matching engine into the caller-facing operation set. Every mutating
// method takes the caller's address explicitly.
package venue

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/bidbook"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/matching"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/offerbook"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/util"
)

type Config struct {
	// Custody is the address holding escrowed funds with the collaborators.
	Custody        common.Address
	PriceScale     *uint256.Int
	SelfTradeGuard bool
}

// Deps are the external collaborators.
type Deps struct {
	Tokens   escrow.TokenRegistry
	Native   escrow.NativeBank
	Verifier bidbook.Verifier
}

type Venue struct {
	phase  *phase.Controller
	ledger *escrow.Ledger
	offers *offerbook.Book
	bids   *bidbook.Book
	engine *matching.Engine
	logger *zap.Logger
}

func New(cfg Config, deps Deps, logger *zap.Logger) *Venue {
	logger = util.OrNop(logger)
	pc := phase.NewController()
	ledger := escrow.NewLedger(pc, deps.Tokens, deps.Native, cfg.Custody, logger.Named("escrow"))
	offers := offerbook.New(pc, logger.Named("offers"))
	bids := bidbook.New(pc, deps.Verifier, logger.Named("bids"))
	engine := matching.NewEngine(pc, ledger, offers, bids, matching.Options{
		Scale:          cfg.PriceScale,
		SelfTradeGuard: cfg.SelfTradeGuard,
	}, logger.Named("matching"))
	return &Venue{
		phase:  pc,
		ledger: ledger,
		offers: offers,
		bids:   bids,
		engine: engine,
		logger: logger,
	}
}

// SetPhase is unrestricted here; callers apply any operator policy.
func (v *Venue) SetPhase(p phase.Phase) error {
	if err := v.phase.Set(p); err != nil {
		return err
	}
	v.logger.Info("phase_changed", zap.Stringer("phase", p))
	return nil
}

func (v *Venue) Phase() phase.Phase { return v.phase.Current() }

func (v *Venue) Custody() common.Address { return v.ledger.Custody() }

// DepositNative credits the value attached to the caller's call.
func (v *Venue) DepositNative(caller common.Address, value *uint256.Int) error {
	return v.ledger.DepositNative(caller, value)
}

func (v *Venue) WithdrawNative(caller common.Address, amount *uint256.Int) error {
	return v.ledger.WithdrawNative(caller, amount)
}

func (v *Venue) DepositToken(caller, token common.Address, amount *uint256.Int) error {
	return v.ledger.DepositToken(caller, token, amount)
}

func (v *Venue) WithdrawToken(caller, token common.Address, amount *uint256.Int) error {
	return v.ledger.WithdrawToken(caller, token, amount)
}

// Balance is the account's escrowed native amount.
func (v *Venue) Balance(account common.Address) *uint256.Int {
	return v.ledger.Balance(account, core.NativeAsset)
}

func (v *Venue) TokenBalance(token, account common.Address) *uint256.Int {
	return v.ledger.Balance(account, core.TokenAsset(token))
}

// Total is the amount of asset held in custody across all accounts.
func (v *Venue) Total(asset core.Asset) *uint256.Int {
	return v.ledger.Total(asset)
}

func (v *Venue) AddOffer(caller, token common.Address, price, quantity *uint256.Int) (core.OrderID, error) {
	return v.offers.Add(caller, token, price, quantity)
}

func (v *Venue) ChangeOffer(caller common.Address, id core.OrderID, newPrice *uint256.Int) error {
	return v.offers.Change(caller, id, newPrice)
}

func (v *Venue) RemoveOffer(caller common.Address, id core.OrderID) error {
	return v.offers.Remove(caller, id)
}

func (v *Venue) GetOffer(id core.OrderID) (offerbook.Offer, error) { return v.offers.Get(id) }
func (v *Venue) OffersCount() int                                  { return v.offers.Count() }
func (v *Venue) LastOfferNumber() core.OrderID                     { return v.offers.Last() }

func (v *Venue) AddBid(caller common.Address, commitment common.Hash, signature []byte) (core.OrderID, error) {
	return v.bids.Add(caller, commitment, signature)
}

func (v *Venue) RevealBid(caller common.Address, id core.OrderID, token common.Address, price, quantity *uint256.Int, claimedHash common.Hash) error {
	return v.bids.Reveal(caller, id, token, price, quantity, claimedHash)
}

func (v *Venue) RemoveBid(caller common.Address, id core.OrderID) error {
	return v.bids.Remove(caller, id)
}

func (v *Venue) GetBid(id core.OrderID) (bidbook.Bid, error) { return v.bids.Get(id) }
func (v *Venue) BidsCount() int                              { return v.bids.Count() }
func (v *Venue) LastBidNumber() core.OrderID                 { return v.bids.Last() }

// MatchOrders runs one matching pass.
func (v *Venue) MatchOrders() (matching.Result, error) {
	return v.engine.Run()
}

// Offers lists every offer, active or not, in id order.
func (v *Venue) Offers() []offerbook.Offer { return v.offers.All() }

// Bids lists the live bids in id order.
func (v *Venue) Bids() []bidbook.Bid { return v.bids.All() }

// CheckCustody verifies the ledger's per-asset totals.
func (v *Venue) CheckCustody() error { return v.ledger.CheckCustody() }

// State is a complete copy of the venue's mutable state.
type State struct {
	Phase     phase.Phase       `json:"phase"`
	Balances  []escrow.Entry    `json:"balances"`
	Offers    []offerbook.Offer `json:"offers"`
	LastOffer core.OrderID      `json:"lastOffer"`
	Bids      []bidbook.Bid     `json:"bids"`
	LastBid   core.OrderID      `json:"lastBid"`
	Round     uint64            `json:"round"`
}

func (v *Venue) State() State {
	return State{
		Phase:     v.phase.Current(),
		Balances:  v.ledger.Entries(),
		Offers:    v.offers.All(),
		LastOffer: v.offers.Last(),
		Bids:      v.bids.All(),
		LastBid:   v.bids.Last(),
		Round:     v.engine.Round(),
	}
}

// Restore replaces the venue's state with s.
func (v *Venue) Restore(s State) error {
	if err := v.phase.Set(s.Phase); err != nil {
		return err
	}
	v.ledger.Restore(s.Balances)
	v.offers.Restore(s.Offers, s.LastOffer)
	v.bids.Restore(s.Bids, s.LastBid)
	v.engine.SetRound(s.Round)
	return nil
}
