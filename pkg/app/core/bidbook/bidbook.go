// Package bidbook holds buy orders submitted as hidden commitments by an
// agent and later revealed by the true buyer.
package bidbook

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/crypto"
	"github.com/uhyunpark/dutchmarket/pkg/util"
)

// Verifier confirms sig over digest was produced by signer.
type Verifier interface {
	Verify(signer common.Address, digest common.Hash, sig []byte) bool
}

// Bid fields after Signature are zero until the bid is revealed. Price and
// Quantity never change after reveal; fills only grow Filled.
type Bid struct {
	ID         core.OrderID   `json:"id"`
	Agent      common.Address `json:"agent"`
	Commitment common.Hash    `json:"commitment"`
	Signature  []byte         `json:"signature"`

	Revealed bool           `json:"revealed"`
	Buyer    common.Address `json:"buyer"`
	Token    common.Address `json:"token"`
	Price    *uint256.Int   `json:"price"`
	Quantity *uint256.Int   `json:"quantity"`
	Filled   *uint256.Int   `json:"filled"`
}

// Remaining is the quantity still to be bought.
func (b *Bid) Remaining() *uint256.Int {
	return new(uint256.Int).Sub(core.Clone(b.Quantity), core.Clone(b.Filled))
}

func (b *Bid) clone() Bid {
	c := *b
	c.Signature = append([]byte(nil), b.Signature...)
	c.Price = core.Clone(b.Price)
	c.Quantity = core.Clone(b.Quantity)
	c.Filled = core.Clone(b.Filled)
	return c
}

type Book struct {
	phase    *phase.Controller
	verifier Verifier
	bids     map[core.OrderID]*Bid
	last     core.OrderID
	logger   *zap.Logger
}

func New(pc *phase.Controller, verifier Verifier, logger *zap.Logger) *Book {
	return &Book{
		phase:    pc,
		verifier: verifier,
		bids:     make(map[core.OrderID]*Bid),
		logger:   util.OrNop(logger),
	}
}

// Add stores an opaque commitment submitted by agent and returns its id.
func (b *Book) Add(agent common.Address, commitment common.Hash, signature []byte) (core.OrderID, error) {
	if err := b.phase.Require(phase.Bid); err != nil {
		return 0, err
	}
	b.last++
	bid := &Bid{
		ID:         b.last,
		Agent:      agent,
		Commitment: commitment,
		Signature:  append([]byte(nil), signature...),
		Price:      new(uint256.Int),
		Quantity:   new(uint256.Int),
		Filled:     new(uint256.Int),
	}
	b.bids[bid.ID] = bid
	b.logger.Debug("bid_added", zap.Uint64("id", uint64(bid.ID)), zap.Stringer("agent", agent))
	return bid.ID, nil
}

// Reveal discloses a bid's terms. The caller becomes the buyer, so the
// commitment must have been made over the caller's address, and the stored
// signature must be the agent's over that commitment. claimedHash must equal
// the recomputed commitment as well.
func (b *Book) Reveal(caller common.Address, id core.OrderID, token common.Address, price, quantity *uint256.Int, claimedHash common.Hash) error {
	if err := b.phase.Require(phase.Bid); err != nil {
		return err
	}
	if !core.Positive(price) || !core.Positive(quantity) {
		return fmt.Errorf("reveal bid %d: price and quantity must be positive: %w", id, core.ErrInvalidAmount)
	}
	bid, ok := b.bids[id]
	if !ok {
		return fmt.Errorf("reveal bid %d: %w", id, core.ErrOrderNotFound)
	}
	if bid.Revealed {
		return fmt.Errorf("reveal bid %d: %w", id, core.ErrAlreadyRevealed)
	}

	hash := crypto.CommitmentHash(token, price, quantity, caller)
	if hash != bid.Commitment {
		return fmt.Errorf("reveal bid %d: tuple hashes to %s, committed %s: %w", id, hash.Hex(), bid.Commitment.Hex(), core.ErrHashMismatch)
	}
	if claimedHash != hash {
		return fmt.Errorf("reveal bid %d: claimed %s: %w", id, claimedHash.Hex(), core.ErrHashMismatch)
	}
	if !b.verifier.Verify(bid.Agent, hash, bid.Signature) {
		return fmt.Errorf("reveal bid %d: not signed by agent %s: %w", id, bid.Agent.Hex(), core.ErrInvalidSignature)
	}

	bid.Revealed = true
	bid.Buyer = caller
	bid.Token = token
	bid.Price = core.Clone(price)
	bid.Quantity = core.Clone(quantity)
	b.logger.Info("bid_revealed",
		zap.Uint64("id", uint64(id)),
		zap.Stringer("buyer", caller),
		zap.Stringer("price", price),
		zap.Stringer("quantity", quantity))
	return nil
}

// Remove deletes a bid that has not traded yet. The agent may remove it;
// once revealed the buyer may too.
func (b *Book) Remove(caller common.Address, id core.OrderID) error {
	if err := b.phase.Require(phase.Bid); err != nil {
		return err
	}
	bid, ok := b.bids[id]
	if !ok {
		return fmt.Errorf("remove bid %d: %w", id, core.ErrOrderNotFound)
	}
	if caller != bid.Agent && !(bid.Revealed && caller == bid.Buyer) {
		return fmt.Errorf("remove bid %d: %w", id, core.ErrUnauthorized)
	}
	if bid.Filled != nil && !bid.Filled.IsZero() {
		return fmt.Errorf("remove bid %d: partially filled: %w", id, core.ErrUnauthorized)
	}
	delete(b.bids, id)
	b.logger.Debug("bid_removed", zap.Uint64("id", uint64(id)))
	return nil
}

func (b *Book) Get(id core.OrderID) (Bid, error) {
	bid, ok := b.bids[id]
	if !ok {
		return Bid{}, fmt.Errorf("bid %d: %w", id, core.ErrOrderNotFound)
	}
	return bid.clone(), nil
}

// Count is the number of live bids, revealed or not.
func (b *Book) Count() int { return len(b.bids) }

// Last is the most recently assigned bid id, 0 before the first.
func (b *Book) Last() core.OrderID { return b.last }

// Matchable returns revealed bids with remaining quantity in id order.
func (b *Book) Matchable() []Bid {
	var out []Bid
	for _, bid := range b.bids {
		if bid.Revealed && !bid.Remaining().IsZero() {
			out = append(out, bid.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Fill records quantity bought and deletes the bid once fully filled.
func (b *Book) Fill(id core.OrderID, quantity *uint256.Int) error {
	bid, ok := b.bids[id]
	if !ok || !bid.Revealed {
		return fmt.Errorf("fill bid %d: %w", id, core.ErrOrderNotFound)
	}
	remaining := bid.Remaining()
	if remaining.Lt(quantity) {
		return fmt.Errorf("fill bid %d: %s exceeds remaining %s: %w", id, quantity, remaining, core.ErrInvalidAmount)
	}
	bid.Filled.Add(bid.Filled, quantity)
	if bid.Filled.Eq(bid.Quantity) {
		delete(b.bids, id)
	}
	return nil
}

// All returns the live bids in id order.
func (b *Book) All() []Bid {
	out := make([]Bid, 0, len(b.bids))
	for _, bid := range b.bids {
		out = append(out, bid.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Book) Restore(bids []Bid, last core.OrderID) {
	b.bids = make(map[core.OrderID]*Bid, len(bids))
	b.last = last
	for _, bid := range bids {
		c := bid.clone()
		b.bids[c.ID] = &c
	}
}
