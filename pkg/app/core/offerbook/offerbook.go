// Package offerbook holds resting sell offers: tokens priced in the native asset.
package offerbook

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/util"
)

type Offer struct {
	ID        core.OrderID   `json:"id"`
	Owner     common.Address `json:"owner"`
	Token     common.Address `json:"token"`
	Price     *uint256.Int   `json:"price"`
	Remaining *uint256.Int   `json:"quantity"`
	Active    bool           `json:"active"`
}

func (o *Offer) clone() Offer {
	c := *o
	c.Price = core.Clone(o.Price)
	c.Remaining = core.Clone(o.Remaining)
	return c
}

// Book keeps every offer ever added; removed and filled offers stay
// readable but inactive.
type Book struct {
	phase  *phase.Controller
	offers map[core.OrderID]*Offer
	last   core.OrderID
	active int
	logger *zap.Logger
}

func New(pc *phase.Controller, logger *zap.Logger) *Book {
	return &Book{
		phase:  pc,
		offers: make(map[core.OrderID]*Offer),
		logger: util.OrNop(logger),
	}
}

// Add posts a new active offer and returns its id.
func (b *Book) Add(owner, token common.Address, price, quantity *uint256.Int) (core.OrderID, error) {
	if err := b.phase.Require(phase.Offer); err != nil {
		return 0, err
	}
	if !core.Positive(price) || !core.Positive(quantity) {
		return 0, fmt.Errorf("add offer: price and quantity must be positive: %w", core.ErrInvalidAmount)
	}
	b.last++
	o := &Offer{
		ID:        b.last,
		Owner:     owner,
		Token:     token,
		Price:     core.Clone(price),
		Remaining: core.Clone(quantity),
		Active:    true,
	}
	b.offers[o.ID] = o
	b.active++
	b.logger.Debug("offer_added",
		zap.Uint64("id", uint64(o.ID)),
		zap.Stringer("owner", owner),
		zap.Stringer("price", price),
		zap.Stringer("quantity", quantity))
	return o.ID, nil
}

// owned returns the live offer id, checking it belongs to caller.
func (b *Book) owned(caller common.Address, id core.OrderID) (*Offer, error) {
	o, ok := b.offers[id]
	if !ok || !o.Active {
		return nil, fmt.Errorf("offer %d: %w", id, core.ErrOrderNotFound)
	}
	if o.Owner != caller {
		return nil, fmt.Errorf("offer %d owned by %s: %w", id, o.Owner.Hex(), core.ErrUnauthorized)
	}
	return o, nil
}

// Change reprices an offer. Only the owner may call.
func (b *Book) Change(caller common.Address, id core.OrderID, newPrice *uint256.Int) error {
	if err := b.phase.Require(phase.Offer); err != nil {
		return err
	}
	if !core.Positive(newPrice) {
		return fmt.Errorf("change offer %d: %w", id, core.ErrInvalidAmount)
	}
	o, err := b.owned(caller, id)
	if err != nil {
		return err
	}
	o.Price = core.Clone(newPrice)
	b.logger.Debug("offer_changed", zap.Uint64("id", uint64(id)), zap.Stringer("price", newPrice))
	return nil
}

// Remove deactivates an offer. Escrow is untouched since offers never
// reserve funds.
func (b *Book) Remove(caller common.Address, id core.OrderID) error {
	if err := b.phase.Require(phase.Offer); err != nil {
		return err
	}
	o, err := b.owned(caller, id)
	if err != nil {
		return err
	}
	b.deactivate(o)
	b.logger.Debug("offer_removed", zap.Uint64("id", uint64(id)))
	return nil
}

func (b *Book) deactivate(o *Offer) {
	if o.Active {
		o.Active = false
		b.active--
	}
}

// Get returns a copy of the offer, active or not.
func (b *Book) Get(id core.OrderID) (Offer, error) {
	o, ok := b.offers[id]
	if !ok {
		return Offer{}, fmt.Errorf("offer %d: %w", id, core.ErrOrderNotFound)
	}
	return o.clone(), nil
}

// Count is the number of active offers.
func (b *Book) Count() int { return b.active }

// Last is the most recently assigned offer id, 0 before the first.
func (b *Book) Last() core.OrderID { return b.last }

// Matchable returns the active offers with remaining quantity, ascending by
// price with earlier ids first on ties.
func (b *Book) Matchable() []Offer {
	out := make([]Offer, 0, b.active)
	for _, o := range b.offers {
		if o.Active && !o.Remaining.IsZero() {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Price.Cmp(out[j].Price); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Fill consumes quantity from an offer and deactivates it at zero.
func (b *Book) Fill(id core.OrderID, quantity *uint256.Int) error {
	o, ok := b.offers[id]
	if !ok || !o.Active {
		return fmt.Errorf("fill offer %d: %w", id, core.ErrOrderNotFound)
	}
	if o.Remaining.Lt(quantity) {
		return fmt.Errorf("fill offer %d: %s exceeds remaining %s: %w", id, quantity, o.Remaining, core.ErrInvalidAmount)
	}
	o.Remaining.Sub(o.Remaining, quantity)
	if o.Remaining.IsZero() {
		b.deactivate(o)
	}
	return nil
}

// All returns every offer in id order.
func (b *Book) All() []Offer {
	out := make([]Offer, 0, len(b.offers))
	for id := core.OrderID(1); id <= b.last; id++ {
		if o, ok := b.offers[id]; ok {
			out = append(out, o.clone())
		}
	}
	return out
}

// Restore replaces the book's contents.
func (b *Book) Restore(offers []Offer, last core.OrderID) {
	b.offers = make(map[core.OrderID]*Offer, len(offers))
	b.active = 0
	b.last = last
	for _, o := range offers {
		c := o.clone()
		b.offers[c.ID] = &c
		if c.Active {
			b.active++
		}
	}
}
