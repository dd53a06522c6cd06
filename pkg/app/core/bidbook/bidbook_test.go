package bidbook

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"pgregory.net/rapid"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/crypto"
)

var (
	tok   = common.HexToAddress("0x70")
	buyer = common.HexToAddress("0xB1")
	other = common.HexToAddress("0x0E")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

type harness struct {
	book  *Book
	pc    *phase.Controller
	agent *crypto.Signer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	agent, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	pc := phase.NewController()
	_ = pc.Set(phase.Bid)
	return &harness{book: New(pc, crypto.PersonalVerifier{}, nil), pc: pc, agent: agent}
}

// commit has the agent sign a commitment for buyer and submits it.
func (h *harness) commit(t *testing.T, price, qty uint64, forBuyer common.Address) (core.OrderID, common.Hash) {
	t.Helper()
	hash := crypto.CommitmentHash(tok, u(price), u(qty), forBuyer)
	sig, err := h.agent.SignPersonal(hash)
	if err != nil {
		t.Fatal(err)
	}
	id, err := h.book.Add(h.agent.Address(), hash, sig)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return id, hash
}

func TestAddHidesTerms(t *testing.T) {
	h := newHarness(t)
	id, hash := h.commit(t, 2, 5, buyer)
	if id != 1 || h.book.Last() != 1 || h.book.Count() != 1 {
		t.Fatalf("id = %d, Last = %d, Count = %d", id, h.book.Last(), h.book.Count())
	}
	bid, err := h.book.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if bid.Revealed || !bid.Price.IsZero() || !bid.Quantity.IsZero() || bid.Buyer != (common.Address{}) {
		t.Errorf("unrevealed bid exposes terms: %+v", bid)
	}
	if bid.Commitment != hash || bid.Agent != h.agent.Address() {
		t.Errorf("bid = %+v", bid)
	}
	if len(h.book.Matchable()) != 0 {
		t.Error("unrevealed bid is matchable")
	}
}

func TestReveal(t *testing.T) {
	h := newHarness(t)
	id, hash := h.commit(t, 2, 5, buyer)

	if err := h.book.Reveal(buyer, id, tok, u(2), u(5), hash); err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	bid, _ := h.book.Get(id)
	if !bid.Revealed || bid.Buyer != buyer || bid.Price.Uint64() != 2 || bid.Quantity.Uint64() != 5 || bid.Token != tok {
		t.Errorf("revealed bid = %+v", bid)
	}
	if m := h.book.Matchable(); len(m) != 1 || m[0].ID != id {
		t.Errorf("Matchable = %+v", m)
	}
	if err := h.book.Reveal(buyer, id, tok, u(2), u(5), hash); !errors.Is(err, core.ErrAlreadyRevealed) {
		t.Errorf("second reveal err = %v", err)
	}
}

func TestRevealFailures(t *testing.T) {
	h := newHarness(t)
	id, hash := h.commit(t, 2, 5, buyer)

	stranger, _ := crypto.GenerateKey()
	forged := crypto.CommitmentHash(tok, u(2), u(5), buyer)
	badSig, _ := stranger.SignPersonal(forged)
	forgedID, _ := h.book.Add(h.agent.Address(), forged, badSig)

	tests := []struct {
		name   string
		caller common.Address
		id     core.OrderID
		token  common.Address
		price  uint64
		qty    uint64
		claim  common.Hash
		want   error
	}{
		{"wrong caller", other, id, tok, 2, 5, hash, core.ErrHashMismatch},
		{"wrong token", buyer, id, other, 2, 5, hash, core.ErrHashMismatch},
		{"wrong price", buyer, id, tok, 3, 5, hash, core.ErrHashMismatch},
		{"wrong quantity", buyer, id, tok, 2, 4, hash, core.ErrHashMismatch},
		{"wrong claimed hash", buyer, id, tok, 2, 5, common.HexToHash("0x01"), core.ErrHashMismatch},
		{"unknown bid", buyer, 42, tok, 2, 5, hash, core.ErrOrderNotFound},
		{"zero quantity", buyer, id, tok, 2, 0, hash, core.ErrInvalidAmount},
		{"signed by someone else", buyer, forgedID, tok, 2, 5, forged, core.ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.book.Reveal(tt.caller, tt.id, tt.token, u(tt.price), u(tt.qty), tt.claim)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if bid, _ := h.book.Get(id); bid.Revealed {
		t.Error("failed reveals changed the bid")
	}

	_ = h.pc.Set(phase.Matching)
	if err := h.book.Reveal(buyer, id, tok, u(2), u(5), hash); !errors.Is(err, core.ErrWrongPhase) {
		t.Errorf("reveal in matching err = %v", err)
	}
}

// Reveal succeeds only on the exact committed tuple.
func TestRevealExactMatchProperty(t *testing.T) {
	h := newHarness(t)
	rapid.Check(t, func(rt *rapid.T) {
		price := rapid.Uint64Range(1, 1000).Draw(rt, "price")
		qty := rapid.Uint64Range(1, 1000).Draw(rt, "qty")
		rPrice := rapid.Uint64Range(1, 1000).Draw(rt, "revealPrice")
		rQty := rapid.Uint64Range(1, 1000).Draw(rt, "revealQty")

		hash := crypto.CommitmentHash(tok, u(price), u(qty), buyer)
		sig, _ := h.agent.SignPersonal(hash)
		id, err := h.book.Add(h.agent.Address(), hash, sig)
		if err != nil {
			rt.Fatal(err)
		}
		claim := crypto.CommitmentHash(tok, u(rPrice), u(rQty), buyer)
		err = h.book.Reveal(buyer, id, tok, u(rPrice), u(rQty), claim)
		if price == rPrice && qty == rQty {
			if err != nil {
				rt.Fatalf("exact reveal failed: %v", err)
			}
		} else if !errors.Is(err, core.ErrHashMismatch) {
			rt.Fatalf("mismatched reveal err = %v", err)
		}
	})
}

func TestRemove(t *testing.T) {
	h := newHarness(t)
	id1, _ := h.commit(t, 1, 1, buyer)
	id2, hash2 := h.commit(t, 1, 1, buyer)

	if err := h.book.Remove(buyer, id1); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("buyer removing unrevealed bid err = %v", err)
	}
	if err := h.book.Remove(h.agent.Address(), id1); err != nil {
		t.Fatalf("agent Remove: %v", err)
	}
	if _, err := h.book.Get(id1); !errors.Is(err, core.ErrOrderNotFound) {
		t.Errorf("Get removed err = %v", err)
	}
	if err := h.book.Remove(h.agent.Address(), id1); !errors.Is(err, core.ErrOrderNotFound) {
		t.Errorf("second Remove err = %v", err)
	}

	_ = h.book.Reveal(buyer, id2, tok, u(1), u(1), hash2)
	if err := h.book.Remove(other, id2); !errors.Is(err, core.ErrUnauthorized) {
		t.Errorf("stranger Remove err = %v", err)
	}
	if err := h.book.Remove(buyer, id2); err != nil {
		t.Fatalf("buyer Remove: %v", err)
	}
	if h.book.Count() != 0 {
		t.Errorf("Count = %d, want 0", h.book.Count())
	}
	if h.book.Last() != 2 {
		t.Errorf("Last = %d, want 2", h.book.Last())
	}
}

func TestRemoveRejectsPartiallyFilledBid(t *testing.T) {
	h := newHarness(t)
	id, hash := h.commit(t, 2, 10, buyer)
	_ = h.book.Reveal(buyer, id, tok, u(2), u(10), hash)
	if err := h.book.Fill(id, u(3)); err != nil {
		t.Fatal(err)
	}

	for _, caller := range []common.Address{h.agent.Address(), buyer} {
		if err := h.book.Remove(caller, id); !errors.Is(err, core.ErrUnauthorized) {
			t.Errorf("Remove by %s err = %v, want ErrUnauthorized", caller, err)
		}
	}
	bid, err := h.book.Get(id)
	if err != nil || bid.Remaining().Uint64() != 7 {
		t.Fatalf("bid after rejected removal: %+v, %v", bid, err)
	}
	if len(h.book.Matchable()) != 1 {
		t.Error("partially filled bid should stay matchable")
	}
}

func TestFillDeletesExhaustedBid(t *testing.T) {
	h := newHarness(t)
	id, hash := h.commit(t, 2, 10, buyer)
	_ = h.book.Reveal(buyer, id, tok, u(2), u(10), hash)

	if err := h.book.Fill(id, u(4)); err != nil {
		t.Fatal(err)
	}
	bid, _ := h.book.Get(id)
	if bid.Remaining().Uint64() != 6 || bid.Quantity.Uint64() != 10 {
		t.Errorf("after partial fill: remaining %s, quantity %s", bid.Remaining(), bid.Quantity)
	}
	if err := h.book.Fill(id, u(7)); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("overfill err = %v", err)
	}
	if err := h.book.Fill(id, u(6)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.book.Get(id); !errors.Is(err, core.ErrOrderNotFound) {
		t.Error("exhausted bid still present")
	}
}

func TestRestore(t *testing.T) {
	h := newHarness(t)
	id, hash := h.commit(t, 3, 3, buyer)
	_ = h.book.Reveal(buyer, id, tok, u(3), u(3), hash)
	_, _ = h.commit(t, 1, 1, buyer)

	other := New(h.pc, crypto.PersonalVerifier{}, nil)
	other.Restore(h.book.All(), h.book.Last())
	if other.Count() != 2 || other.Last() != 2 {
		t.Fatalf("Count = %d, Last = %d", other.Count(), other.Last())
	}
	if m := other.Matchable(); len(m) != 1 || m[0].ID != id {
		t.Errorf("Matchable = %+v", m)
	}
}
