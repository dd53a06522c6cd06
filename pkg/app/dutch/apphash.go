package dutch

import (
	"encoding/binary"
	"hash"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/token"
)

// computeStateHash is keccak256 over the whole application state in a fixed
// order:
//
//  1. height
//  2. phase, last offer id, last bid id, matching round
//  3. escrow balances (account, then native before tokens)
//  4. offers and bids by id
//  5. native bank, then token ledgers by symbol
//  6. nonce windows by account
func (a *App) computeStateHash(height int64) common.Hash {
	h := sha3.NewLegacyKeccak256()
	st := a.venue.State()

	writeUint(h, uint64(height))
	writeUint(h, uint64(st.Phase))
	writeUint(h, uint64(st.LastOffer))
	writeUint(h, uint64(st.LastBid))
	writeUint(h, st.Round)

	writeUint(h, uint64(len(st.Balances)))
	for _, e := range st.Balances {
		h.Write(e.Account[:])
		h.Write([]byte(e.Asset.String()))
		writeAmount(h, e.Amount)
	}

	writeUint(h, uint64(len(st.Offers)))
	for _, o := range st.Offers {
		writeUint(h, uint64(o.ID))
		h.Write(o.Owner[:])
		h.Write(o.Token[:])
		writeAmount(h, o.Price)
		writeAmount(h, o.Remaining)
		writeBool(h, o.Active)
	}

	writeUint(h, uint64(len(st.Bids)))
	for _, b := range st.Bids {
		writeUint(h, uint64(b.ID))
		h.Write(b.Agent[:])
		h.Write(b.Commitment[:])
		h.Write(b.Signature)
		writeBool(h, b.Revealed)
		h.Write(b.Buyer[:])
		h.Write(b.Token[:])
		writeAmount(h, b.Price)
		writeAmount(h, b.Quantity)
		writeAmount(h, b.Filled)
	}

	writeLedger(h, a.bank.Export())
	writeUint(h, a.tokens.Nonce())
	for _, t := range a.tokens.All() {
		writeLedger(h, t.Export())
	}

	for _, addr := range a.nonces.sortedAccounts() {
		h.Write(addr[:])
		for _, n := range a.nonces.used[addr] {
			writeUint(h, n)
		}
	}

	var out common.Hash
	h.Sum(out[:0])
	return out
}

func writeLedger(h hash.Hash, st token.State) {
	h.Write(st.Address[:])
	h.Write([]byte(st.Symbol))
	writeUint(h, uint64(len(st.Holdings)))
	for _, hold := range st.Holdings {
		h.Write(hold.Owner[:])
		writeAmount(h, hold.Amount)
	}
	writeUint(h, uint64(len(st.Approvals)))
	for _, ap := range st.Approvals {
		h.Write(ap.Owner[:])
		h.Write(ap.Spender[:])
		writeAmount(h, ap.Amount)
	}
}

func writeUint(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

func writeAmount(h hash.Hash, v *uint256.Int) {
	b := core.Clone(v).Bytes32()
	h.Write(b[:])
}

func writeBool(h hash.Hash, v bool) {
	if v {
		h.Write([]byte{1})
		return
	}
	h.Write([]byte{0})
}
