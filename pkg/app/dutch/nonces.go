package dutch

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
)

// nonceWindow is how many of an account's highest nonces are remembered.
// A nonce is accepted when it is unused and above the lowest remembered one
// once the window is full, so a client may keep several transactions in
// flight and skip a nonce it never submitted.
const nonceWindow = 20

type nonceTracker struct {
	used map[common.Address][]uint64 // ascending
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{used: make(map[common.Address][]uint64)}
}

func (n *nonceTracker) check(addr common.Address, nonce uint64) error {
	if nonce == 0 {
		return fmt.Errorf("nonce must be positive: %w", core.ErrStaleNonce)
	}
	w := n.used[addr]
	if len(w) == nonceWindow && nonce <= w[0] {
		return fmt.Errorf("nonce %d below window floor %d: %w", nonce, w[0], core.ErrStaleNonce)
	}
	i := sort.Search(len(w), func(i int) bool { return w[i] >= nonce })
	if i < len(w) && w[i] == nonce {
		return fmt.Errorf("nonce %d already used: %w", nonce, core.ErrStaleNonce)
	}
	return nil
}

// use records nonce. Callers check first.
func (n *nonceTracker) use(addr common.Address, nonce uint64) {
	w := n.used[addr]
	i := sort.Search(len(w), func(i int) bool { return w[i] >= nonce })
	w = append(w, 0)
	copy(w[i+1:], w[i:])
	w[i] = nonce
	if len(w) > nonceWindow {
		w = w[len(w)-nonceWindow:]
	}
	n.used[addr] = w
}

// highest returns the largest nonce used by addr, 0 if none.
func (n *nonceTracker) highest(addr common.Address) uint64 {
	w := n.used[addr]
	if len(w) == 0 {
		return 0
	}
	return w[len(w)-1]
}

func (n *nonceTracker) export() map[common.Address][]uint64 {
	out := make(map[common.Address][]uint64, len(n.used))
	for addr, w := range n.used {
		out[addr] = append([]uint64(nil), w...)
	}
	return out
}

func (n *nonceTracker) load(m map[common.Address][]uint64) {
	n.used = make(map[common.Address][]uint64, len(m))
	for addr, w := range m {
		cp := append([]uint64(nil), w...)
		sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
		n.used[addr] = cp
	}
}

// sortedAccounts lists the tracked accounts in address order.
func (n *nonceTracker) sortedAccounts() []common.Address {
	out := make([]common.Address, 0, len(n.used))
	for addr := range n.used {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
