package token

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Deployer is the notional creator of every registry token; token addresses
// are derived from it and the deployment count like contract addresses.
var Deployer = common.HexToAddress("0x00000000000000000000000000000000000D0000")

// Registry holds the deployed tokens by address.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*ERC20
	nonce  uint64
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]*ERC20)}
}

// Deploy creates a new token with a fresh address.
func (r *Registry) Deploy(symbol string) (*ERC20, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("token symbol is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	addr := crypto.CreateAddress(Deployer, r.nonce)
	r.nonce++
	t := NewERC20(addr, symbol)
	r.tokens[addr] = t
	return t, nil
}

// Add registers an existing token, replacing any token at the same address.
func (r *Registry) Add(t *ERC20) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Address()] = t
}

func (r *Registry) Get(addr common.Address) (*ERC20, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	return t, ok
}

// All returns the tokens sorted by symbol, then address.
func (r *Registry) All() []*ERC20 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ERC20, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol() != out[j].Symbol() {
			return out[i].Symbol() < out[j].Symbol()
		}
		return out[i].Address().Hex() < out[j].Address().Hex()
	})
	return out
}

// Nonce is the number of tokens deployed so far.
func (r *Registry) Nonce() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nonce
}

// SetNonce restores the deployment counter after a restart.
func (r *Registry) SetNonce(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nonce = n
}
