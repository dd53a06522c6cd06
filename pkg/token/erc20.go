// Package token is an in-process fungible-token ledger with ERC-20 transfer,
// transferFrom and allowance semantics. The node uses it for devnet tokens
// and for the native-asset bank.
package token

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds     = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
)

// MaxAllowance is never decremented by TransferFrom.
var MaxAllowance = new(uint256.Int).SetAllOne()

type ERC20 struct {
	mu         sync.RWMutex
	address    common.Address
	symbol     string
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

func NewERC20(address common.Address, symbol string) *ERC20 {
	return &ERC20{
		address:    address,
		symbol:     symbol,
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (t *ERC20) Address() common.Address { return t.address }
func (t *ERC20) Symbol() string          { return t.symbol }

func (t *ERC20) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(uint256.Int).Set(t.supply)
}

func (t *ERC20) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceOf(owner)
}

func (t *ERC20) balanceOf(owner common.Address) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// Mint creates amount new units for to.
func (t *ERC20) Mint(to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(t.supply, amount)
	if overflow {
		return fmt.Errorf("mint %s %s: supply overflow", amount, t.symbol)
	}
	t.supply = supply
	t.add(to, amount)
	return nil
}

func (t *ERC20) Transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfer(from, to, amount)
}

func (t *ERC20) transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%s transfer: %w", t.symbol, ErrZeroAddress)
	}
	have := t.balanceOf(from)
	if have.Lt(amount) {
		return fmt.Errorf("%s transfer: %w: have %s, need %s", t.symbol, ErrInsufficientFunds, have, amount)
	}
	t.balances[from] = have.Sub(have, amount)
	t.add(to, amount)
	return nil
}

func (t *ERC20) add(to common.Address, amount *uint256.Int) {
	b := t.balanceOf(to)
	t.balances[to] = b.Add(b, amount)
}

func (t *ERC20) Approve(owner, spender common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = m
	}
	m[spender] = new(uint256.Int).Set(amount)
}

func (t *ERC20) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

// TransferFrom moves amount from from to to on behalf of spender, consuming
// allowance. Nothing changes when either the allowance or the balance is short.
func (t *ERC20) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := new(uint256.Int)
	if a, ok := t.allowances[from][spender]; ok {
		allowed.Set(a)
	}
	if allowed.Lt(amount) {
		return fmt.Errorf("%s transferFrom: %w: have %s, need %s", t.symbol, ErrInsufficientAllowance, allowed, amount)
	}
	if err := t.transfer(from, to, amount); err != nil {
		return err
	}
	if !allowed.Eq(MaxAllowance) {
		t.allowances[from][spender] = allowed.Sub(allowed, amount)
	}
	return nil
}

// Holding is one account's balance.
type Holding struct {
	Owner  common.Address `json:"owner"`
	Amount *uint256.Int   `json:"amount"`
}

// Approval is one owner→spender allowance.
type Approval struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// State is a serializable copy of a token ledger.
type State struct {
	Address   common.Address `json:"address"`
	Symbol    string         `json:"symbol"`
	Holdings  []Holding      `json:"holdings"`
	Approvals []Approval     `json:"approvals"`
}

// Export returns the token's state with holdings and approvals sorted by address.
func (t *ERC20) Export() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := State{Address: t.address, Symbol: t.symbol}
	for owner, bal := range t.balances {
		if bal.IsZero() {
			continue
		}
		st.Holdings = append(st.Holdings, Holding{Owner: owner, Amount: new(uint256.Int).Set(bal)})
	}
	for owner, m := range t.allowances {
		for spender, amt := range m {
			if amt.IsZero() {
				continue
			}
			st.Approvals = append(st.Approvals, Approval{Owner: owner, Spender: spender, Amount: new(uint256.Int).Set(amt)})
		}
	}
	sort.Slice(st.Holdings, func(i, j int) bool {
		return bytes.Compare(st.Holdings[i].Owner[:], st.Holdings[j].Owner[:]) < 0
	})
	sort.Slice(st.Approvals, func(i, j int) bool {
		if c := bytes.Compare(st.Approvals[i].Owner[:], st.Approvals[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(st.Approvals[i].Spender[:], st.Approvals[j].Spender[:]) < 0
	})
	return st
}

// Import rebuilds a token from an exported state.
func Import(st State) *ERC20 {
	t := NewERC20(st.Address, st.Symbol)
	t.Load(st)
	return t
}

// Load replaces the holdings and approvals with those in st. The address
// and symbol are kept.
func (t *ERC20) Load(st State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.supply = new(uint256.Int)
	t.balances = make(map[common.Address]*uint256.Int)
	t.allowances = make(map[common.Address]map[common.Address]*uint256.Int)
	for _, h := range st.Holdings {
		t.add(h.Owner, h.Amount)
		t.supply.Add(t.supply, h.Amount)
	}
	for _, a := range st.Approvals {
		m, ok := t.allowances[a.Owner]
		if !ok {
			m = make(map[common.Address]*uint256.Int)
			t.allowances[a.Owner] = m
		}
		m[a.Spender] = new(uint256.Int).Set(a.Amount)
	}
}
