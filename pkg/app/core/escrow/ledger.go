// Package escrow keeps per-account, per-asset balances of funds the venue
// holds in custody.
package escrow

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/util"
)

// Ledger is not safe for concurrent use; the execution environment applies
// one operation at a time.
type Ledger struct {
	phase   *phase.Controller
	tokens  TokenRegistry
	native  NativeBank
	custody common.Address

	balances map[common.Address]map[core.Asset]*uint256.Int
	totals   map[core.Asset]*uint256.Int

	logger *zap.Logger
}

// NewLedger creates a ledger holding custody at address custody.
func NewLedger(pc *phase.Controller, tokens TokenRegistry, native NativeBank, custody common.Address, logger *zap.Logger) *Ledger {
	return &Ledger{
		phase:    pc,
		tokens:   tokens,
		native:   native,
		custody:  custody,
		balances: make(map[common.Address]map[core.Asset]*uint256.Int),
		totals:   make(map[core.Asset]*uint256.Int),
		logger:   util.OrNop(logger),
	}
}

// Custody is the address that holds all escrowed funds with the collaborators.
func (l *Ledger) Custody() common.Address {
	return l.custody
}

// DepositNative credits amount, which the environment has already moved
// into custody as the call's attached value.
func (l *Ledger) DepositNative(account common.Address, amount *uint256.Int) error {
	if err := l.phase.Require(phase.Deposit); err != nil {
		return err
	}
	if !core.Positive(amount) {
		return fmt.Errorf("deposit native: %w", core.ErrInvalidAmount)
	}
	if err := l.credit(account, core.NativeAsset, amount); err != nil {
		return fmt.Errorf("deposit native: %w", err)
	}
	l.logger.Debug("deposit_native", zap.Stringer("account", account), zap.Stringer("amount", amount))
	return nil
}

// WithdrawNative debits the balance before paying out. A failed payout
// restores the debit.
func (l *Ledger) WithdrawNative(account common.Address, amount *uint256.Int) error {
	if err := l.phase.Require(phase.Deposit); err != nil {
		return err
	}
	if !core.Positive(amount) {
		return fmt.Errorf("withdraw native: %w", core.ErrInvalidAmount)
	}
	if err := l.debit(account, core.NativeAsset, amount); err != nil {
		return fmt.Errorf("withdraw native: %w", err)
	}
	if err := l.native.Transfer(l.custody, account, amount); err != nil {
		l.mustCredit(account, core.NativeAsset, amount)
		return fmt.Errorf("withdraw native: %w: %v", core.ErrTransferFailed, err)
	}
	l.logger.Debug("withdraw_native", zap.Stringer("account", account), zap.Stringer("amount", amount))
	return nil
}

// DepositToken pulls amount from account using its allowance to the
// custody address, then credits it.
func (l *Ledger) DepositToken(account, token common.Address, amount *uint256.Int) error {
	if err := l.phase.Require(phase.Deposit); err != nil {
		return err
	}
	if !core.Positive(amount) {
		return fmt.Errorf("deposit token: %w", core.ErrInvalidAmount)
	}
	tok, ok := l.tokens.Lookup(token)
	if !ok {
		return fmt.Errorf("deposit token %s: %w", token.Hex(), core.ErrUnknownToken)
	}
	asset := core.TokenAsset(token)
	if err := l.checkCredit(asset, amount); err != nil {
		return fmt.Errorf("deposit token: %w", err)
	}
	if allowance := core.Clone(tok.Allowance(account, l.custody)); allowance.Lt(amount) {
		return fmt.Errorf("deposit token: %w: allowance %s below %s", core.ErrTransferFailed, allowance, amount)
	}
	if err := tok.TransferFrom(l.custody, account, l.custody, amount); err != nil {
		return fmt.Errorf("deposit token: %w: %v", core.ErrTransferFailed, err)
	}
	l.mustCredit(account, asset, amount)
	l.logger.Debug("deposit_token", zap.Stringer("account", account), zap.Stringer("token", token), zap.Stringer("amount", amount))
	return nil
}

// WithdrawToken debits the balance before transferring out. A failed
// transfer restores the debit.
func (l *Ledger) WithdrawToken(account, token common.Address, amount *uint256.Int) error {
	if err := l.phase.Require(phase.Deposit); err != nil {
		return err
	}
	if !core.Positive(amount) {
		return fmt.Errorf("withdraw token: %w", core.ErrInvalidAmount)
	}
	tok, ok := l.tokens.Lookup(token)
	if !ok {
		return fmt.Errorf("withdraw token %s: %w", token.Hex(), core.ErrUnknownToken)
	}
	asset := core.TokenAsset(token)
	if err := l.debit(account, asset, amount); err != nil {
		return fmt.Errorf("withdraw token: %w", err)
	}
	if err := tok.Transfer(l.custody, account, amount); err != nil {
		l.mustCredit(account, asset, amount)
		return fmt.Errorf("withdraw token: %w: %v", core.ErrTransferFailed, err)
	}
	l.logger.Debug("withdraw_token", zap.Stringer("account", account), zap.Stringer("token", token), zap.Stringer("amount", amount))
	return nil
}

// Balance returns a copy of the account's balance of asset. Unknown
// accounts read as zero.
func (l *Ledger) Balance(account common.Address, asset core.Asset) *uint256.Int {
	if bal, ok := l.balances[account][asset]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// Total returns the amount of asset the ledger custodies across all accounts.
func (l *Ledger) Total(asset core.Asset) *uint256.Int {
	return core.Clone(l.totals[asset])
}

// Settlement is one fill's four-leg transfer: Cost native from buyer to
// seller and Quantity of Token from seller to buyer.
type Settlement struct {
	Buyer    common.Address
	Seller   common.Address
	Token    common.Address
	Quantity *uint256.Int
	Cost     *uint256.Int
}

// Settle applies s as one unit. Both legs are checked before either is
// applied; on ErrInsufficientBalance nothing changes.
func (l *Ledger) Settle(s Settlement) error {
	token := core.TokenAsset(s.Token)
	if have := l.Balance(s.Buyer, core.NativeAsset); have.Lt(s.Cost) {
		return fmt.Errorf("buyer %s: %w: have %s, need %s", s.Buyer.Hex(), core.ErrInsufficientBalance, have, s.Cost)
	}
	if have := l.Balance(s.Seller, token); have.Lt(s.Quantity) {
		return fmt.Errorf("seller %s: %w: have %s, need %s", s.Seller.Hex(), core.ErrInsufficientBalance, have, s.Quantity)
	}

	// Credits cannot overflow: each is bounded by the asset's total.
	l.mustDebit(s.Buyer, core.NativeAsset, s.Cost)
	l.mustCredit(s.Seller, core.NativeAsset, s.Cost)
	l.mustDebit(s.Seller, token, s.Quantity)
	l.mustCredit(s.Buyer, token, s.Quantity)
	return nil
}

func (l *Ledger) checkCredit(asset core.Asset, amount *uint256.Int) error {
	if _, overflow := new(uint256.Int).AddOverflow(core.Clone(l.totals[asset]), amount); overflow {
		return fmt.Errorf("%s total overflows: %w", asset, core.ErrInvalidAmount)
	}
	return nil
}

func (l *Ledger) credit(account common.Address, asset core.Asset, amount *uint256.Int) error {
	if err := l.checkCredit(asset, amount); err != nil {
		return err
	}
	l.mustCredit(account, asset, amount)
	return nil
}

func (l *Ledger) debit(account common.Address, asset core.Asset, amount *uint256.Int) error {
	if have := l.Balance(account, asset); have.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", core.ErrInsufficientBalance, have, amount)
	}
	l.mustDebit(account, asset, amount)
	return nil
}

// mustCredit adds to both the account and the asset total. Callers have
// already ruled out overflow.
func (l *Ledger) mustCredit(account common.Address, asset core.Asset, amount *uint256.Int) {
	acc, ok := l.balances[account]
	if !ok {
		acc = make(map[core.Asset]*uint256.Int)
		l.balances[account] = acc
	}
	bal, ok := acc[asset]
	if !ok {
		bal = new(uint256.Int)
		acc[asset] = bal
	}
	bal.Add(bal, amount)

	total, ok := l.totals[asset]
	if !ok {
		total = new(uint256.Int)
		l.totals[asset] = total
	}
	total.Add(total, amount)
}

func (l *Ledger) mustDebit(account common.Address, asset core.Asset, amount *uint256.Int) {
	bal := l.balances[account][asset]
	bal.Sub(bal, amount)
	total := l.totals[asset]
	total.Sub(total, amount)
}

// Entry is one non-zero (account, asset) balance.
type Entry struct {
	Account common.Address `json:"account"`
	Asset   core.Asset     `json:"asset"`
	Amount  *uint256.Int   `json:"amount"`
}

// Entries lists every non-zero balance ordered by account, then native
// before tokens, then token address.
func (l *Ledger) Entries() []Entry {
	var out []Entry
	for acc, assets := range l.balances {
		for asset, bal := range assets {
			if bal.IsZero() {
				continue
			}
			out = append(out, Entry{Account: acc, Asset: asset, Amount: new(uint256.Int).Set(bal)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Account[:], out[j].Account[:]); c != 0 {
			return c < 0
		}
		if out[i].Asset.Native != out[j].Asset.Native {
			return out[i].Asset.Native
		}
		return bytes.Compare(out[i].Asset.Token[:], out[j].Asset.Token[:]) < 0
	})
	return out
}

// Restore replaces all balances with entries and recomputes asset totals.
func (l *Ledger) Restore(entries []Entry) {
	l.balances = make(map[common.Address]map[core.Asset]*uint256.Int)
	l.totals = make(map[core.Asset]*uint256.Int)
	for _, e := range entries {
		l.mustCredit(e.Account, e.Asset, e.Amount)
	}
}

// CheckCustody verifies that each asset's total equals the sum of its
// account balances.
func (l *Ledger) CheckCustody() error {
	sums := make(map[core.Asset]*uint256.Int)
	for _, assets := range l.balances {
		for asset, bal := range assets {
			s, ok := sums[asset]
			if !ok {
				s = new(uint256.Int)
				sums[asset] = s
			}
			s.Add(s, bal)
		}
	}
	for asset, total := range l.totals {
		if !core.Clone(sums[asset]).Eq(total) {
			return fmt.Errorf("custody mismatch for %s: accounts hold %s, total %s", asset, core.Clone(sums[asset]), total)
		}
	}
	return nil
}
