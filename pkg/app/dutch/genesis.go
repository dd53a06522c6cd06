package dutch

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/storage"
	"github.com/uhyunpark/dutchmarket/pkg/token"
)

// Genesis is the devnet starting state: one token, and each account funded
// in the bank and the token with an unlimited allowance to custody.
type Genesis struct {
	Accounts      []common.Address
	NativeFunding *uint256.Int
	TokenFunding  *uint256.Int
	TokenSymbol   string
}

// InitChain applies g to a fresh app and persists the result as height 0.
// It returns the deployed token's address, or the zero address when no
// token symbol is given.
func (a *App) InitChain(g Genesis) (common.Address, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.height != 0 || a.tokens.Nonce() != 0 {
		return common.Address{}, fmt.Errorf("chain already initialized at height %d", a.height)
	}

	var tok *token.ERC20
	if g.TokenSymbol != "" {
		var err error
		if tok, err = a.tokens.Deploy(g.TokenSymbol); err != nil {
			return common.Address{}, err
		}
	}

	for _, acc := range g.Accounts {
		if g.NativeFunding != nil && !g.NativeFunding.IsZero() {
			if err := a.bank.Mint(acc, g.NativeFunding); err != nil {
				return common.Address{}, fmt.Errorf("fund %s: %w", acc.Hex(), err)
			}
		}
		if tok == nil {
			continue
		}
		if g.TokenFunding != nil && !g.TokenFunding.IsZero() {
			if err := tok.Mint(acc, g.TokenFunding); err != nil {
				return common.Address{}, fmt.Errorf("fund %s: %w", acc.Hex(), err)
			}
		}
		tok.Approve(acc, Custody, token.MaxAllowance)
	}

	a.appHash = a.computeStateHash(0)
	if a.store != nil {
		if err := a.store.SaveCommit(storage.Commit{Snapshot: a.snapshot()}); err != nil {
			return common.Address{}, fmt.Errorf("persist genesis: %w", err)
		}
	}

	var addr common.Address
	if tok != nil {
		addr = tok.Address()
	}
	a.logger.Info("genesis",
		zap.Int("accounts", len(g.Accounts)),
		zap.String("token", addr.Hex()),
		zap.String("custody", Custody.Hex()),
		zap.String("apphash", a.appHash.Hex()),
	)
	return addr, nil
}
