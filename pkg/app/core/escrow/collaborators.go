package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is the capability the ledger needs from a fungible-token
// collaborator. Calls may fail; a failed call must leave the token's own
// bookkeeping unchanged.
type Token interface {
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
	Transfer(from, to common.Address, amount *uint256.Int) error
	Allowance(owner, spender common.Address) *uint256.Int
}

// TokenRegistry resolves a token address to its collaborator.
type TokenRegistry interface {
	Lookup(addr common.Address) (Token, bool)
}

// NativeBank moves the native asset. Inbound native value arrives attached to
// the call, so the ledger only ever pays out through it.
type NativeBank interface {
	Transfer(from, to common.Address, amount *uint256.Int) error
}
