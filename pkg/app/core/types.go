// Package core holds the types and error kinds shared by the venue's
// phase, escrow, book and matching packages.
package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OrderID identifies an offer or a bid. Ids start at 1 and are never reused.
type OrderID uint64

// Asset is either the native asset or a fungible token identified by its address.
type Asset struct {
	Native bool           `json:"native,omitempty"`
	Token  common.Address `json:"token"`
}

// NativeAsset is the chain's own value-bearing asset.
var NativeAsset = Asset{Native: true}

// TokenAsset returns the asset for the token at addr.
func TokenAsset(addr common.Address) Asset {
	return Asset{Token: addr}
}

func (a Asset) String() string {
	if a.Native {
		return "native"
	}
	return a.Token.Hex()
}

// Clone returns a copy of v, or zero when v is nil.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// Positive reports whether v is non-nil and greater than zero.
func Positive(v *uint256.Int) bool {
	return v != nil && !v.IsZero()
}
