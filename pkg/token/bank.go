package token

import "github.com/ethereum/go-ethereum/common"

const NativeSymbol = "NATIVE"

// NewBank returns the native-asset bank: a ledger at the zero address that
// holds every account's native balance outside the venue.
func NewBank() *ERC20 {
	return NewERC20(common.Address{}, NativeSymbol)
}
