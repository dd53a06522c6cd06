package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var commitmentArgs abi.Arguments

func init() {
	mustType := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("abi type %s: %v", t, err))
		}
		return typ
	}
	commitmentArgs = abi.Arguments{
		{Name: "token", Type: mustType("address")},
		{Name: "price", Type: mustType("uint256")},
		{Name: "quantity", Type: mustType("uint256")},
		{Name: "buyer", Type: mustType("bytes32")},
	}
}

// CommitmentHash binds a bid's hidden terms to the buyer that will reveal it:
//
//	keccak256(abi.encode(address token, uint256 price, uint256 quantity, bytes32 buyer))
//
// where buyer is the 20-byte address left-padded to 32 bytes.
func CommitmentHash(token common.Address, price, quantity *uint256.Int, buyer common.Address) common.Hash {
	packed, err := commitmentArgs.Pack(token, price.ToBig(), quantity.ToBig(), [32]byte(common.BytesToHash(buyer.Bytes())))
	if err != nil {
		// Only reachable if the argument types above are changed.
		panic(fmt.Sprintf("pack commitment: %v", err))
	}
	return crypto.Keccak256Hash(packed)
}
