package transaction

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
)

// Constructors for unsigned transactions. From and Signature are filled by Sign.

func NewSetPhase(nonce uint64, p phase.Phase) *SignedTransaction {
	return &SignedTransaction{Type: TxSetPhase, Nonce: nonce, Phase: &PhasePayload{Phase: p.String()}}
}

func NewDepositNative(nonce uint64, value *uint256.Int) *SignedTransaction {
	return &SignedTransaction{Type: TxDepositNative, Nonce: nonce, Value: value.Dec()}
}

func NewWithdrawNative(nonce uint64, amount *uint256.Int) *SignedTransaction {
	return &SignedTransaction{Type: TxWithdrawNative, Nonce: nonce, Funds: &FundsPayload{Amount: amount.Dec()}}
}

func NewDepositToken(nonce uint64, token common.Address, amount *uint256.Int) *SignedTransaction {
	return &SignedTransaction{Type: TxDepositToken, Nonce: nonce, Funds: &FundsPayload{Token: token.Hex(), Amount: amount.Dec()}}
}

func NewWithdrawToken(nonce uint64, token common.Address, amount *uint256.Int) *SignedTransaction {
	return &SignedTransaction{Type: TxWithdrawToken, Nonce: nonce, Funds: &FundsPayload{Token: token.Hex(), Amount: amount.Dec()}}
}

func NewAddOffer(nonce uint64, token common.Address, price, quantity *uint256.Int) *SignedTransaction {
	return &SignedTransaction{Type: TxAddOffer, Nonce: nonce, Offer: &OfferPayload{
		Token:    token.Hex(),
		Price:    price.Dec(),
		Quantity: quantity.Dec(),
	}}
}

func NewChangeOffer(nonce uint64, id core.OrderID, price *uint256.Int) *SignedTransaction {
	return &SignedTransaction{Type: TxChangeOffer, Nonce: nonce, Offer: &OfferPayload{ID: uint64(id), Price: price.Dec()}}
}

func NewRemoveOffer(nonce uint64, id core.OrderID) *SignedTransaction {
	return &SignedTransaction{Type: TxRemoveOffer, Nonce: nonce, Offer: &OfferPayload{ID: uint64(id)}}
}

func NewAddBid(nonce uint64, commitment common.Hash, agentSig []byte) *SignedTransaction {
	return &SignedTransaction{Type: TxAddBid, Nonce: nonce, Bid: &BidPayload{
		Commitment: commitment.Hex(),
		Signature:  "0x" + common.Bytes2Hex(agentSig),
	}}
}

func NewRevealBid(nonce uint64, id core.OrderID, token common.Address, price, quantity *uint256.Int, commitment common.Hash) *SignedTransaction {
	return &SignedTransaction{Type: TxRevealBid, Nonce: nonce, Bid: &BidPayload{
		ID:         uint64(id),
		Token:      token.Hex(),
		Price:      price.Dec(),
		Quantity:   quantity.Dec(),
		Commitment: commitment.Hex(),
	}}
}

func NewRemoveBid(nonce uint64, id core.OrderID) *SignedTransaction {
	return &SignedTransaction{Type: TxRemoveBid, Nonce: nonce, Bid: &BidPayload{ID: uint64(id)}}
}

func NewMatch(nonce uint64) *SignedTransaction {
	return &SignedTransaction{Type: TxMatch, Nonce: nonce}
}
