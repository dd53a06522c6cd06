package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/crypto"
)

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify checks the envelope signature and returns the sender.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	action, err := tx.Action()
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid transaction: %w", err)
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	ok, err := v.eip712Signer.VerifyAction(action, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: not signed by %s", core.ErrInvalidSignature, action.From.Hex())
	}
	return action.From, nil
}
