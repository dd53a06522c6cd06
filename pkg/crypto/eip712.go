package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/venues
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // Custody address (or zero for off-chain)
}

// ActionEIP712 is the typed envelope a caller signs to submit any venue
// operation. Body is keccak256 of the operation's canonical JSON payload.
type ActionEIP712 struct {
	Kind  string
	From  common.Address
	Nonce uint64
	Body  common.Hash
}

// EIP712Signer hashes and signs venue actions under one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the default EIP-712 domain for DutchMarket
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "DutchMarket",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// Domain returns a copy of the signer's domain.
func (e *EIP712Signer) Domain() EIP712Domain {
	return e.domain
}

var actionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Action": []apitypes.Type{
		{Name: "kind", Type: "string"},
		{Name: "from", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "body", Type: "bytes32"},
	},
}

func (e *EIP712Signer) typedData(action *ActionEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       actionTypes,
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":  action.Kind,
			"from":  action.From.Hex(),
			"nonce": fmt.Sprintf("%d", action.Nonce),
			"body":  action.Body.Hex(),
		},
	}
}

// HashAction returns the EIP-712 digest of an action.
func (e *EIP712Signer) HashAction(action *ActionEIP712) ([]byte, error) {
	typedData := e.typedData(action)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256(rawData), nil
}

func (e *EIP712Signer) SignAction(signer *Signer, action *ActionEIP712) ([]byte, error) {
	hash, err := e.HashAction(action)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign action: %w", err)
	}
	return signature, nil
}

// VerifyAction reports whether signature was produced by action.From.
func (e *EIP712Signer) VerifyAction(action *ActionEIP712, signature []byte) (bool, error) {
	hash, err := e.HashAction(action)
	if err != nil {
		return false, fmt.Errorf("failed to hash action: %w", err)
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == action.From, nil
}

// ActionToJSON renders the typed data in the eth_signTypedData_v4 shape wallets accept.
func (e *EIP712Signer) ActionToJSON(action *ActionEIP712) (string, error) {
	typedData := e.typedData(action)
	out, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}
