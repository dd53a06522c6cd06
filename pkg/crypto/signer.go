package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R || S || V] secp256k1 signature.
const SignatureLength = crypto.SignatureLength

// Signer manages a secp256k1 key pair (Ethereum-compatible).
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a new random secp256k1 key pair
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey), nil
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key.
// Format: "0x1234..." or "1234..." (64 hex chars)
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey), nil
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex string (WITHOUT 0x prefix)
// WARNING: never log this.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte digest and returns [R || S || V] with V in {0, 1}.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return signature, nil
}

// SignPersonal produces an eth_sign style signature over a 32-byte hash:
// the hash is wrapped in the "\x19Ethereum Signed Message:\n32" prefix and V
// is returned as 27/28, which is what wallets emit.
func (s *Signer) SignPersonal(hash common.Hash) ([]byte, error) {
	sig, err := s.Sign(PersonalHash(hash))
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// PersonalHash returns keccak256("\x19Ethereum Signed Message:\n32" || hash).
func PersonalHash(hash common.Hash) []byte {
	return accounts.TextHash(hash.Bytes())
}

// RecoverAddress recovers the signer's address from a digest and a signature.
// V may be 0/1 or 27/28.
func RecoverAddress(hash []byte, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	publicKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}

// VerifySignature reports whether signature over hash was produced by address.
func VerifySignature(address common.Address, hash []byte, signature []byte) bool {
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false
	}
	return recovered == address
}

// PersonalVerifier checks eth_sign signatures over commitment hashes.
type PersonalVerifier struct{}

// Verify reports whether sig is the personal-message signature of digest by signer.
func (PersonalVerifier) Verify(signer common.Address, digest common.Hash, sig []byte) bool {
	return VerifySignature(signer, PersonalHash(digest), sig)
}

// DecodeSignature parses a 0x-prefixed (or bare) hex signature.
func DecodeSignature(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	return sig, nil
}
