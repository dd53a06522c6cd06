package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("FromPrivateKeyHex(%q): %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("dutch"))

	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("signature length = %d, want %d", len(sig), SignatureLength)
	}

	got, err := RecoverAddress(hash, sig)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}

	// Wallet-style V (27/28) recovers to the same address.
	sig[64] += 27
	if !VerifySignature(signer.Address(), hash, sig) {
		t.Error("VerifySignature failed with V+27")
	}
}

func TestSignRejectsBadHash(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error for short hash")
	}
}

func TestVerifySignatureRejects(t *testing.T) {
	signer, _ := GenerateKey()
	other, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("x"))
	sig, _ := signer.Sign(hash)

	tests := []struct {
		name string
		addr common.Address
		hash []byte
		sig  []byte
	}{
		{"wrong signer", other.Address(), hash, sig},
		{"wrong hash", signer.Address(), eth_crypto.Keccak256([]byte("y")), sig},
		{"short sig", signer.Address(), hash, sig[:64]},
		{"short hash", signer.Address(), hash[:31], sig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(tt.addr, tt.hash, tt.sig) {
				t.Error("VerifySignature = true, want false")
			}
		})
	}
}

func TestPersonalVerifier(t *testing.T) {
	agent, _ := GenerateKey()
	other, _ := GenerateKey()
	digest := eth_crypto.Keccak256Hash([]byte("commitment"))

	sig, err := agent.SignPersonal(digest)
	if err != nil {
		t.Fatalf("SignPersonal: %v", err)
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Errorf("V = %d, want 27 or 28", v)
	}

	var v PersonalVerifier
	if !v.Verify(agent.Address(), digest, sig) {
		t.Error("Verify(agent) = false")
	}
	if v.Verify(other.Address(), digest, sig) {
		t.Error("Verify(other) = true")
	}
	// A raw signature over the digest is not a personal-message signature.
	raw, _ := agent.Sign(digest.Bytes())
	if v.Verify(agent.Address(), digest, raw) {
		t.Error("Verify accepted an unprefixed signature")
	}
}

func TestDecodeSignature(t *testing.T) {
	signer, _ := GenerateKey()
	sig, _ := signer.Sign(eth_crypto.Keccak256([]byte("z")))
	hexSig := common.Bytes2Hex(sig)

	for _, in := range []string{hexSig, "0x" + hexSig} {
		got, err := DecodeSignature(in)
		if err != nil {
			t.Fatalf("DecodeSignature(%q): %v", in, err)
		}
		if common.Bytes2Hex(got) != hexSig {
			t.Error("decoded signature mismatch")
		}
	}
	if _, err := DecodeSignature("0x1234"); err == nil {
		t.Error("expected length error")
	}
	if _, err := DecodeSignature("0xzz"); err == nil {
		t.Error("expected hex error")
	}
}
