package transaction

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/crypto"
)

var tok = common.HexToAddress("0x00000000000000000000000000000000000000a7")

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func signed(t *testing.T, tx *SignedTransaction) (*SignedTransaction, *crypto.Signer) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Sign(crypto.NewEIP712Signer(crypto.DefaultDomain()), key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tx, key
}

func TestSignVerifyAllTypes(t *testing.T) {
	agent, _ := crypto.GenerateKey()
	commitment := crypto.CommitmentHash(tok, u(2), u(5), common.HexToAddress("0xB1"))
	agentSig, _ := agent.SignPersonal(commitment)

	txs := []*SignedTransaction{
		NewSetPhase(1, phase.Bid),
		NewDepositNative(1, u(10)),
		NewWithdrawNative(1, u(10)),
		NewDepositToken(1, tok, u(10)),
		NewWithdrawToken(1, tok, u(10)),
		NewAddOffer(1, tok, u(2), u(10)),
		NewChangeOffer(1, 3, u(4)),
		NewRemoveOffer(1, 3),
		NewAddBid(1, commitment, agentSig),
		NewRevealBid(1, 1, tok, u(2), u(5), commitment),
		NewRemoveBid(1, 1),
		NewMatch(1),
	}
	v := NewVerifier(crypto.DefaultDomain())
	for _, tx := range txs {
		t.Run(string(tx.Type), func(t *testing.T) {
			tx, key := signed(t, tx)
			raw, err := tx.Serialize()
			if err != nil {
				t.Fatal(err)
			}
			parsed, err := ParseTransaction(raw)
			if err != nil {
				t.Fatalf("ParseTransaction: %v", err)
			}
			from, err := v.Verify(parsed)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if from != key.Address() {
				t.Errorf("sender = %s, want %s", from.Hex(), key.Address().Hex())
			}
		})
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	v := NewVerifier(crypto.DefaultDomain())

	tests := []struct {
		name   string
		mutate func(tx *SignedTransaction)
	}{
		{"nonce", func(tx *SignedTransaction) { tx.Nonce++ }},
		{"price", func(tx *SignedTransaction) { tx.Offer.Price = "3" }},
		{"type", func(tx *SignedTransaction) { tx.Type = TxChangeOffer }},
		{"from", func(tx *SignedTransaction) { tx.From = common.HexToAddress("0x1").Hex() }},
		{"signature", func(tx *SignedTransaction) { tx.Signature = "0x1234" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, _ := signed(t, NewAddOffer(1, tok, u(2), u(10)))
			tt.mutate(tx)
			if _, err := v.Verify(tx); !errors.Is(err, core.ErrInvalidSignature) {
				t.Errorf("err = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestVerifyRejectsOtherDomain(t *testing.T) {
	tx, _ := signed(t, NewMatch(1))
	d := crypto.DefaultDomain()
	d.Name = "Elsewhere"
	if _, err := NewVerifier(d).Verify(tx); !errors.Is(err, core.ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestValidate(t *testing.T) {
	from := common.HexToAddress("0x1").Hex()
	tests := []struct {
		name    string
		tx      SignedTransaction
		wantErr string
	}{
		{"missing type", SignedTransaction{From: from, Signature: "0x1"}, "missing transaction type"},
		{"bad from", SignedTransaction{Type: TxMatch, From: "bob", Signature: "0x1"}, "from"},
		{"missing signature", SignedTransaction{Type: TxMatch, From: from}, "missing signature"},
		{"unknown type", SignedTransaction{Type: "mint", From: from, Signature: "0x1"}, "unknown transaction type"},
		{"set_phase no payload", SignedTransaction{Type: TxSetPhase, From: from, Signature: "0x1"}, "phase payload"},
		{"set_phase bad phase", SignedTransaction{Type: TxSetPhase, From: from, Signature: "0x1", Phase: &PhasePayload{"closing"}}, "unknown phase"},
		{"deposit_native no value", SignedTransaction{Type: TxDepositNative, From: from, Signature: "0x1"}, "value"},
		{"deposit_token bad token", SignedTransaction{Type: TxDepositToken, From: from, Signature: "0x1", Funds: &FundsPayload{Token: "x", Amount: "1"}}, "invalid address"},
		{"add_offer bad price", SignedTransaction{Type: TxAddOffer, From: from, Signature: "0x1", Offer: &OfferPayload{Token: tok.Hex(), Price: "1.5", Quantity: "1"}}, "amount"},
		{"remove_offer no id", SignedTransaction{Type: TxRemoveOffer, From: from, Signature: "0x1", Offer: &OfferPayload{}}, "offer id"},
		{"add_bid short hash", SignedTransaction{Type: TxAddBid, From: from, Signature: "0x1", Bid: &BidPayload{Commitment: "0x12"}}, "invalid hash"},
		{"remove_bid no payload", SignedTransaction{Type: TxRemoveBid, From: from, Signature: "0x1"}, "bid id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"10", 10, true},
		{"0x10", 16, true},
		{" 7 ", 7, true},
		{"", 0, false},
		{"-1", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseAmount(%q) err = %v", tt.in, err)
			continue
		}
		if tt.ok && got.Uint64() != tt.want {
			t.Errorf("ParseAmount(%q) = %s, want %d", tt.in, got, tt.want)
		}
		if !tt.ok && !errors.Is(err, core.ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q) err kind = %s", tt.in, core.Kind(err))
		}
	}
}

func TestOperatorAndCancelClasses(t *testing.T) {
	if !TxSetPhase.IsOperator() || !TxMatch.IsOperator() || TxAddBid.IsOperator() {
		t.Error("IsOperator classification wrong")
	}
	if !TxRemoveOffer.IsCancel() || !TxRemoveBid.IsCancel() || TxChangeOffer.IsCancel() {
		t.Error("IsCancel classification wrong")
	}
}
