package transaction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/crypto"
)

// TxType names the venue operation a transaction invokes.
type TxType string

const (
	TxSetPhase       TxType = "set_phase"
	TxDepositNative  TxType = "deposit_native" // carries Value
	TxWithdrawNative TxType = "withdraw_native"
	TxDepositToken   TxType = "deposit_token"
	TxWithdrawToken  TxType = "withdraw_token"
	TxAddOffer       TxType = "add_offer"
	TxChangeOffer    TxType = "change_offer"
	TxRemoveOffer    TxType = "remove_offer"
	TxAddBid         TxType = "add_bid"
	TxRevealBid      TxType = "reveal_bid"
	TxRemoveBid      TxType = "remove_bid"
	TxMatch          TxType = "match"
)

// IsCancel reports whether t withdraws an order.
func (t TxType) IsCancel() bool {
	return t == TxRemoveOffer || t == TxRemoveBid
}

// IsOperator reports whether t is subject to operator policy.
func (t TxType) IsOperator() bool {
	return t == TxSetPhase || t == TxMatch
}

// SignedTransaction is the envelope for every venue operation. From is the
// caller identity; the EIP-712 signature over (type, from, nonce, body hash)
// must recover to it.
type SignedTransaction struct {
	Type  TxType `json:"type"`
	From  string `json:"from"`
	Nonce uint64 `json:"nonce"`

	Value string        `json:"value,omitempty"`
	Phase *PhasePayload `json:"phase,omitempty"`
	Funds *FundsPayload `json:"funds,omitempty"`
	Offer *OfferPayload `json:"offer,omitempty"`
	Bid   *BidPayload   `json:"bid,omitempty"`

	Signature string `json:"signature"`
}

type PhasePayload struct {
	Phase string `json:"phase"` // name or 0..3
}

// FundsPayload is used by withdraw_native (Amount only) and the token
// deposit/withdraw operations.
type FundsPayload struct {
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount"`
}

// OfferPayload: add_offer uses Token/Price/Quantity, change_offer ID/Price,
// remove_offer ID.
type OfferPayload struct {
	ID       uint64 `json:"id,omitempty"`
	Token    string `json:"token,omitempty"`
	Price    string `json:"price,omitempty"`
	Quantity string `json:"quantity,omitempty"`
}

// BidPayload: add_bid uses Commitment/Signature, reveal_bid
// ID/Token/Price/Quantity/Commitment, remove_bid ID.
type BidPayload struct {
	ID         uint64 `json:"id,omitempty"`
	Commitment string `json:"commitment,omitempty"`
	Signature  string `json:"signature,omitempty"`
	Token      string `json:"token,omitempty"`
	Price      string `json:"price,omitempty"`
	Quantity   string `json:"quantity,omitempty"`
}

// ParseAmount accepts a decimal or 0x-prefixed hex amount.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("missing amount: %w", core.ErrInvalidAmount)
	}
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") {
		v, err = uint256.FromHex(s)
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return nil, fmt.Errorf("amount %q: %v: %w", s, err, core.ErrInvalidAmount)
	}
	return v, nil
}

// ParseAddress requires a 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(b), nil
}

// Sender returns the parsed From address.
func (tx *SignedTransaction) Sender() (common.Address, error) {
	return ParseAddress(tx.From)
}

// AttachedValue is the native value moved into custody with a deposit_native.
func (tx *SignedTransaction) AttachedValue() (*uint256.Int, error) {
	return ParseAmount(tx.Value)
}

func (p *PhasePayload) Parse() (phase.Phase, error) {
	return phase.Parse(p.Phase)
}

func (p *FundsPayload) TokenAddress() (common.Address, error) { return ParseAddress(p.Token) }
func (p *FundsPayload) ParsedAmount() (*uint256.Int, error)   { return ParseAmount(p.Amount) }

func (p *OfferPayload) OrderID() core.OrderID                 { return core.OrderID(p.ID) }
func (p *OfferPayload) TokenAddress() (common.Address, error) { return ParseAddress(p.Token) }
func (p *OfferPayload) ParsedPrice() (*uint256.Int, error)    { return ParseAmount(p.Price) }
func (p *OfferPayload) ParsedQuantity() (*uint256.Int, error) { return ParseAmount(p.Quantity) }

func (p *BidPayload) OrderID() core.OrderID                 { return core.OrderID(p.ID) }
func (p *BidPayload) TokenAddress() (common.Address, error) { return ParseAddress(p.Token) }
func (p *BidPayload) ParsedPrice() (*uint256.Int, error)    { return ParseAmount(p.Price) }
func (p *BidPayload) ParsedQuantity() (*uint256.Int, error) { return ParseAmount(p.Quantity) }
func (p *BidPayload) CommitmentHash() (common.Hash, error)  { return parseHash(p.Commitment) }
func (p *BidPayload) AgentSignature() ([]byte, error)       { return crypto.DecodeSignature(p.Signature) }

// BodyHash is keccak256 of the canonical JSON of the operation's payload.
func (tx *SignedTransaction) BodyHash() (common.Hash, error) {
	body, err := json.Marshal(struct {
		Value string        `json:"value,omitempty"`
		Phase *PhasePayload `json:"phase,omitempty"`
		Funds *FundsPayload `json:"funds,omitempty"`
		Offer *OfferPayload `json:"offer,omitempty"`
		Bid   *BidPayload   `json:"bid,omitempty"`
	}{tx.Value, tx.Phase, tx.Funds, tx.Offer, tx.Bid})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode body: %w", err)
	}
	return ethcrypto.Keccak256Hash(body), nil
}

// Action is the typed-data envelope the sender signs.
func (tx *SignedTransaction) Action() (*crypto.ActionEIP712, error) {
	from, err := tx.Sender()
	if err != nil {
		return nil, err
	}
	body, err := tx.BodyHash()
	if err != nil {
		return nil, err
	}
	return &crypto.ActionEIP712{Kind: string(tx.Type), From: from, Nonce: tx.Nonce, Body: body}, nil
}

// Sign sets From to the signer's address and fills in Signature.
func (tx *SignedTransaction) Sign(e *crypto.EIP712Signer, key *crypto.Signer) error {
	tx.From = key.Address().Hex()
	action, err := tx.Action()
	if err != nil {
		return err
	}
	sig, err := e.SignAction(key, action)
	if err != nil {
		return err
	}
	tx.Signature = "0x" + common.Bytes2Hex(sig)
	return nil
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Hash identifies a transaction: keccak256 of its serialized form.
func (tx *SignedTransaction) Hash() (common.Hash, error) {
	b, err := tx.Serialize()
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(b), nil
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate checks that the envelope is well formed and carries the payload
// its type needs. It does not check the signature.
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if _, err := tx.Sender(); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}

	switch tx.Type {
	case TxSetPhase:
		if tx.Phase == nil {
			return fmt.Errorf("set_phase requires phase payload")
		}
		if _, err := tx.Phase.Parse(); err != nil {
			return err
		}

	case TxDepositNative:
		if _, err := tx.AttachedValue(); err != nil {
			return fmt.Errorf("deposit_native value: %w", err)
		}

	case TxWithdrawNative:
		if tx.Funds == nil {
			return fmt.Errorf("withdraw_native requires funds payload")
		}
		if _, err := tx.Funds.ParsedAmount(); err != nil {
			return err
		}

	case TxDepositToken, TxWithdrawToken:
		if tx.Funds == nil {
			return fmt.Errorf("%s requires funds payload", tx.Type)
		}
		if _, err := tx.Funds.TokenAddress(); err != nil {
			return err
		}
		if _, err := tx.Funds.ParsedAmount(); err != nil {
			return err
		}

	case TxAddOffer:
		if tx.Offer == nil {
			return fmt.Errorf("add_offer requires offer payload")
		}
		if _, err := tx.Offer.TokenAddress(); err != nil {
			return err
		}
		if _, err := tx.Offer.ParsedPrice(); err != nil {
			return err
		}
		if _, err := tx.Offer.ParsedQuantity(); err != nil {
			return err
		}

	case TxChangeOffer:
		if tx.Offer == nil || tx.Offer.ID == 0 {
			return fmt.Errorf("change_offer requires offer id")
		}
		if _, err := tx.Offer.ParsedPrice(); err != nil {
			return err
		}

	case TxRemoveOffer:
		if tx.Offer == nil || tx.Offer.ID == 0 {
			return fmt.Errorf("remove_offer requires offer id")
		}

	case TxAddBid:
		if tx.Bid == nil {
			return fmt.Errorf("add_bid requires bid payload")
		}
		if _, err := tx.Bid.CommitmentHash(); err != nil {
			return err
		}
		if _, err := tx.Bid.AgentSignature(); err != nil {
			return err
		}

	case TxRevealBid:
		if tx.Bid == nil || tx.Bid.ID == 0 {
			return fmt.Errorf("reveal_bid requires bid id")
		}
		if _, err := tx.Bid.TokenAddress(); err != nil {
			return err
		}
		if _, err := tx.Bid.ParsedPrice(); err != nil {
			return err
		}
		if _, err := tx.Bid.ParsedQuantity(); err != nil {
			return err
		}
		if _, err := tx.Bid.CommitmentHash(); err != nil {
			return err
		}

	case TxRemoveBid:
		if tx.Bid == nil || tx.Bid.ID == 0 {
			return fmt.Errorf("remove_bid requires bid id")
		}

	case TxMatch:

	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}

	return nil
}

// ParseTransaction decodes and validates a raw transaction.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Example:
//   {
//     "type": "reveal_bid",
//     "from": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//     "nonce": 3,
//     "bid": {
//       "id": 1,
//       "token": "0x...",
//       "price": "2000000000000000000",
//       "quantity": "5000000000000000000",
//       "commitment": "0x..."
//     },
//     "signature": "0x..."
//   }
