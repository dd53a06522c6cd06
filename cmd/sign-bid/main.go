package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/dutchmarket/pkg/crypto"
)

type options struct {
	AgentKey    string `short:"a" long:"agent-key" description:"Hex private key of the agent submitting the sealed bid (random if empty)"`
	BuyerKey    string `short:"b" long:"buyer-key" description:"Hex private key of the buyer the bid is committed for (random if empty)"`
	Token       string `short:"t" long:"token" required:"true" description:"Token address the bid is for"`
	Price       string `short:"p" long:"price" required:"true" description:"Limit price in native base units per whole token"`
	Quantity    string `short:"q" long:"quantity" required:"true" description:"Quantity in token base units"`
	Nonce       uint64 `short:"n" long:"nonce" default:"1" description:"Agent nonce for the add_bid transaction"`
	RevealID    uint64 `long:"reveal-id" description:"Bid id to reveal; emits a signed reveal_bid when set"`
	RevealNonce uint64 `long:"reveal-nonce" default:"1" description:"Buyer nonce for the reveal_bid transaction"`
	ChainID     int64  `long:"chainid" default:"1337" description:"Chain id of the signing domain"`
}

type output struct {
	Agent      string                         `json:"agent"`
	Buyer      string                         `json:"buyer"`
	Commitment string                         `json:"commitment"`
	AgentSig   string                         `json:"agentSignature"`
	AddBid     *transaction.SignedTransaction `json:"addBid"`
	RevealBid  *transaction.SignedTransaction `json:"revealBid,omitempty"`
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "sign-bid: %v\n", err)
		os.Exit(1)
	}
}

func loadKey(hexKey string) (*crypto.Signer, error) {
	if hexKey == "" {
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(hexKey)
}

func run(opts options) error {
	agent, err := loadKey(opts.AgentKey)
	if err != nil {
		return fmt.Errorf("agent key: %w", err)
	}
	buyer, err := loadKey(opts.BuyerKey)
	if err != nil {
		return fmt.Errorf("buyer key: %w", err)
	}
	token, err := transaction.ParseAddress(opts.Token)
	if err != nil {
		return err
	}
	price, err := transaction.ParseAmount(opts.Price)
	if err != nil {
		return err
	}
	qty, err := transaction.ParseAmount(opts.Quantity)
	if err != nil {
		return err
	}

	// The agent signs the sealed commitment; the buyer later opens it.
	commitment := crypto.CommitmentHash(token, price, qty, buyer.Address())
	sig, err := agent.SignPersonal(commitment)
	if err != nil {
		return fmt.Errorf("sign commitment: %w", err)
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(opts.ChainID)
	eip := crypto.NewEIP712Signer(domain)

	out := output{
		Agent:      agent.Address().Hex(),
		Buyer:      buyer.Address().Hex(),
		Commitment: commitment.Hex(),
		AgentSig:   hexutil.Encode(sig),
		AddBid:     transaction.NewAddBid(opts.Nonce, commitment, sig),
	}
	if err := out.AddBid.Sign(eip, agent); err != nil {
		return fmt.Errorf("sign add_bid: %w", err)
	}
	if opts.RevealID != 0 {
		out.RevealBid = transaction.NewRevealBid(opts.RevealNonce, core.OrderID(opts.RevealID), token, price, qty, commitment)
		if err := out.RevealBid.Sign(eip, buyer); err != nil {
			return fmt.Errorf("sign reveal_bid: %w", err)
		}
	}

	if opts.AgentKey == "" || opts.BuyerKey == "" {
		fmt.Fprintf(os.Stderr, "generated keys: agent=%s buyer=%s (KEEP SECRET!)\n", agent.PrivateKeyHex(), buyer.PrivateKeyHex())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
