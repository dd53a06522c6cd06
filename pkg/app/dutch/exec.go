package dutch

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/abci"
	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/matching"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/transaction"
)

// execTx applies one raw transaction. Signature, nonce and operator checks
// run before any state changes; once they pass the nonce is consumed even
// if the operation itself fails.
func (a *App) execTx(height int64, raw []byte) (abci.ExecTxResult, *matching.Result) {
	res := abci.ExecTxResult{Height: height, Hash: ethcrypto.Keccak256Hash(raw)}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return a.fail(res, err), nil
	}
	if h, err := tx.Hash(); err == nil {
		res.Hash = h
	}
	res.Type = string(tx.Type)

	from, err := a.verifier.Verify(tx)
	if err != nil {
		return a.fail(res, err), nil
	}
	res.From = from
	if err := a.admit(tx, from); err != nil {
		return a.fail(res, err), nil
	}
	a.nonces.use(from, tx.Nonce)

	id, matched, err := a.dispatch(tx, from)
	if err != nil {
		return a.fail(res, err), nil
	}
	res.OK = true
	res.ID = id
	if matched != nil {
		res.Fills = len(matched.Fills)
		res.Skipped = len(matched.Skipped)
	}
	a.logger.Debug("tx_executed",
		zap.Int64("height", height),
		zap.String("hash", res.Hash.Hex()),
		zap.String("type", res.Type),
		zap.String("from", from.Hex()),
		zap.Uint64("id", id),
	)
	return res, matched
}

func (a *App) fail(res abci.ExecTxResult, err error) abci.ExecTxResult {
	res.OK = false
	res.Kind = core.Kind(err)
	res.Log = err.Error()
	a.logger.Info("tx_failed",
		zap.Int64("height", res.Height),
		zap.String("hash", res.Hash.Hex()),
		zap.String("type", res.Type),
		zap.String("kind", res.Kind),
		zap.Error(err),
	)
	return res
}

// dispatch invokes the venue operation named by tx with from as the caller.
// Payload fields were checked by Validate, so parse errors here are not
// expected.
func (a *App) dispatch(tx *transaction.SignedTransaction, from common.Address) (uint64, *matching.Result, error) {
	switch tx.Type {
	case transaction.TxSetPhase:
		p, err := tx.Phase.Parse()
		if err != nil {
			return 0, nil, err
		}
		return 0, nil, a.venue.SetPhase(p)

	case transaction.TxDepositNative:
		value, err := tx.AttachedValue()
		if err != nil {
			return 0, nil, err
		}
		return 0, nil, a.depositNative(from, value)

	case transaction.TxWithdrawNative:
		amount, err := tx.Funds.ParsedAmount()
		if err != nil {
			return 0, nil, err
		}
		return 0, nil, a.venue.WithdrawNative(from, amount)

	case transaction.TxDepositToken, transaction.TxWithdrawToken:
		tok, err := tx.Funds.TokenAddress()
		if err != nil {
			return 0, nil, err
		}
		amount, err := tx.Funds.ParsedAmount()
		if err != nil {
			return 0, nil, err
		}
		if tx.Type == transaction.TxDepositToken {
			return 0, nil, a.venue.DepositToken(from, tok, amount)
		}
		return 0, nil, a.venue.WithdrawToken(from, tok, amount)

	case transaction.TxAddOffer:
		tok, err := tx.Offer.TokenAddress()
		if err != nil {
			return 0, nil, err
		}
		price, err := tx.Offer.ParsedPrice()
		if err != nil {
			return 0, nil, err
		}
		qty, err := tx.Offer.ParsedQuantity()
		if err != nil {
			return 0, nil, err
		}
		id, err := a.venue.AddOffer(from, tok, price, qty)
		return uint64(id), nil, err

	case transaction.TxChangeOffer:
		price, err := tx.Offer.ParsedPrice()
		if err != nil {
			return 0, nil, err
		}
		return uint64(tx.Offer.ID), nil, a.venue.ChangeOffer(from, tx.Offer.OrderID(), price)

	case transaction.TxRemoveOffer:
		return uint64(tx.Offer.ID), nil, a.venue.RemoveOffer(from, tx.Offer.OrderID())

	case transaction.TxAddBid:
		commitment, err := tx.Bid.CommitmentHash()
		if err != nil {
			return 0, nil, err
		}
		sig, err := tx.Bid.AgentSignature()
		if err != nil {
			return 0, nil, err
		}
		id, err := a.venue.AddBid(from, commitment, sig)
		return uint64(id), nil, err

	case transaction.TxRevealBid:
		tok, err := tx.Bid.TokenAddress()
		if err != nil {
			return 0, nil, err
		}
		price, err := tx.Bid.ParsedPrice()
		if err != nil {
			return 0, nil, err
		}
		qty, err := tx.Bid.ParsedQuantity()
		if err != nil {
			return 0, nil, err
		}
		claimed, err := tx.Bid.CommitmentHash()
		if err != nil {
			return 0, nil, err
		}
		return uint64(tx.Bid.ID), nil, a.venue.RevealBid(from, tx.Bid.OrderID(), tok, price, qty, claimed)

	case transaction.TxRemoveBid:
		return uint64(tx.Bid.ID), nil, a.venue.RemoveBid(from, tx.Bid.OrderID())

	case transaction.TxMatch:
		result, err := a.venue.MatchOrders()
		if err != nil {
			return 0, nil, err
		}
		return result.Round, &result, nil

	default:
		return 0, nil, fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
}

// depositNative moves the attached value from the sender's bank balance into
// custody and credits the ledger. The bank transfer is undone when the
// ledger refuses the credit.
func (a *App) depositNative(from common.Address, value *uint256.Int) error {
	if err := a.bank.Transfer(from, Custody, value); err != nil {
		return fmt.Errorf("attach value: %v: %w", err, core.ErrTransferFailed)
	}
	if err := a.venue.DepositNative(from, value); err != nil {
		if rerr := a.bank.Transfer(Custody, from, value); rerr != nil {
			a.logger.Error("attached_value_refund_failed", zap.String("from", from.Hex()), zap.Error(rerr))
		}
		return err
	}
	return nil
}
