package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dutchmarket/pkg/sequencer"
)

// Key schema for Pebble storage
//
// Chain keys:
//   h:<8-byte-height>     → Block (gob)
//   head                  → committed height
//
// State keys (rewritten as a whole on every snapshot):
//   meta:venue            → phase, counters, round, height, app hash
//   bal:<address>:<asset> → escrow entry
//   off:<id>              → offer
//   bid:<id>              → bid
//   tok:<address>         → token ledger
//   bank                  → native bank ledger
//   nonce:<address>       → accepted nonce window
//
// History keys (append only):
//   fill:<round>:<seq>    → fill
//   rcpt:<tx hash>        → receipt

const (
	prefixBlock   = "h:"
	prefixBalance = "bal:"
	prefixOffer   = "off:"
	prefixBid     = "bid:"
	prefixToken   = "tok:"
	prefixNonce   = "nonce:"
	prefixFill    = "fill:"
	prefixReceipt = "rcpt:"
)

var stateKeyPrefixes = []string{prefixBalance, prefixOffer, prefixBid, prefixToken, prefixNonce}

func kBlock(h sequencer.Height) []byte { return append([]byte(prefixBlock), heightKey(h)...) }
func kHead() []byte                    { return []byte("head") }
func kMeta() []byte                    { return []byte("meta:venue") }
func kBank() []byte                    { return []byte("bank") }

// balanceKey returns the key for an escrow entry
// Format: "bal:{address}:{asset}"
func balanceKey(addr common.Address, asset string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, addr.Hex(), asset))
}

// offerKey and bidKey zero-pad the id (20 digits) for lexicographic order.
func offerKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOffer, id))
}

func bidKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBid, id))
}

func tokenKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixToken, addr.Hex()))
}

func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

// fillKey returns the key for a fill
// Format: "fill:{round}:{seq}"
func fillKey(round uint64, seq int) []byte {
	return []byte(fmt.Sprintf("%s%020d:%06d", prefixFill, round, seq))
}

func receiptKey(hash common.Hash) []byte {
	return []byte(prefixReceipt + hash.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
