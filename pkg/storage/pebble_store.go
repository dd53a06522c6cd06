package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dutchmarket/pkg/abci"
	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/bidbook"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/matching"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/offerbook"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/venue"
	"github.com/uhyunpark/dutchmarket/pkg/sequencer"
	"github.com/uhyunpark/dutchmarket/pkg/token"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}
func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) SaveBlock(b sequencer.Block) error {
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	return s.db.Set(kBlock(b.Height), val, pebble.Sync)
}

func (s *PebbleStore) GetBlock(h sequencer.Height) (sequencer.Block, bool) {
	val, closer, err := s.db.Get(kBlock(h))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return sequencer.Block{}, false
		}
		panic(err)
	}
	defer closer.Close()
	var out sequencer.Block
	if err := decodeGob(val, &out); err != nil {
		panic(err)
	}
	return out, true
}

func (s *PebbleStore) SetHead(h sequencer.Height) error {
	return s.db.Set(kHead(), heightKey(h), pebble.Sync)
}

func (s *PebbleStore) Head() (sequencer.Height, bool) {
	val, closer, err := s.db.Get(kHead())
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false
		}
		panic(err)
	}
	defer closer.Close()
	return decodeHeight(val), true
}

var _ sequencer.BlockStore = (*PebbleStore)(nil)

// ============================================================================
// Application state
// ============================================================================

// Snapshot is the complete application state after a committed block.
type Snapshot struct {
	Height        int64
	AppHash       common.Hash
	Venue         venue.State
	Bank          token.State
	Tokens        []token.State
	RegistryNonce uint64
	Nonces        map[common.Address][]uint64
}

type venueMeta struct {
	Height        int64        `json:"height"`
	AppHash       common.Hash  `json:"appHash"`
	Phase         phase.Phase  `json:"phase"`
	LastOffer     core.OrderID `json:"lastOffer"`
	LastBid       core.OrderID `json:"lastBid"`
	Round         uint64       `json:"round"`
	RegistryNonce uint64       `json:"registryNonce"`
}

// Commit is everything one block writes.
type Commit struct {
	Snapshot Snapshot
	Fills    []matching.Fill
	Receipts []abci.ExecTxResult
}

// SaveCommit replaces the stored state with c.Snapshot and appends the
// block's fills and receipts in a single synced batch.
func (s *PebbleStore) SaveCommit(c Commit) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, p := range stateKeyPrefixes {
		prefix := []byte(p)
		if err := b.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
			return fmt.Errorf("clear %s: %w", p, err)
		}
	}

	snap := c.Snapshot
	meta := venueMeta{
		Height:        snap.Height,
		AppHash:       snap.AppHash,
		Phase:         snap.Venue.Phase,
		LastOffer:     snap.Venue.LastOffer,
		LastBid:       snap.Venue.LastBid,
		Round:         snap.Venue.Round,
		RegistryNonce: snap.RegistryNonce,
	}
	if err := setJSON(b, kMeta(), meta); err != nil {
		return err
	}
	for _, e := range snap.Venue.Balances {
		if err := setJSON(b, balanceKey(e.Account, e.Asset.String()), e); err != nil {
			return err
		}
	}
	for _, o := range snap.Venue.Offers {
		if err := setJSON(b, offerKey(uint64(o.ID)), o); err != nil {
			return err
		}
	}
	for _, bid := range snap.Venue.Bids {
		if err := setJSON(b, bidKey(uint64(bid.ID)), bid); err != nil {
			return err
		}
	}
	for _, t := range snap.Tokens {
		if err := setJSON(b, tokenKey(t.Address), t); err != nil {
			return err
		}
	}
	if err := setJSON(b, kBank(), snap.Bank); err != nil {
		return err
	}
	for addr, window := range snap.Nonces {
		if err := setJSON(b, nonceKey(addr), window); err != nil {
			return err
		}
	}

	for _, f := range c.Fills {
		if err := setJSON(b, fillKey(f.Round, f.Seq), f); err != nil {
			return err
		}
	}
	for _, r := range c.Receipts {
		if err := setJSON(b, receiptKey(r.Hash), r); err != nil {
			return err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// LoadSnapshot reads the stored state. It reports false on a fresh store.
func (s *PebbleStore) LoadSnapshot() (Snapshot, bool, error) {
	var meta venueMeta
	found, err := s.getJSON(kMeta(), &meta)
	if err != nil || !found {
		return Snapshot{}, false, err
	}
	snap := Snapshot{
		Height:        meta.Height,
		AppHash:       meta.AppHash,
		RegistryNonce: meta.RegistryNonce,
		Venue: venue.State{
			Phase:     meta.Phase,
			LastOffer: meta.LastOffer,
			LastBid:   meta.LastBid,
			Round:     meta.Round,
		},
		Nonces: make(map[common.Address][]uint64),
	}

	if err := scanJSON(s.db, prefixBalance, func(_ []byte, v []byte) error {
		var e escrow.Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		snap.Venue.Balances = append(snap.Venue.Balances, e)
		return nil
	}); err != nil {
		return Snapshot{}, false, fmt.Errorf("load balances: %w", err)
	}
	if err := scanJSON(s.db, prefixOffer, func(_ []byte, v []byte) error {
		var o offerbook.Offer
		if err := json.Unmarshal(v, &o); err != nil {
			return err
		}
		snap.Venue.Offers = append(snap.Venue.Offers, o)
		return nil
	}); err != nil {
		return Snapshot{}, false, fmt.Errorf("load offers: %w", err)
	}
	if err := scanJSON(s.db, prefixBid, func(_ []byte, v []byte) error {
		var b bidbook.Bid
		if err := json.Unmarshal(v, &b); err != nil {
			return err
		}
		snap.Venue.Bids = append(snap.Venue.Bids, b)
		return nil
	}); err != nil {
		return Snapshot{}, false, fmt.Errorf("load bids: %w", err)
	}
	if err := scanJSON(s.db, prefixToken, func(_ []byte, v []byte) error {
		var t token.State
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		snap.Tokens = append(snap.Tokens, t)
		return nil
	}); err != nil {
		return Snapshot{}, false, fmt.Errorf("load tokens: %w", err)
	}
	if err := scanJSON(s.db, prefixNonce, func(k []byte, v []byte) error {
		var window []uint64
		if err := json.Unmarshal(v, &window); err != nil {
			return err
		}
		addr := string(k[len(prefixNonce):])
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("bad nonce key %q", k)
		}
		snap.Nonces[common.HexToAddress(addr)] = window
		return nil
	}); err != nil {
		return Snapshot{}, false, fmt.Errorf("load nonces: %w", err)
	}
	if _, err := s.getJSON(kBank(), &snap.Bank); err != nil {
		return Snapshot{}, false, fmt.Errorf("load bank: %w", err)
	}
	return snap, true, nil
}

// LoadRecentFills returns up to limit fills, newest first.
func (s *PebbleStore) LoadRecentFills(limit int) ([]matching.Fill, error) {
	prefix := []byte(prefixFill)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var fills []matching.Fill
	for iter.Last(); iter.Valid() && len(fills) < limit; iter.Prev() {
		var f matching.Fill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			continue // Skip invalid entries
		}
		fills = append(fills, f)
	}
	return fills, nil
}

// GetReceipt loads the receipt of an executed transaction.
func (s *PebbleStore) GetReceipt(hash common.Hash) (abci.ExecTxResult, bool, error) {
	var r abci.ExecTxResult
	found, err := s.getJSON(receiptKey(hash), &r)
	return r, found, err
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.Set(key, data, nil)
}

func (s *PebbleStore) getJSON(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func scanJSON(db *pebble.DB, prefix string, fn func(key, value []byte) error) error {
	p := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
