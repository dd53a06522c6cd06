// Package dutch is the replicated venue application. It admits signed
// transactions into the mempool, executes committed blocks one transaction
// at a time against the venue, and persists the resulting state.
package dutch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/abci"
	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/bidbook"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/escrow"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/matching"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/mempool"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/offerbook"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/venue"
	"github.com/uhyunpark/dutchmarket/pkg/crypto"
	"github.com/uhyunpark/dutchmarket/pkg/storage"
	"github.com/uhyunpark/dutchmarket/pkg/token"
	"github.com/uhyunpark/dutchmarket/pkg/util"
)

// Custody is the venue's address with the token and native ledgers.
var Custody = common.BytesToAddress(ethcrypto.Keccak256([]byte("dutchmarket/custody"))[12:])

type Config struct {
	// Operator, when non-zero, is the only sender allowed set_phase and match.
	Operator       common.Address
	PriceScale     *uint256.Int
	SelfTradeGuard bool
	Domain         crypto.EIP712Domain
}

// Store persists committed state. A nil Store keeps everything in memory.
type Store interface {
	SaveCommit(c storage.Commit) error
	LoadSnapshot() (storage.Snapshot, bool, error)
	LoadRecentFills(limit int) ([]matching.Fill, error)
	GetReceipt(hash common.Hash) (abci.ExecTxResult, bool, error)
}

// Listeners are called after a block is committed, outside the app lock.
type Listeners struct {
	OnFills    func(fills []matching.Fill)
	OnPhase    func(p phase.Phase)
	OnReceipts func(height int64, receipts []abci.ExecTxResult)
}

type App struct {
	mu sync.RWMutex

	cfg      Config
	venue    *venue.Venue
	bank     *token.ERC20
	tokens   *token.Registry
	nonces   *nonceTracker
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	store    Store
	logger   *zap.Logger

	height  int64
	appHash common.Hash
	// halted holds the persist error that stopped block execution.
	halted error

	listeners Listeners
}

type tokenLookup struct{ reg *token.Registry }

func (l tokenLookup) Lookup(addr common.Address) (escrow.Token, bool) {
	t, ok := l.reg.Get(addr)
	if !ok {
		return nil, false
	}
	return t, true
}

func NewApp(cfg Config, store Store, logger *zap.Logger) *App {
	logger = util.OrNop(logger)
	if cfg.PriceScale == nil {
		cfg.PriceScale = uint256.NewInt(1)
	}
	if cfg.Domain.Name == "" {
		cfg.Domain = crypto.DefaultDomain()
	}
	bank := token.NewBank()
	tokens := token.NewRegistry()
	v := venue.New(venue.Config{
		Custody:        Custody,
		PriceScale:     cfg.PriceScale,
		SelfTradeGuard: cfg.SelfTradeGuard,
	}, venue.Deps{
		Tokens:   tokenLookup{tokens},
		Native:   bank,
		Verifier: crypto.PersonalVerifier{},
	}, logger.Named("venue"))

	return &App{
		cfg:      cfg,
		venue:    v,
		bank:     bank,
		tokens:   tokens,
		nonces:   newNonceTracker(),
		mempool:  mempool.NewMempool(),
		verifier: transaction.NewVerifier(cfg.Domain),
		store:    store,
		logger:   logger,
	}
}

// SetListeners replaces the commit listeners.
func (a *App) SetListeners(l Listeners) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = l
}

// Restore loads the last committed state from the store. It reports false
// when the store is empty.
func (a *App) Restore() (bool, error) {
	if a.store == nil {
		return false, nil
	}
	snap, ok, err := a.store.LoadSnapshot()
	if err != nil || !ok {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.venue.Restore(snap.Venue); err != nil {
		return false, fmt.Errorf("restore venue: %w", err)
	}
	a.bank.Load(snap.Bank)
	for _, st := range snap.Tokens {
		a.tokens.Add(token.Import(st))
	}
	a.tokens.SetNonce(snap.RegistryNonce)
	a.nonces.load(snap.Nonces)
	a.height = snap.Height
	a.appHash = snap.AppHash

	if recomputed := a.computeStateHash(a.height); recomputed != snap.AppHash {
		return false, fmt.Errorf("restored state hash %s does not match stored %s", recomputed.Hex(), snap.AppHash.Hex())
	}
	a.logger.Info("state_restored",
		zap.Int64("height", a.height),
		zap.String("apphash", a.appHash.Hex()),
		zap.Int("offers", a.venue.OffersCount()),
		zap.Int("bids", a.venue.BidsCount()),
	)
	return true, nil
}

// SubmitTx admits a raw signed transaction into the mempool after checking
// its shape, signature, nonce and operator policy.
func (a *App) SubmitTx(raw []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	from, err := a.verifier.Verify(tx)
	if err != nil {
		return hash, err
	}

	a.mu.RLock()
	err = a.admit(tx, from)
	a.mu.RUnlock()
	if err != nil {
		return hash, err
	}

	a.mempool.PushRaw(raw)
	a.logger.Debug("tx_admitted", zap.String("hash", hash.Hex()), zap.String("type", string(tx.Type)), zap.String("from", from.Hex()))
	return hash, nil
}

func (a *App) admit(tx *transaction.SignedTransaction, from common.Address) error {
	if err := a.nonces.check(from, tx.Nonce); err != nil {
		return err
	}
	if tx.Type.IsOperator() && a.cfg.Operator != (common.Address{}) && from != a.cfg.Operator {
		return fmt.Errorf("%s by %s: %w", tx.Type, from.Hex(), core.ErrUnauthorized)
	}
	return nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts any block whose transactions decode; invalid
// transactions fail individually during execution.
func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	for _, raw := range req.Txs {
		if _, err := transaction.Deserialize(raw); err != nil {
			a.logger.Warn("proposal_rejected", zap.Int64("height", req.Height), zap.Error(err))
			return abci.ResponseProcessProposal{Accept: false}
		}
	}
	return abci.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	if a.halted != nil {
		err := a.halted
		a.mu.Unlock()
		return abci.ResponseFinalizeBlock{Err: err}
	}
	if req.Height <= a.height {
		hash, last := a.appHash, a.height
		a.mu.Unlock()
		a.logger.Warn("block_already_applied", zap.Int64("height", req.Height), zap.Int64("last", last))
		return abci.ResponseFinalizeBlock{AppHash: hash}
	}

	startPhase := a.venue.Phase()
	var (
		results []abci.ExecTxResult
		fills   []matching.Fill
	)
	for _, raw := range req.Txs {
		res, matched := a.execTx(req.Height, raw)
		results = append(results, res)
		if matched != nil {
			fills = append(fills, matched.Fills...)
		}
	}

	a.height = req.Height
	a.appHash = a.computeStateHash(req.Height)
	endPhase := a.venue.Phase()

	if a.store != nil {
		if err := a.store.SaveCommit(storage.Commit{
			Snapshot: a.snapshot(),
			Fills:    fills,
			Receipts: results,
		}); err != nil {
			halted := fmt.Errorf("persist block %d: %w", req.Height, err)
			a.halted = halted
			a.mu.Unlock()
			a.logger.Error("persist_failed", zap.Int64("height", req.Height), zap.Error(err))
			return abci.ResponseFinalizeBlock{TxResults: results, Err: halted}
		}
	}
	listeners := a.listeners
	hash := a.appHash
	a.mu.Unlock()

	if len(req.Txs) > 0 {
		a.logger.Info("finalize_block",
			zap.Int64("height", req.Height),
			zap.Int("txs", len(req.Txs)),
			zap.Int("fills", len(fills)),
			zap.String("apphash", hash.Hex()),
		)
	}

	if listeners.OnReceipts != nil && len(results) > 0 {
		listeners.OnReceipts(req.Height, results)
	}
	if listeners.OnFills != nil && len(fills) > 0 {
		listeners.OnFills(fills)
	}
	if listeners.OnPhase != nil && endPhase != startPhase {
		listeners.OnPhase(endPhase)
	}

	events := []string{"commit"}
	if endPhase != startPhase {
		events = append(events, "phase:"+endPhase.String())
	}
	return abci.ResponseFinalizeBlock{Events: events, TxResults: results, AppHash: hash}
}

var _ abci.Application = (*App)(nil)

func (a *App) snapshot() storage.Snapshot {
	tokens := a.tokens.All()
	states := make([]token.State, 0, len(tokens))
	for _, t := range tokens {
		states = append(states, t.Export())
	}
	return storage.Snapshot{
		Height:        a.height,
		AppHash:       a.appHash,
		Venue:         a.venue.State(),
		Bank:          a.bank.Export(),
		Tokens:        states,
		RegistryNonce: a.tokens.Nonce(),
		Nonces:        a.nonces.export(),
	}
}

// ============================================================================
// Queries
// ============================================================================

// Status summarizes the chain head.
type Status struct {
	Height     int64
	AppHash    common.Hash
	Phase      phase.Phase
	Custody    common.Address
	Operator   common.Address
	PriceScale *uint256.Int
	Tokens     []TokenInfo
	Pending    int
}

type TokenInfo struct {
	Address common.Address
	Symbol  string
}

func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := Status{
		Height:     a.height,
		AppHash:    a.appHash,
		Phase:      a.venue.Phase(),
		Custody:    Custody,
		Operator:   a.cfg.Operator,
		PriceScale: new(uint256.Int).Set(a.cfg.PriceScale),
		Pending:    a.mempool.Len(),
	}
	for _, t := range a.tokens.All() {
		st.Tokens = append(st.Tokens, TokenInfo{Address: t.Address(), Symbol: t.Symbol()})
	}
	return st
}

func (a *App) Phase() phase.Phase {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.Phase()
}

// Balance is addr's escrowed native balance.
func (a *App) Balance(addr common.Address) *uint256.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.Balance(addr)
}

// TokenBalance is addr's escrowed balance of tok.
func (a *App) TokenBalance(tok, addr common.Address) *uint256.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.TokenBalance(tok, addr)
}

// WalletBalance is addr's native balance outside the venue.
func (a *App) WalletBalance(addr common.Address) *uint256.Int {
	return a.bank.BalanceOf(addr)
}

// WalletTokenBalance is addr's balance of tok outside the venue.
func (a *App) WalletTokenBalance(tok, addr common.Address) (*uint256.Int, error) {
	t, ok := a.tokens.Get(tok)
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tok.Hex(), core.ErrUnknownToken)
	}
	return t.BalanceOf(addr), nil
}

// Nonce is the highest nonce addr has used.
func (a *App) Nonce(addr common.Address) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nonces.highest(addr)
}

func (a *App) Offers() []offerbook.Offer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.Offers()
}

func (a *App) Offer(id core.OrderID) (offerbook.Offer, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.GetOffer(id)
}

func (a *App) OffersCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.OffersCount()
}

func (a *App) LastOfferNumber() core.OrderID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.LastOfferNumber()
}

func (a *App) Bids() []bidbook.Bid {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.Bids()
}

func (a *App) Bid(id core.OrderID) (bidbook.Bid, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.GetBid(id)
}

func (a *App) BidsCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.BidsCount()
}

func (a *App) LastBidNumber() core.OrderID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.venue.LastBidNumber()
}

var ErrNoStore = errors.New("no persistent store configured")

// RecentFills returns up to limit fills, newest first.
func (a *App) RecentFills(limit int) ([]matching.Fill, error) {
	if a.store == nil {
		return nil, ErrNoStore
	}
	return a.store.LoadRecentFills(limit)
}

// Receipt returns the execution result of a committed transaction.
func (a *App) Receipt(hash common.Hash) (abci.ExecTxResult, bool, error) {
	if a.store == nil {
		return abci.ExecTxResult{}, false, ErrNoStore
	}
	return a.store.GetReceipt(hash)
}
