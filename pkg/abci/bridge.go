package abci

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/app/core/mempool"
	"github.com/uhyunpark/dutchmarket/pkg/sequencer"
	"github.com/uhyunpark/dutchmarket/pkg/util"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// ExecTxResult is the receipt of one executed transaction.
type ExecTxResult struct {
	Height  int64          `json:"height"`
	Hash    common.Hash    `json:"hash"`
	Type    string         `json:"type"`
	From    common.Address `json:"from"`
	OK      bool           `json:"ok"`
	Kind    string         `json:"kind,omitempty"` // error kind when !OK
	Log     string         `json:"log,omitempty"`
	ID      uint64         `json:"id,omitempty"` // assigned offer/bid id
	Fills   int            `json:"fills,omitempty"`
	Skipped int            `json:"skipped,omitempty"`
}

type ResponseFinalizeBlock struct {
	Events    []string
	TxResults []ExecTxResult
	AppHash   common.Hash // Hash of application state after execution
	// Err is set when the block could not be made durable. The producer
	// must not commit the block.
	Err error
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

// Bridge adapts an Application to the sequencer's AppHook.
type Bridge struct {
	App        Application
	MaxTxBytes int64
}

func (b *Bridge) PreparePayload(_ sequencer.Block, next sequencer.Height) []byte {
	maxBytes := b.MaxTxBytes
	if maxBytes == 0 {
		maxBytes = 1 << 24
	}
	resp := b.App.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: maxBytes})
	return joinPayload(resp.Txs)
}

func (b *Bridge) ValidatePayload(h sequencer.Height, payload []byte) bool {
	resp := b.App.ProcessProposal(RequestProcessProposal{Height: int64(h), Txs: splitPayload(payload)})
	return resp.Accept
}

func (b *Bridge) OnCommit(committed sequencer.Block) (common.Hash, error) {
	txs := splitPayload(committed.Payload)
	resp := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    int64(committed.Height),
		Timestamp: committed.Time.Unix(),
		Txs:       txs,
	})
	return resp.AppHash, resp.Err
}

var _ sequencer.AppHook = (*Bridge)(nil)

// joinPayload concatenates txs with a 0x00 delimiter. JSON transactions
// never contain a zero byte.
func joinPayload(txs [][]byte) []byte {
	var payload []byte
	for _, tx := range txs {
		payload = append(payload, tx...)
		payload = append(payload, 0x00)
	}
	return payload
}

func splitPayload(p []byte) [][]byte {
	var out [][]byte
	cur := make([]byte, 0, len(p))
	for _, b := range p {
		if b == 0x00 {
			if len(cur) > 0 {
				out = append(out, append([]byte(nil), cur...))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, b)
	}
	if len(cur) > 0 {
		out = append(out, append([]byte(nil), cur...))
	}
	return out
}

// --- MockApp: mempool ordering without execution ---
type MockApp struct {
	mu      sync.Mutex
	mempool *mempool.Mempool
	commits int
	logger  *zap.Logger
}

func NewMockApp(logger *zap.Logger) *MockApp {
	return &MockApp{mempool: mempool.NewMempool(), logger: util.OrNop(logger)}
}

func (m *MockApp) PushTx(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mempool.PushRaw(b)
}

func (m *MockApp) PrepareProposal(req RequestPrepareProposal) ResponsePrepareProposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ResponsePrepareProposal{Txs: m.mempool.SelectForProposal(req.MaxTxBytes)}
}

func (m *MockApp) ProcessProposal(_ RequestProcessProposal) ResponseProcessProposal {
	return ResponseProcessProposal{Accept: true}
}

func (m *MockApp) FinalizeBlock(req RequestFinalizeBlock) ResponseFinalizeBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++

	// deterministic for tests: height and tx count
	var appHash common.Hash
	binary.BigEndian.PutUint64(appHash[:8], uint64(req.Height))
	appHash[8] = byte(len(req.Txs))

	if len(req.Txs) > 0 {
		m.logger.Debug("finalize_block", zap.Int64("height", req.Height), zap.Int("txs", len(req.Txs)))
	}
	return ResponseFinalizeBlock{
		Events:  []string{"commit"},
		AppHash: appHash,
	}
}

func (m *MockApp) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}
