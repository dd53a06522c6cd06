package mempool

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/uhyunpark/dutchmarket/pkg/app/core/transaction"
)

// Bucket classifies transactions for block ordering.
type Bucket int

const (
	BucketCancel Bucket = iota
	BucketUser
	BucketOperator
)

// ClassifyRaw reads the envelope type of a raw transaction.
//
//	{"type": "remove_offer" | "remove_bid", ...} -> BucketCancel
//	{"type": "set_phase" | "match", ...}         -> BucketOperator
//	anything else                                 -> BucketUser
func ClassifyRaw(b []byte) Bucket {
	bucket, _ := classify(b)
	return bucket
}

// classify returns the bucket and the lowercased claimed sender, "" when the
// envelope does not parse.
func classify(b []byte) (Bucket, string) {
	if len(b) == 0 || b[0] != '{' {
		return BucketUser, ""
	}
	var envelope struct {
		Type transaction.TxType `json:"type"`
		From string             `json:"from"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return BucketUser, ""
	}
	from := strings.ToLower(envelope.From)
	switch {
	case envelope.Type.IsCancel():
		return BucketCancel, from
	case envelope.Type.IsOperator():
		return BucketOperator, from
	default:
		return BucketUser, from
	}
}

type entry struct {
	raw    []byte
	bucket Bucket
	sender string
}

// Mempool is a single FIFO queue. A proposal takes a prefix of it, closed
// by the first operator tx, and moves a cancel to the front only when its
// sender has nothing earlier in that prefix. Each sender's txs keep their
// submission order.
type Mempool struct {
	mu    sync.Mutex
	queue []entry
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) {
	bucket, sender := classify(b)
	e := entry{raw: append([]byte(nil), b...), bucket: bucket, sender: sender}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, e)
}

// SelectForProposal removes and returns up to maxBytes worth of txs.
// maxBytes <= 0 means no limit.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var used int64
	n := 0
	for n < len(m.queue) {
		e := m.queue[n]
		size := int64(len(e.raw))
		if maxBytes > 0 && used+size > maxBytes {
			break
		}
		used += size
		n++
		if e.bucket == BucketOperator {
			break
		}
	}
	if n == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var front, rest [][]byte
	for _, e := range m.queue[:n] {
		// unparsed senders never jump
		if e.bucket == BucketCancel && e.sender != "" && !seen[e.sender] {
			front = append(front, e.raw)
		} else {
			rest = append(rest, e.raw)
		}
		seen[e.sender] = true
	}
	m.queue = m.queue[n:]
	return append(front, rest...)
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
