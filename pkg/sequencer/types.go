package sequencer

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type Height uint64

// Block is one ordered batch of transactions. Payload holds the raw
// transactions joined by a 0x00 delimiter.
type Block struct {
	Height   Height
	Parent   common.Hash
	Time     time.Time
	Payload  []byte
	Proposer string
	AppHash  common.Hash // state after executing Payload
}

// HashOfBlock hashes the block header fields, excluding AppHash.
func HashOfBlock(b Block) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(b.Time.UnixNano()))
	return crypto.Keccak256Hash(buf[:], b.Parent[:], b.Payload, []byte(b.Proposer), ts[:])
}

// AppHook is the application side of block production.
type AppHook interface {
	// PreparePayload returns the transactions for the block at next.
	PreparePayload(parent Block, next Height) []byte
	// ValidatePayload rejects a payload before it is executed.
	ValidatePayload(height Height, payload []byte) bool
	// OnCommit executes the block and returns the resulting app hash. An
	// error means the app could not persist the block and production stops.
	OnCommit(b Block) (common.Hash, error)
}

type BlockStore interface {
	SaveBlock(b Block) error
	GetBlock(h Height) (Block, bool)
	SetHead(h Height) error
	Head() (Height, bool)
}

type WAL interface {
	Append(line string)
}
