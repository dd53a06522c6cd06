// Package sequencer produces blocks on a single node: it asks the
// application for a payload, executes it, and persists the committed block.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/pkg/util"
)

type Config struct {
	MinBlockTime    time.Duration
	SkipEmptyBlocks bool
	Proposer        string
}

type Engine struct {
	cfg   Config
	App   AppHook
	Store BlockStore
	WAL   WAL
	Clock util.Clock

	Logger *zap.SugaredLogger

	mu        sync.Mutex
	head      Block
	listeners []func(Block)
}

func NewEngine(cfg Config, app AppHook, store BlockStore, wal WAL, clock util.Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{
		cfg:    cfg,
		App:    app,
		Store:  store,
		WAL:    wal,
		Clock:  clock,
		Logger: util.OrNop(logger).Sugar(),
	}
}

// Resume loads the last committed block from the store. A fresh store
// leaves the engine at height 0.
func (e *Engine) Resume() error {
	if e.Store == nil {
		return nil
	}
	h, ok := e.Store.Head()
	if !ok {
		return nil
	}
	b, ok := e.Store.GetBlock(h)
	if !ok {
		return fmt.Errorf("head block %d missing from store", h)
	}
	e.mu.Lock()
	e.head = b
	e.mu.Unlock()
	e.Logger.Infow("resume", "height", h, "apphash", b.AppHash.Hex())
	return nil
}

// Head returns the last committed block.
func (e *Engine) Head() Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.head
}

// Subscribe registers fn to run after every committed block.
func (e *Engine) Subscribe(fn func(Block)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Run produces a block every MinBlockTime until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.Clock.After(e.cfg.MinBlockTime):
		}
		if _, _, err := e.ProduceBlock(); err != nil {
			return err
		}
	}
}

var ErrPayloadRejected = errors.New("payload rejected")

// ProduceBlock builds, executes and commits the next block. It reports
// false without committing when the payload is empty and empty blocks are
// skipped.
func (e *Engine) ProduceBlock() (Block, bool, error) {
	e.mu.Lock()
	parent := e.head
	e.mu.Unlock()

	next := parent.Height + 1
	payload := e.App.PreparePayload(parent, next)
	if len(payload) == 0 && e.cfg.SkipEmptyBlocks {
		return Block{}, false, nil
	}
	if !e.App.ValidatePayload(next, payload) {
		return Block{}, false, fmt.Errorf("height %d: %w", next, ErrPayloadRejected)
	}

	blk := Block{
		Height:   next,
		Time:     e.Clock.Now(),
		Payload:  payload,
		Proposer: e.cfg.Proposer,
	}
	if parent.Height > 0 {
		blk.Parent = HashOfBlock(parent)
	}
	appHash, err := e.App.OnCommit(blk)
	if err != nil {
		e.Logger.Errorw("commit_failed", "height", next, "err", err)
		return Block{}, false, fmt.Errorf("commit %d: %w", next, err)
	}
	blk.AppHash = appHash

	if e.Store != nil {
		if err := e.Store.SaveBlock(blk); err != nil {
			return Block{}, false, fmt.Errorf("save block %d: %w", next, err)
		}
		if err := e.Store.SetHead(next); err != nil {
			return Block{}, false, fmt.Errorf("set head %d: %w", next, err)
		}
	}
	if e.WAL != nil {
		e.WAL.Append(fmt.Sprintf("commit height=%d hash=%s apphash=%s bytes=%d", next, HashOfBlock(blk).Hex(), blk.AppHash.Hex(), len(payload)))
	}

	e.mu.Lock()
	e.head = blk
	listeners := append([]func(Block){}, e.listeners...)
	e.mu.Unlock()

	e.Logger.Infow("block_committed", "height", next, "bytes", len(payload), "apphash", blk.AppHash.Hex())
	for _, fn := range listeners {
		fn(blk)
	}
	return blk, true, nil
}
