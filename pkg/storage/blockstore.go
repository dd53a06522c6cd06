package storage

import (
	"sync"

	"github.com/uhyunpark/dutchmarket/pkg/sequencer"
)

type InMemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[sequencer.Height]sequencer.Block
	head   *sequencer.Height
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{blocks: make(map[sequencer.Height]sequencer.Block)}
}

func (s *InMemoryBlockStore) SaveBlock(b sequencer.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Height] = b
	return nil
}

func (s *InMemoryBlockStore) GetBlock(h sequencer.Height) (sequencer.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok
}

func (s *InMemoryBlockStore) SetHead(h sequencer.Height) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = &h
	return nil
}

func (s *InMemoryBlockStore) Head() (sequencer.Height, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head == nil {
		return 0, false
	}
	return *s.head, true
}

var _ sequencer.BlockStore = (*InMemoryBlockStore)(nil)
