package tokens

import (
	"context"
	"sync"
)

// MemoryStore keeps the pair in process memory (tests, ephemeral runs).
type MemoryStore struct {
	mu   sync.Mutex
	pair Pair
}

// NewMemoryStore constructs a MemoryStore, optionally seeded with a pair.
func NewMemoryStore(seed Pair) *MemoryStore {
	return &MemoryStore{pair: seed}
}

// Load returns the stored pair.
func (s *MemoryStore) Load(ctx context.Context) (Pair, error) {
	if s == nil {
		return Pair{}, ErrNilStore
	}
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair, nil
}

// Save replaces the stored pair.
func (s *MemoryStore) Save(ctx context.Context, p Pair) error {
	if s == nil {
		return ErrNilStore
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := normalizePair(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pair = p
	s.mu.Unlock()
	return nil
}

// Clear removes both values.
func (s *MemoryStore) Clear(ctx context.Context) error {
	if s == nil {
		return ErrNilStore
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.pair = Pair{}
	s.mu.Unlock()
	return nil
}
