package kvstore

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned when a pre-image is not available in the store.
var ErrNotFound = errors.New("not found")

// PreimageSource retrieves a pre-image by its typed key.
type PreimageSource func(key common.Hash) ([]byte, error)

// KV is a pre-image key-value store.
type KV interface {
	// Put stores the pre-image value under the given key.
	Put(key common.Hash, value []byte) error
	// Get retrieves the pre-image with the given key, or ErrNotFound.
	Get(key common.Hash) ([]byte, error)
}

// MemKV is an in-memory KV store. Safe for concurrent use.
type MemKV struct {
	mu sync.RWMutex
	m  map[common.Hash][]byte
}

var _ KV = (*MemKV)(nil)

func NewMemKV() *MemKV {
	return &MemKV{m: make(map[common.Hash][]byte)}
}

func (m *MemKV) Put(key common.Hash, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = value
	return nil
}

func (m *MemKV) Get(key common.Hash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}
