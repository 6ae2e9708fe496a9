package client

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/oplabs/fp-program/preimage"
)

// DefaultOracleCacheSize bounds the pre-image LRU. Pre-images are requested
// repeatedly during trie walks, so even a modest cache removes most host round trips.
const DefaultOracleCacheSize = 1024

// CachingOracle wraps a pre-image oracle and hinter with an LRU over raw
// pre-image bytes, keyed by the full typed pre-image key.
type CachingOracle struct {
	oracle preimage.Oracle
	hinter preimage.Hinter
	cache  *lru.Cache[common.Hash, []byte]
}

var (
	_ preimage.Oracle = (*CachingOracle)(nil)
	_ preimage.Hinter = (*CachingOracle)(nil)
)

// NewCachingOracle creates a caching wrapper with the given capacity.
func NewCachingOracle(oracle preimage.Oracle, hinter preimage.Hinter, size int) *CachingOracle {
	cache, err := lru.New[common.Hash, []byte](size)
	if err != nil {
		panic(fmt.Errorf("failed to create pre-image cache: %w", err))
	}
	return &CachingOracle{oracle: oracle, hinter: hinter, cache: cache}
}

func (o *CachingOracle) Get(key preimage.Key) []byte {
	cacheKey := common.Hash(key.PreimageKey())
	if value, ok := o.cache.Get(cacheKey); ok {
		return value
	}
	value := o.oracle.Get(key)
	o.cache.Add(cacheKey, value)
	return value
}

func (o *CachingOracle) Hint(v preimage.Hint) {
	o.hinter.Hint(v)
}

// Flush empties the cache. Used when the derivation pipeline resets, so stale
// chain data cannot survive a reorg signal.
func (o *CachingOracle) Flush() {
	o.cache.Purge()
}
