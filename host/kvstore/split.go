package kvstore

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/oplabs/fp-program/preimage"
)

// SplitPreimageSource routes local bootstrap keys to one source and every
// global (hash-keyed) pre-image to another.
type SplitPreimageSource struct {
	local  PreimageSource
	global PreimageSource
}

func NewSplitSource(local PreimageSource, global PreimageSource) *SplitPreimageSource {
	return &SplitPreimageSource{local: local, global: global}
}

func (s *SplitPreimageSource) Get(key common.Hash) ([]byte, error) {
	if key[0] == byte(preimage.LocalKeyType) {
		return s.local(key)
	}
	return s.global(key)
}
