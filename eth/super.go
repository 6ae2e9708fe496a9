package eth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// SuperRootVersionV1 identifies the canonical super-root encoding.
	SuperRootVersionV1 = byte(1)

	superRootChainEntrySize = 64
	superRootMinSize        = 1 + 8 + superRootChainEntrySize
)

var ErrInvalidSuperRoot = errors.New("invalid super root")

// ChainIDAndOutput pairs an L2 chain ID with its output root at a timestamp.
type ChainIDAndOutput struct {
	ChainID uint64
	Output  Bytes32
}

func (c *ChainIDAndOutput) Marshal() []byte {
	d := make([]byte, superRootChainEntrySize)
	chainID := new(big.Int).SetUint64(c.ChainID)
	chainID.FillBytes(d[:32])
	copy(d[32:], c.Output[:])
	return d
}

// SuperRoot is a versioned commitment to the output roots of a set of chains
// at a shared timestamp.
type SuperRoot interface {
	Version() byte
	Marshal() []byte
}

// SuperV1 is the version-1 super root: a timestamp plus the ordered
// (chain ID, output root) pairs of every chain in the dependency set.
// Chains are sorted by chain ID ascending.
type SuperV1 struct {
	Timestamp uint64
	Chains    []ChainIDAndOutput
}

func (s *SuperV1) Version() byte {
	return SuperRootVersionV1
}

func (s *SuperV1) Marshal() []byte {
	out := make([]byte, 0, 9+len(s.Chains)*superRootChainEntrySize)
	out = append(out, s.Version())
	out = binary.BigEndian.AppendUint64(out, s.Timestamp)
	for _, chain := range s.Chains {
		out = append(out, chain.Marshal()...)
	}
	return out
}

// SuperRootHash computes the commitment to a super root pre-image.
func SuperRootHash(s SuperRoot) common.Hash {
	return crypto.Keccak256Hash(s.Marshal())
}

// UnmarshalSuperRoot decodes a versioned super-root pre-image.
func UnmarshalSuperRoot(data []byte) (SuperRoot, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: data too short: %d", ErrInvalidSuperRoot, len(data))
	}
	switch data[0] {
	case SuperRootVersionV1:
		return unmarshalSuperRootV1(data)
	default:
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSuperRoot, data[0])
	}
}

func unmarshalSuperRootV1(data []byte) (*SuperV1, error) {
	if len(data) < superRootMinSize {
		return nil, fmt.Errorf("%w: data too short: %d", ErrInvalidSuperRoot, len(data))
	}
	if (len(data)-9)%superRootChainEntrySize != 0 {
		return nil, fmt.Errorf("%w: truncated chain entries: %d", ErrInvalidSuperRoot, len(data))
	}
	super := SuperV1{
		Timestamp: binary.BigEndian.Uint64(data[1:9]),
	}
	for i := 9; i < len(data); i += superRootChainEntrySize {
		entry := data[i : i+superRootChainEntrySize]
		chainID := new(big.Int).SetBytes(entry[:32])
		if !chainID.IsUint64() {
			return nil, fmt.Errorf("%w: chain ID overflows uint64", ErrInvalidSuperRoot)
		}
		chain := ChainIDAndOutput{ChainID: chainID.Uint64()}
		copy(chain.Output[:], entry[32:])
		super.Chains = append(super.Chains, chain)
	}
	return &super, nil
}
