package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/oplabs/fp-program/eth"
)

// IntermediateTransitionVersion tags the serialized form of a TransitionState,
// distinguishing it from versioned super roots.
const IntermediateTransitionVersion = byte(255)

var ErrInvalidTransitionState = errors.New("invalid transition state")

// OptimisticBlock records the result of one chain's sub-transition before
// consolidation has checked its cross-chain dependencies.
type OptimisticBlock struct {
	BlockHash  common.Hash
	OutputRoot eth.Bytes32
}

// TransitionState is the intermediate multi-chain pre-state: the agreed super
// root, the optimistic per-chain progress so far, and the step counter.
type TransitionState struct {
	SuperRoot       []byte
	PendingProgress []OptimisticBlock
	Step            uint64
}

func (t *TransitionState) Version() byte {
	return IntermediateTransitionVersion
}

func (t *TransitionState) Marshal() []byte {
	encoded, err := rlp.EncodeToBytes(t)
	if err != nil {
		// The struct is flat RLP-encodable data, encoding cannot fail.
		panic(fmt.Errorf("failed to encode transition state: %w", err))
	}
	return append([]byte{t.Version()}, encoded...)
}

// Hash commits to the transition state.
func (t *TransitionState) Hash() common.Hash {
	return crypto.Keccak256Hash(t.Marshal())
}

// UnmarshalTransitionState decodes an agreed pre-state pre-image. A plain
// super root is promoted to a step-0 transition state, as the first step of a
// timestamp starts from the consolidated state.
func UnmarshalTransitionState(data []byte) (*TransitionState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrInvalidTransitionState)
	}
	switch data[0] {
	case IntermediateTransitionVersion:
		var state TransitionState
		if err := rlp.DecodeBytes(data[1:], &state); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransitionState, err)
		}
		return &state, nil
	case eth.SuperRootVersionV1:
		// Validate before promoting, the pre-image may be any bytes.
		if _, err := eth.UnmarshalSuperRoot(data); err != nil {
			return nil, err
		}
		return &TransitionState{SuperRoot: data, Step: 0}, nil
	default:
		return nil, fmt.Errorf("%w: unknown version %d", ErrInvalidTransitionState, data[0])
	}
}
