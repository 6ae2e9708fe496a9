package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oplabs/fp-program/eth"
)

func testSuperRoot() *eth.SuperV1 {
	return &eth.SuperV1{
		Timestamp: 9000,
		Chains: []eth.ChainIDAndOutput{
			{ChainID: 901, Output: eth.Bytes32{0xaa}},
			{ChainID: 902, Output: eth.Bytes32{0xbb}},
		},
	}
}

func TestTransitionStateRoundtrip(t *testing.T) {
	state := &TransitionState{
		SuperRoot: testSuperRoot().Marshal(),
		PendingProgress: []OptimisticBlock{
			{BlockHash: common.Hash{0x01}, OutputRoot: eth.Bytes32{0x02}},
		},
		Step: 1,
	}
	marshaled := state.Marshal()
	require.Equal(t, IntermediateTransitionVersion, marshaled[0])

	decoded, err := UnmarshalTransitionState(marshaled)
	require.NoError(t, err)
	require.Equal(t, state, decoded)
	require.Equal(t, state.Hash(), decoded.Hash())
}

func TestUnmarshalPromotesSuperRoot(t *testing.T) {
	superBytes := testSuperRoot().Marshal()
	state, err := UnmarshalTransitionState(superBytes)
	require.NoError(t, err)
	require.Equal(t, uint64(0), state.Step, "a plain super root starts at step 0")
	require.Empty(t, state.PendingProgress)
	require.Equal(t, superBytes, state.SuperRoot)
}

func TestUnmarshalTransitionStateRejects(t *testing.T) {
	_, err := UnmarshalTransitionState(nil)
	require.ErrorIs(t, err, ErrInvalidTransitionState)

	_, err = UnmarshalTransitionState([]byte{0x33})
	require.ErrorIs(t, err, ErrInvalidTransitionState)

	_, err = UnmarshalTransitionState([]byte{IntermediateTransitionVersion, 0xff})
	require.ErrorIs(t, err, ErrInvalidTransitionState)

	// A super-root version byte with garbage content must not be promoted.
	_, err = UnmarshalTransitionState([]byte{eth.SuperRootVersionV1, 0x01})
	require.ErrorIs(t, err, eth.ErrInvalidSuperRoot)
}
