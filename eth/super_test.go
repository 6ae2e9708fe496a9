package eth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuperRootRoundtrip(t *testing.T) {
	super := &SuperV1{
		Timestamp: 123456,
		Chains: []ChainIDAndOutput{
			{ChainID: 901, Output: Bytes32{0x01}},
			{ChainID: 902, Output: Bytes32{0x02}},
		},
	}
	marshaled := super.Marshal()
	require.Equal(t, byte(SuperRootVersionV1), marshaled[0], "canonical encoding starts with the version byte")

	decoded, err := UnmarshalSuperRoot(marshaled)
	require.NoError(t, err)
	require.Equal(t, super, decoded)
	require.Equal(t, SuperRootHash(super), SuperRootHash(decoded))
}

func TestUnmarshalSuperRootRejects(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := UnmarshalSuperRoot(nil)
		require.ErrorIs(t, err, ErrInvalidSuperRoot)
	})
	t.Run("unknown version", func(t *testing.T) {
		_, err := UnmarshalSuperRoot([]byte{42})
		require.ErrorIs(t, err, ErrInvalidSuperRoot)
	})
	t.Run("no chains", func(t *testing.T) {
		super := &SuperV1{Timestamp: 1}
		_, err := UnmarshalSuperRoot(super.Marshal())
		require.ErrorIs(t, err, ErrInvalidSuperRoot)
	})
	t.Run("truncated chain entry", func(t *testing.T) {
		super := &SuperV1{Timestamp: 1, Chains: []ChainIDAndOutput{{ChainID: 1}}}
		_, err := UnmarshalSuperRoot(super.Marshal()[:30])
		require.ErrorIs(t, err, ErrInvalidSuperRoot)
	})
}

func TestOutputRootRoundtrip(t *testing.T) {
	output := &OutputV0{
		StateRoot:                Bytes32{0x01},
		MessagePasserStorageRoot: Bytes32{0x02},
		BlockHash:                [32]byte{0x03},
	}
	marshaled := output.Marshal()
	require.Len(t, marshaled, 128)
	require.Equal(t, make([]byte, 32), marshaled[:32], "v0 outputs have a zero version word")

	decoded, err := UnmarshalOutput(marshaled)
	require.NoError(t, err)
	require.Equal(t, output, decoded)
	require.Equal(t, OutputRoot(output), OutputRoot(decoded))
}

func TestUnmarshalOutputRejects(t *testing.T) {
	_, err := UnmarshalOutput([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidOutput)

	bad := make([]byte, 128)
	bad[0] = 0xff
	_, err = UnmarshalOutput(bad)
	require.ErrorIs(t, err, ErrInvalidOutput)

	short := make([]byte, 127)
	_, err = UnmarshalOutput(short)
	require.ErrorIs(t, err, ErrInvalidOutput)
}
