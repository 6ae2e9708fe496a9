package eth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobToDataEmpty(t *testing.T) {
	// A fully zeroed blob is a valid encoding of the empty payload.
	var blob Blob
	data, err := blob.ToData()
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestBlobToDataRejects(t *testing.T) {
	t.Run("bad version", func(t *testing.T) {
		var blob Blob
		blob[VersionOffset] = 1
		_, err := blob.ToData()
		require.ErrorIs(t, err, ErrBlobInvalidVersion)
	})
	t.Run("length too large", func(t *testing.T) {
		var blob Blob
		blob[2], blob[3], blob[4] = 0xff, 0xff, 0xff
		_, err := blob.ToData()
		require.ErrorIs(t, err, ErrBlobInvalidLength)
	})
	t.Run("non-canonical field element", func(t *testing.T) {
		var blob Blob
		blob[2] = 0x01 // declare a 65536-byte payload
		blob[32] = 0b1100_0000
		_, err := blob.ToData()
		require.ErrorIs(t, err, ErrBlobInvalidFieldElement)
	})
	t.Run("junk past payload", func(t *testing.T) {
		var blob Blob
		blob[BlobSize-1] = 0x01
		_, err := blob.ToData()
		require.ErrorIs(t, err, ErrBlobExtraneousData)
	})
}

func TestCalcBlobFee(t *testing.T) {
	require.EqualValues(t, 1, CalcBlobFee(0).Uint64(), "zero excess blob gas gives the minimum fee")
	require.Greater(t, CalcBlobFee(10_000_000).Uint64(), CalcBlobFee(1_000_000).Uint64())
}

func TestKZGToVersionedHash(t *testing.T) {
	hash := KZGToVersionedHash([48]byte{0x01, 0x02})
	require.Equal(t, byte(BlobCommitmentVersion), hash[0])
}
