package derive

import (
	"bytes"
	"compress/zlib"
	"io"
	"math/rand"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

func encodeBatchesZlib(t *testing.T, batches []*BatchData) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	for _, batch := range batches {
		require.NoError(t, rlp.Encode(w, batch))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func encodeBatchesBrotli(t *testing.T, batches []*BatchData) []byte {
	var buf bytes.Buffer
	buf.WriteByte(ChannelVersionBrotli)
	w := brotli.NewWriter(&buf)
	for _, batch := range batches {
		require.NoError(t, rlp.Encode(w, batch))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func testBatches(t *testing.T) []*BatchData {
	rng := rand.New(rand.NewSource(777))
	var batches []*BatchData
	for _, singular := range randomSingularBatches(t, rng, 3) {
		batches = append(batches, NewBatchData(singular))
	}
	return batches
}

func readAllBatches(t *testing.T, readBatch func() (*BatchData, error)) []*BatchData {
	var out []*BatchData
	for {
		batch, err := readBatch()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, batch)
	}
}

func TestBatchReaderZlib(t *testing.T) {
	batches := testBatches(t)
	data := encodeBatchesZlib(t, batches)

	readBatch, err := BatchReader(bytes.NewReader(data), MaxRLPBytesPerChannel, false)
	require.NoError(t, err)
	got := readAllBatches(t, readBatch)
	require.Len(t, got, len(batches))
	for i := range batches {
		require.Equal(t, batches[i].Inner(), got[i].Inner())
	}
}

func TestBatchReaderBrotli(t *testing.T) {
	batches := testBatches(t)
	data := encodeBatchesBrotli(t, batches)

	t.Run("accepted with Fjord", func(t *testing.T) {
		readBatch, err := BatchReader(bytes.NewReader(data), MaxRLPBytesPerChannelFjord, true)
		require.NoError(t, err)
		got := readAllBatches(t, readBatch)
		require.Len(t, got, len(batches))
	})

	t.Run("rejected before Fjord", func(t *testing.T) {
		_, err := BatchReader(bytes.NewReader(data), MaxRLPBytesPerChannel, false)
		require.ErrorContains(t, err, "brotli")
	})
}

func TestBatchReaderUnknownCompression(t *testing.T) {
	_, err := BatchReader(bytes.NewReader([]byte{0x42, 0x00}), MaxRLPBytesPerChannel, true)
	require.ErrorContains(t, err, "compression")
}
