package derive

import (
	"bytes"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const (
	testGenesisTime = uint64(1700000000)
	testBlockTime   = uint64(2)
)

var testChainID = big.NewInt(901)

func randomSingularBatches(t *testing.T, rng *rand.Rand, count int) []*SingularBatch {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(testChainID)

	var batches []*SingularBatch
	timestamp := testGenesisTime + 100
	epoch := Epoch(10)
	for i := 0; i < count; i++ {
		var txs []hexutil.Bytes
		for j := 0; j < rng.Intn(4); j++ {
			var tx *types.Transaction
			if j%2 == 0 {
				tx = types.MustSignNewTx(key, signer, &types.DynamicFeeTx{
					ChainID:   testChainID,
					Nonce:     uint64(i*10 + j),
					GasTipCap: big.NewInt(1),
					GasFeeCap: big.NewInt(100),
					Gas:       21000,
					To:        &common.Address{0x11},
					Value:     big.NewInt(1000),
				})
			} else {
				tx = types.MustSignNewTx(key, signer, &types.LegacyTx{
					Nonce:    uint64(i*10 + j),
					GasPrice: big.NewInt(50),
					Gas:      30000,
					To:       &common.Address{0x22},
					Value:    big.NewInt(7),
					Data:     []byte{1, 2, 3},
				})
			}
			opaque, err := tx.MarshalBinary()
			require.NoError(t, err)
			txs = append(txs, opaque)
		}
		batch := &SingularBatch{
			ParentHash:   common.Hash{byte(i)},
			EpochNum:     epoch,
			EpochHash:    common.Hash{0xee, byte(epoch)},
			Timestamp:    timestamp,
			Transactions: txs,
		}
		batches = append(batches, batch)
		timestamp += testBlockTime
		if rng.Intn(3) == 0 {
			epoch++
		}
	}
	return batches
}

func TestSpanBatchDeriveEncodeFixedPoint(t *testing.T) {
	rng := rand.New(rand.NewSource(0x5eed))
	singulars := randomSingularBatches(t, rng, 8)

	raw, err := NewRawSpanBatch(singulars, testGenesisTime, testChainID)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, raw.encode(&buf))
	encoded := buf.Bytes()

	var decoded RawSpanBatch
	require.NoError(t, decoded.decode(bytes.NewReader(encoded)))

	var reencoded bytes.Buffer
	require.NoError(t, decoded.encode(&reencoded))
	require.Equal(t, encoded, reencoded.Bytes(), "encode(decode(encode(x))) must be a fixed point")

	span, err := decoded.ToSpanBatch(testBlockTime, testGenesisTime, testChainID)
	require.NoError(t, err)
	require.Equal(t, len(singulars), span.GetBlockCount())
	for i, singular := range singulars {
		require.Equal(t, uint64(singular.EpochNum), span.GetBlockEpochNum(i), "epoch of block %d", i)
		require.Equal(t, singular.Timestamp, span.GetBlockTimestamp(i), "timestamp of block %d", i)
		require.Equal(t, len(singular.Transactions), len(span.GetBlockTransactions(i)), "tx count of block %d", i)
		for j, tx := range singular.Transactions {
			require.Equal(t, []byte(tx), []byte(span.GetBlockTransactions(i)[j]), "tx %d of block %d", j, i)
		}
	}
	require.True(t, span.CheckParentHash(singulars[0].ParentHash))
	require.True(t, span.CheckOriginHash(singulars[len(singulars)-1].EpochHash))
}

func TestSpanBatchRejectsEmpty(t *testing.T) {
	var raw RawSpanBatch
	// prefix with zero block count
	data := []byte{
		0x00,       // rel timestamp
		0x0a,       // l1 origin num
	}
	data = append(data, make([]byte, 40)...) // parent + origin checks
	data = append(data, 0x00)                // block count
	err := raw.decode(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrEmptySpanBatch)
}

func TestBatchDataRoundtripSingular(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	singular := randomSingularBatches(t, rng, 1)[0]

	data := NewBatchData(singular)
	encoded, err := data.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, uint8(SingularBatchType), encoded[0])

	var decoded BatchData
	require.NoError(t, decoded.UnmarshalBinary(encoded))
	require.Equal(t, singular, decoded.Inner())
}
