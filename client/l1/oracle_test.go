package l1

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"github.com/oplabs/fp-program/client/mpt"
	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/preimage"
)

// stubOracle serves pre-images from a map and records hints, in the style of
// the cannon test harnesses.
type stubOracle struct {
	t         *testing.T
	preimages map[[32]byte][]byte
	hints     []string
}

func newStubOracle(t *testing.T) *stubOracle {
	return &stubOracle{t: t, preimages: make(map[[32]byte][]byte)}
}

func (o *stubOracle) Get(key preimage.Key) []byte {
	pre, ok := o.preimages[key.PreimageKey()]
	if !ok {
		o.t.Fatalf("missing pre-image %x", key.PreimageKey())
	}
	return pre
}

func (o *stubOracle) Hint(v preimage.Hint) {
	o.hints = append(o.hints, v.Hint())
}

func (o *stubOracle) putKeccak(data []byte) common.Hash {
	hash := crypto.Keccak256Hash(data)
	o.preimages[preimage.Keccak256Key(hash).PreimageKey()] = data
	return hash
}

func TestHeaderByBlockHash(t *testing.T) {
	oracle := newStubOracle(t)
	header := &types.Header{
		Number:     big.NewInt(42),
		Time:       999,
		Difficulty: big.NewInt(0),
		BaseFee:    big.NewInt(1),
	}
	encoded, err := rlp.EncodeToBytes(header)
	require.NoError(t, err)
	hash := oracle.putKeccak(encoded)
	require.Equal(t, header.Hash(), hash)

	po := NewPreimageOracle(oracle, oracle)
	info := po.HeaderByBlockHash(hash)
	require.Equal(t, hash, info.Hash())
	require.Equal(t, uint64(42), info.NumberU64())
	require.Equal(t, uint64(999), info.Time())
	require.Contains(t, oracle.hints, BlockHeaderHint(hash).Hint())
}

func TestTransactionsByBlockHash(t *testing.T) {
	oracle := newStubOracle(t)
	var txs types.Transactions
	for i := 0; i < 5; i++ {
		txs = append(txs, types.NewTx(&types.LegacyTx{
			Nonce:    uint64(i),
			GasPrice: big.NewInt(3),
			Gas:      21000,
			To:       &common.Address{0x01},
		}))
	}
	opaque, err := eth.EncodeTransactions(txs)
	require.NoError(t, err)
	root, nodes := mpt.WriteTrie(opaque)
	for _, node := range nodes {
		oracle.putKeccak(node)
	}

	header := &types.Header{
		Number:     big.NewInt(7),
		Difficulty: big.NewInt(0),
		TxHash:     root,
	}
	encoded, err := rlp.EncodeToBytes(header)
	require.NoError(t, err)
	hash := oracle.putKeccak(encoded)

	po := NewPreimageOracle(oracle, oracle)
	info, gotTxs := po.TransactionsByBlockHash(hash)
	require.Equal(t, hash, info.Hash())
	require.Len(t, gotTxs, len(txs))
	for i := range txs {
		require.Equal(t, txs[i].Hash(), gotTxs[i].Hash())
	}
	require.Contains(t, oracle.hints, TransactionsHint(hash).Hint())
}

func TestGetBlobAllZero(t *testing.T) {
	oracle := newStubOracle(t)
	commitment := make([]byte, 48)
	commitment[0] = 0xc0

	versionedHash := common.Hash{0x01, 0x02}
	oracle.preimages[preimage.Sha256Key(versionedHash).PreimageKey()] = commitment

	fieldElemKey := make([]byte, 80)
	copy(fieldElemKey[:48], commitment)
	zero := make([]byte, 32)
	for i := 0; i < eth.FieldElementsPerBlob; i++ {
		binary.BigEndian.PutUint64(fieldElemKey[72:], uint64(i))
		oracle.preimages[preimage.BlobKey(crypto.Keccak256Hash(fieldElemKey)).PreimageKey()] = zero
	}

	po := NewPreimageOracle(oracle, oracle)
	blob := po.GetBlob(eth.L1BlockRef{Time: 100}, eth.IndexedBlobHash{Index: 2, Hash: versionedHash})
	require.Equal(t, make([]byte, eth.BlobSize), blob[:], "4096 zero field elements decode to 131072 zero bytes")

	// The hint carries hash, index and timestamp for the host's beacon lookup.
	expectedHint := BlobHint(append(append(versionedHash.Bytes(), 0, 0, 0, 0, 0, 0, 0, 2), 0, 0, 0, 0, 0, 0, 0, 100)).Hint()
	require.Contains(t, oracle.hints, expectedHint)
}

func TestPrecompileResult(t *testing.T) {
	oracle := newStubOracle(t)
	addr := common.BytesToAddress([]byte{0x01})
	input := []byte{0xaa, 0xbb}
	hintBytes := append(addr.Bytes(), input...)
	keyHash := crypto.Keccak256Hash(hintBytes)

	t.Run("success", func(t *testing.T) {
		oracle.preimages[preimage.PrecompileKey(keyHash).PreimageKey()] = append([]byte{1}, []byte("result")...)
		po := NewPreimageOracle(oracle, oracle)
		result, ok := po.Precompile(addr, input)
		require.True(t, ok)
		require.Equal(t, []byte("result"), result)
		require.Contains(t, oracle.hints, PrecompileHint(hintBytes).Hint())
	})

	t.Run("failure status", func(t *testing.T) {
		oracle.preimages[preimage.PrecompileKey(keyHash).PreimageKey()] = []byte{0}
		po := NewPreimageOracle(oracle, oracle)
		result, ok := po.Precompile(addr, input)
		require.False(t, ok)
		require.Empty(t, result)
	})
}
