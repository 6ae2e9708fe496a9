package mpt

import (
	"fmt"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/require"
)

func TestEmptyTrieRoot(t *testing.T) {
	require.Equal(t, EmptyRootHash, NewEmptyTrie().Hash())
	require.Equal(t, crypto.Keccak256Hash([]byte{0x80}), EmptyRootHash)
}

func TestInsertOrderIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(123))
	entries := make(map[string][]byte)
	for i := 0; i < 100; i++ {
		key := make([]byte, 1+rng.Intn(40))
		value := make([]byte, 1+rng.Intn(80))
		rng.Read(key)
		rng.Read(value)
		entries[string(key)] = value
	}

	var keys []string
	for k := range entries {
		keys = append(keys, k)
	}

	build := func(order []string) common.Hash {
		tr := NewEmptyTrie()
		for _, k := range order {
			require.NoError(t, tr.Insert([]byte(k), entries[k]))
		}
		return tr.Hash()
	}

	first := build(keys)
	for trial := 0; trial < 5; trial++ {
		shuffled := append([]string{}, keys...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, first, build(shuffled), "root must not depend on insertion order")
	}
}

func TestInsertGetRoundtrip(t *testing.T) {
	tr := NewEmptyTrie()
	entries := map[string]string{
		"do":    "verb",
		"dog":   "puppy",
		"doge":  "coin",
		"horse": "stallion",
	}
	for k, v := range entries {
		require.NoError(t, tr.Insert([]byte(k), []byte(v)))
	}
	for k, v := range entries {
		got, err := tr.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, []byte(v), got)
	}
	missing, err := tr.Get([]byte("dogs"))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDeleteToEmpty(t *testing.T) {
	tr := NewEmptyTrie()
	keys := [][]byte{[]byte("do"), []byte("dog"), []byte("doge"), []byte("horse"), []byte("house")}
	for _, k := range keys {
		require.NoError(t, tr.Insert(k, append([]byte("v-"), k...)))
	}
	for _, k := range keys {
		require.NoError(t, tr.Delete(k))
	}
	require.Equal(t, EmptyRootHash, tr.Hash())
}

func TestDeleteMissingKey(t *testing.T) {
	tr := NewEmptyTrie()
	require.NoError(t, tr.Insert([]byte("dog"), []byte("puppy")))
	require.ErrorIs(t, tr.Delete([]byte("cat")), ErrKeyNotFound)
}

func TestDeleteCollapsesBranch(t *testing.T) {
	tr := NewEmptyTrie()
	require.NoError(t, tr.Insert([]byte("dog"), []byte("puppy")))
	require.NoError(t, tr.Insert([]byte("doge"), []byte("coin")))
	withSingle := NewEmptyTrie()
	require.NoError(t, withSingle.Insert([]byte("dog"), []byte("puppy")))

	require.NoError(t, tr.Delete([]byte("doge")))
	require.Equal(t, withSingle.Hash(), tr.Hash(), "deleting must collapse back to the single-leaf shape")
}

func TestBlindingIdempotence(t *testing.T) {
	tr := NewEmptyTrie()
	for i := 0; i < 50; i++ {
		require.NoError(t, tr.Insert([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("value-%d", i))))
	}
	open := tr.Hash()
	first := tr.Blind()
	second := tr.Blind()
	require.Equal(t, open, first)
	require.Equal(t, first, second)
}

func TestMatchesGethTransactionTrie(t *testing.T) {
	var txs types.Transactions
	for i := 0; i < 20; i++ {
		txs = append(txs, types.NewTx(&types.LegacyTx{
			Nonce:    uint64(i),
			GasPrice: big.NewInt(100),
			Gas:      21000,
			To:       &common.Address{0x42},
			Value:    big.NewInt(int64(i) * 7),
		}))
	}
	expected := types.DeriveSha(txs, trie.NewStackTrie(nil))

	var values []hexutil.Bytes
	for _, tx := range txs {
		data, err := tx.MarshalBinary()
		require.NoError(t, err)
		values = append(values, data)
	}
	root, _ := WriteTrie(values)
	require.Equal(t, expected, root)
}

func TestWriteReadTrieRoundtrip(t *testing.T) {
	var values []hexutil.Bytes
	for i := 0; i < 30; i++ {
		value := make([]byte, 10+i*13)
		for j := range value {
			value[j] = byte(i + j)
		}
		values = append(values, value)
	}
	root, nodes := WriteTrie(values)

	preimages := make(map[common.Hash][]byte)
	for _, node := range nodes {
		preimages[NodeHashOf(node)] = node
	}
	got := ReadTrie(root, func(hash common.Hash) []byte {
		pre, ok := preimages[hash]
		if !ok {
			t.Fatalf("missing node pre-image %s", hash)
		}
		return pre
	})
	require.Equal(t, values, got)
}

func TestOpenThroughBlindedRoot(t *testing.T) {
	// Build a trie, persist its nodes, then re-open it blinded and read
	// through the provider.
	src := NewEmptyTrie()
	entries := map[string]string{"alpha": "1", "beta": "2", "gamma": "3", "gamma-ray": "4"}
	for k, v := range entries {
		require.NoError(t, src.Insert([]byte(k), []byte(v)))
	}
	preimages := make(map[common.Hash][]byte)
	src.walkNodes(func(encoded []byte) {
		preimages[NodeHashOf(encoded)] = append([]byte{}, encoded...)
	})

	provider := TrieProviderFn(func(hash common.Hash) (*Node, error) {
		pre, ok := preimages[hash]
		if !ok {
			return nil, fmt.Errorf("missing pre-image for %s", hash)
		}
		return DecodeNode(pre)
	})
	reopened := NewTrie(src.Hash(), provider)
	for k, v := range entries {
		got, err := reopened.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, []byte(v), got)
	}
}

func TestNodeEncodeDecodeRoundtrip(t *testing.T) {
	tr := NewEmptyTrie()
	for i := 0; i < 40; i++ {
		require.NoError(t, tr.Insert([]byte(fmt.Sprintf("roundtrip/%02d", i)), []byte(fmt.Sprintf("payload %d", i))))
	}
	tr.walkNodes(func(encoded []byte) {
		node, err := DecodeNode(encoded)
		require.NoError(t, err)
		require.Equal(t, encoded, node.Encode())
	})
}

func TestDecodeNodeRejectsGarbage(t *testing.T) {
	_, err := DecodeNode(nil)
	require.ErrorIs(t, err, ErrInvalidNodeType)
	_, err = DecodeNode([]byte{0x85, 1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidNodeType)
	// 3-item list is not a valid node shape
	_, err = DecodeNode([]byte{0xc3, 0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrInvalidNodeType)
}
