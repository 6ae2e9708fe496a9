package mpt

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// WriteTrie takes a list of values and computes the list trie over them, as
// used for transactions and receipts in block headers. It returns the root
// and every node encoding the trie references by hash, root included, so a
// host can store them as keccak pre-images.
func WriteTrie(values []hexutil.Bytes) (common.Hash, [][]byte) {
	t := NewEmptyTrie()
	for i, value := range values {
		if err := t.Insert(listTrieKey(uint64(i)), value); err != nil {
			// Insertion into a fully materialized trie cannot fail.
			panic(fmt.Errorf("failed to insert list trie value %d: %w", i, err))
		}
	}
	var nodes [][]byte
	t.walkNodes(func(encoded []byte) {
		nodes = append(nodes, encoded)
	})
	return t.Hash(), nodes
}

// ReadTrie unrolls a list trie by walking indices in order until a miss,
// resolving nodes through getPreimage.
func ReadTrie(root common.Hash, getPreimage func(hash common.Hash) []byte) []hexutil.Bytes {
	provider := TrieProviderFn(func(hash common.Hash) (*Node, error) {
		node, err := DecodeNode(getPreimage(hash))
		if err != nil {
			return nil, fmt.Errorf("invalid trie node pre-image %s: %w", hash, err)
		}
		if got := node.NodeHash(); got != hash {
			return nil, fmt.Errorf("trie node pre-image %s hashes to %s", hash, got)
		}
		return node, nil
	})
	t := NewTrie(root, provider)

	var values []hexutil.Bytes
	for i := uint64(0); ; i++ {
		value, err := t.Get(listTrieKey(i))
		if err != nil {
			panic(fmt.Errorf("failed to read list trie index %d: %w", i, err))
		}
		if value == nil {
			break
		}
		values = append(values, hexutil.Bytes(value))
	}
	return values
}

// listTrieKey is the trie key of list index i: its RLP encoding.
func listTrieKey(i uint64) []byte {
	return rlp.AppendUint64(nil, i)
}

// NodeHashOf hashes a raw node encoding.
func NodeHashOf(encoded []byte) common.Hash {
	return crypto.Keccak256Hash(encoded)
}
