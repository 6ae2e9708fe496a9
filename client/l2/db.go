package l2

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
)

var ErrInvalidKeyLength = errors.New("pre-images must be identified by 32-byte hash keys")

var codePrefixedKeyLength = common.HashLength + len(rawdb.CodePrefix)

// OracleKeyValueStore is an ethdb.KeyValueStore that answers node and code
// reads from the state oracle, while buffering writes (new trie nodes from
// the commit of an executed block) in memory.
type OracleKeyValueStore struct {
	// The memory database holds everything written during block execution.
	*memorydb.Database
	oracle StateOracle
}

var _ ethdb.KeyValueStore = (*OracleKeyValueStore)(nil)

func NewOracleBackedDB(oracle StateOracle) *OracleKeyValueStore {
	return &OracleKeyValueStore{
		Database: memorydb.New(),
		oracle:   oracle,
	}
}

func (o *OracleKeyValueStore) Get(key []byte) ([]byte, error) {
	if has, _ := o.Database.Has(key); has {
		return o.Database.Get(key)
	}
	if len(key) == codePrefixedKeyLength && bytes.HasPrefix(key, rawdb.CodePrefix) {
		key = key[len(rawdb.CodePrefix):]
		return o.oracle.CodeByHash(common.BytesToHash(key)), nil
	}
	if len(key) != common.HashLength {
		return nil, ErrInvalidKeyLength
	}
	return o.oracle.NodeByHash(common.BytesToHash(key)), nil
}
