package l2

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/stretchr/testify/require"
)

type stubStateOracle struct {
	nodes map[common.Hash][]byte
	code  map[common.Hash][]byte
}

func newStubStateOracle() *stubStateOracle {
	return &stubStateOracle{
		nodes: make(map[common.Hash][]byte),
		code:  make(map[common.Hash][]byte),
	}
}

func (s *stubStateOracle) NodeByHash(nodeHash common.Hash) []byte {
	return s.nodes[nodeHash]
}

func (s *stubStateOracle) CodeByHash(codeHash common.Hash) []byte {
	return s.code[codeHash]
}

func TestOracleKeyValueStoreRouting(t *testing.T) {
	oracle := newStubStateOracle()
	db := NewOracleBackedDB(oracle)

	nodeHash := common.Hash{0x01}
	oracle.nodes[nodeHash] = []byte("node-data")
	value, err := db.Get(nodeHash.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("node-data"), value)

	codeHash := common.Hash{0x02}
	oracle.code[codeHash] = []byte("contract-code")
	value, err = db.Get(append(rawdb.CodePrefix, codeHash.Bytes()...))
	require.NoError(t, err)
	require.Equal(t, []byte("contract-code"), value)

	_, err = db.Get([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestOracleKeyValueStoreWritesShadowOracle(t *testing.T) {
	oracle := newStubStateOracle()
	db := NewOracleBackedDB(oracle)

	key := common.Hash{0x03}
	oracle.nodes[key] = []byte("old")
	require.NoError(t, db.Put(key.Bytes(), []byte("new")))

	value, err := db.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("new"), value, "locally committed nodes take precedence")
}
