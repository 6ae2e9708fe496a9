package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oplabs/fp-program/preimage"
)

func kvTest(t *testing.T, kv KV) {
	t.Run("roundtrip", func(t *testing.T) {
		key := common.Hash{0x01}
		require.NoError(t, kv.Put(key, []byte("hello")))
		value, err := kv.Get(key)
		require.NoError(t, err)
		require.Equal(t, []byte("hello"), value)
	})
	t.Run("overwrite", func(t *testing.T) {
		key := common.Hash{0x02}
		require.NoError(t, kv.Put(key, []byte("one")))
		require.NoError(t, kv.Put(key, []byte("two")))
		value, err := kv.Get(key)
		require.NoError(t, err)
		require.Equal(t, []byte("two"), value)
	})
	t.Run("not found", func(t *testing.T) {
		_, err := kv.Get(common.Hash{0xff})
		require.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("empty value", func(t *testing.T) {
		key := common.Hash{0x03}
		require.NoError(t, kv.Put(key, nil))
		value, err := kv.Get(key)
		require.NoError(t, err)
		require.Empty(t, value)
	})
}

func TestMemKV(t *testing.T) {
	kvTest(t, NewMemKV())
}

func TestDiskKV(t *testing.T) {
	dir := t.TempDir()
	kvTest(t, NewDiskKV(filepath.Join(dir, "kv")))
}

func TestSplitSource(t *testing.T) {
	local := func(key common.Hash) ([]byte, error) {
		return []byte("local"), nil
	}
	global := func(key common.Hash) ([]byte, error) {
		return []byte("global"), nil
	}
	split := NewSplitSource(local, global)

	localKey := common.Hash(preimage.LocalIndexKey(1).PreimageKey())
	value, err := split.Get(localKey)
	require.NoError(t, err)
	require.Equal(t, []byte("local"), value)

	globalKey := common.Hash(preimage.Keccak256Key([32]byte{0xab}).PreimageKey())
	value, err = split.Get(globalKey)
	require.NoError(t, err)
	require.Equal(t, []byte("global"), value)
}
