package preimage

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOracleClientServer(t *testing.T) {
	aChan, bChan := CreateBidirectionalChannel()
	client := NewOracleClient(aChan)
	server := NewOracleServer(bChan)

	preimages := map[[32]byte][]byte{
		Keccak256Key([32]byte{0xaa}).PreimageKey(): []byte("hello"),
		LocalIndexKey(1).PreimageKey():             {0xde, 0xad, 0xbe, 0xef},
		Sha256Key([32]byte{0xbb}).PreimageKey():    {},
	}
	serve := func(key [32]byte) ([]byte, error) {
		return preimages[key], nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			require.NoError(t, server.NextPreimageRequest(serve))
		}
	}()

	require.Equal(t, []byte("hello"), client.Get(Keccak256Key([32]byte{0xaa})))
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, client.Get(LocalIndexKey(1)))
	require.Empty(t, client.Get(Sha256Key([32]byte{0xbb})))
	wg.Wait()
}

func TestOracleClientGetExact(t *testing.T) {
	aChan, bChan := CreateBidirectionalChannel()
	client := NewOracleClient(aChan)
	server := NewOracleServer(bChan)

	value := make([]byte, 100)
	_, err := rand.Read(value)
	require.NoError(t, err)
	serve := func(key [32]byte) ([]byte, error) {
		return value, nil
	}

	t.Run("matching length", func(t *testing.T) {
		go func() {
			_ = server.NextPreimageRequest(serve)
		}()
		dest := make([]byte, len(value))
		client.GetExact(LocalIndexKey(2), dest)
		require.Equal(t, value, dest)
	})

	t.Run("length mismatch", func(t *testing.T) {
		go func() {
			_ = server.NextPreimageRequest(serve)
		}()
		dest := make([]byte, len(value)-1)
		require.Panics(t, func() {
			client.GetExact(LocalIndexKey(2), dest)
		})
	})
}

func TestPreimageKeyTypes(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		typ  KeyType
	}{
		{"local", LocalIndexKey(3), LocalKeyType},
		{"keccak256", Keccak256Key([32]byte{0xff, 0x01}), Keccak256KeyType},
		{"sha256", Sha256Key([32]byte{0xff, 0x02}), Sha256KeyType},
		{"blob", BlobKey([32]byte{0xff, 0x03}), BlobKeyType},
		{"precompile", PrecompileKey([32]byte{0xff, 0x04}), PrecompileKeyType},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			key := test.key.PreimageKey()
			require.Equal(t, byte(test.typ), key[0], "key type tag must be the high byte")
		})
	}
}

func TestLocalIndexKeyEncoding(t *testing.T) {
	key := LocalIndexKey(0x1234).PreimageKey()
	require.Equal(t, byte(LocalKeyType), key[0])
	require.Equal(t, uint64(0x1234), binary.BigEndian.Uint64(key[24:]))
	require.True(t, bytes.Equal(key[1:24], make([]byte, 23)))
}

func TestWireFormat(t *testing.T) {
	// A request is the raw 32-byte key; the response is a u64 BE length plus payload.
	var buf bytes.Buffer
	server := NewOracleServer(NewReadWritePair(bytes.NewReader(append(make([]byte, 31), 7)), &buf))
	require.NoError(t, server.NextPreimageRequest(func(key [32]byte) ([]byte, error) {
		return []byte{1, 2, 3}, nil
	}))
	out := buf.Bytes()
	require.Equal(t, uint64(3), binary.BigEndian.Uint64(out[:8]))
	require.Equal(t, []byte{1, 2, 3}, out[8:])
}
