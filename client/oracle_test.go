package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oplabs/fp-program/preimage"
)

type countingOracle struct {
	count     int
	preimages map[[32]byte][]byte
}

func (o *countingOracle) Get(key preimage.Key) []byte {
	o.count++
	return o.preimages[key.PreimageKey()]
}

type recordingHinter struct {
	hints []string
}

func (h *recordingHinter) Hint(v preimage.Hint) {
	h.hints = append(h.hints, v.Hint())
}

func TestCachingOracleTransparency(t *testing.T) {
	key := preimage.Keccak256Key([32]byte{0x01})
	backing := &countingOracle{preimages: map[[32]byte][]byte{
		key.PreimageKey(): []byte("payload"),
	}}
	oracle := NewCachingOracle(backing, &recordingHinter{}, 10)

	require.Equal(t, []byte("payload"), oracle.Get(key))
	require.Equal(t, []byte("payload"), oracle.Get(key))
	require.Equal(t, []byte("payload"), oracle.Get(key))
	require.Equal(t, 1, backing.count, "repeated reads must be served from the cache")
}

func TestCachingOracleEviction(t *testing.T) {
	backing := &countingOracle{preimages: map[[32]byte][]byte{}}
	// Byte 0 of a key is replaced by the type tag, so the index goes in byte 1.
	for i := 0; i < 4; i++ {
		key := preimage.Keccak256Key([32]byte{1: byte(i)})
		backing.preimages[key.PreimageKey()] = []byte{byte(i)}
	}
	oracle := NewCachingOracle(backing, &recordingHinter{}, 2)

	for i := 0; i < 4; i++ {
		oracle.Get(preimage.Keccak256Key([32]byte{1: byte(i)}))
	}
	require.Equal(t, 4, backing.count)

	// The two oldest entries were evicted; re-reading them hits the backing oracle.
	oracle.Get(preimage.Keccak256Key([32]byte{1: 0}))
	require.Equal(t, 5, backing.count)
	// The most recent entry is still cached.
	oracle.Get(preimage.Keccak256Key([32]byte{1: 3}))
	require.Equal(t, 5, backing.count)
}

func TestCachingOracleFlush(t *testing.T) {
	key := preimage.Keccak256Key([32]byte{0x07})
	backing := &countingOracle{preimages: map[[32]byte][]byte{
		key.PreimageKey(): []byte("x"),
	}}
	oracle := NewCachingOracle(backing, &recordingHinter{}, 10)

	oracle.Get(key)
	oracle.Flush()
	oracle.Get(key)
	require.Equal(t, 2, backing.count, "flush must empty the cache")
}

func TestCachingOraclePassesHints(t *testing.T) {
	hinter := &recordingHinter{}
	oracle := NewCachingOracle(&countingOracle{}, hinter, 10)
	oracle.Hint(preimage.RawHint("l1-block-header 0x01"))
	require.Equal(t, []string{"l1-block-header 0x01"}, hinter.hints)
}
