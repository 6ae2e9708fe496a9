package prefetcher

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"github.com/oplabs/fp-program/client/l1"
	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/host/kvstore"
	"github.com/oplabs/fp-program/preimage"
)

type stubL1Source struct {
	headers map[common.Hash]*types.Header
}

func (s *stubL1Source) InfoByHash(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, error) {
	header, ok := s.headers[blockHash]
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	return eth.HeaderBlockInfo(header), nil
}

func (s *stubL1Source) InfoAndTxsByHash(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Transactions, error) {
	info, err := s.InfoByHash(ctx, blockHash)
	return info, nil, err
}

func (s *stubL1Source) FetchReceipts(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Receipts, error) {
	info, err := s.InfoByHash(ctx, blockHash)
	return info, nil, err
}

type stubBlobSource struct{}

func (s *stubBlobSource) GetBlobSidecars(ctx context.Context, ref eth.L1BlockRef, hashes []eth.IndexedBlobHash) ([]*BlobSidecar, error) {
	return nil, kvstore.ErrNotFound
}

func newTestPrefetcher(t *testing.T, headers ...*types.Header) (*Prefetcher, kvstore.KV) {
	kv := kvstore.NewMemKV()
	source := &stubL1Source{headers: make(map[common.Hash]*types.Header)}
	for _, header := range headers {
		source.headers[header.Hash()] = header
	}
	logger := log.NewLogger(log.DiscardHandler())
	noL2 := func(chainID uint64) (L2Source, error) {
		t.Fatalf("unexpected L2 source request for chain %d", chainID)
		return nil, nil
	}
	return NewPrefetcher(logger, source, &stubBlobSource{}, noL2, kv), kv
}

func TestPrefetchL1Header(t *testing.T) {
	header := &types.Header{Number: big.NewInt(1234), Difficulty: big.NewInt(0)}
	prefetcher, kv := newTestPrefetcher(t, header)

	hash := header.Hash()
	require.NoError(t, prefetcher.Hint(l1.BlockHeaderHint(hash).Hint()))
	pre, err := prefetcher.GetPreimage(context.Background(), common.Hash(preimage.Keccak256Key(hash).PreimageKey()))
	require.NoError(t, err)

	expected, err := rlp.EncodeToBytes(header)
	require.NoError(t, err)
	require.Equal(t, expected, pre)

	// The pre-image survives in the store for later direct reads.
	stored, err := kv.Get(common.Hash(preimage.Keccak256Key(hash).PreimageKey()))
	require.NoError(t, err)
	require.Equal(t, expected, stored)
}

func TestPrefetchPrecompileEcrecover(t *testing.T) {
	prefetcher, _ := newTestPrefetcher(t)

	// Sign a digest so ecrecover has a valid input to recover.
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	digest := crypto.Keccak256Hash([]byte("payload"))
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	input := make([]byte, 128)
	copy(input[:32], digest.Bytes())
	input[63] = sig[64] + 27
	copy(input[64:96], sig[:32])
	copy(input[96:128], sig[32:64])

	addr := common.BytesToAddress([]byte{0x01})
	payload := append(addr.Bytes(), input...)
	require.NoError(t, prefetcher.Hint(l1.PrecompileHint(payload).Hint()))

	keyHash := crypto.Keccak256Hash(payload)
	result, err := prefetcher.GetPreimage(context.Background(), common.Hash(preimage.PrecompileKey(keyHash).PreimageKey()))
	require.NoError(t, err)
	require.Equal(t, byte(1), result[0], "status byte signals success")

	expectedAddr := crypto.PubkeyToAddress(key.PublicKey)
	require.Equal(t, expectedAddr.Bytes(), result[1+12:], "recovered address is left-padded to 32 bytes")
}

func TestUnknownHintType(t *testing.T) {
	prefetcher, _ := newTestPrefetcher(t)
	require.NoError(t, prefetcher.Hint("no-such-hint 0x1234"))
	_, err := prefetcher.GetPreimage(context.Background(), common.Hash{0xab})
	require.ErrorContains(t, err, "unknown hint type")
}
