package prefetcher

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/client/l1"
	"github.com/oplabs/fp-program/client/l2"
	"github.com/oplabs/fp-program/client/mpt"
	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/host/kvstore"
	"github.com/oplabs/fp-program/preimage"
)

// L1Source fetches canonical L1 chain data. Implementations live outside the
// proof: typically RPC clients in an operator service.
type L1Source interface {
	InfoByHash(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, error)
	InfoAndTxsByHash(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Transactions, error)
	FetchReceipts(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Receipts, error)
}

// L1BlobSource fetches blob sidecars from a beacon API.
type L1BlobSource interface {
	GetBlobSidecars(ctx context.Context, ref eth.L1BlockRef, hashes []eth.IndexedBlobHash) ([]*BlobSidecar, error)
}

// BlobSidecar is a blob with its KZG commitment and proof.
type BlobSidecar struct {
	Blob          eth.Blob
	KZGCommitment kzg4844.Commitment
	KZGProof      kzg4844.Proof
	Index         uint64
}

// L2Source fetches L2 chain data for one chain of the proof.
type L2Source interface {
	InfoAndTxsByHash(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Transactions, error)
	FetchReceipts(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Receipts, error)
	// NodeByHash fetches a state/storage trie node by hash (debug namespace).
	NodeByHash(ctx context.Context, hash common.Hash) ([]byte, error)
	// CodeByHash fetches contract code by code hash (debug namespace).
	CodeByHash(ctx context.Context, hash common.Hash) ([]byte, error)
	// GetProof fetches an account proof, with the storage proofs of the given slots.
	GetProof(ctx context.Context, address common.Address, slots []common.Hash, blockHash common.Hash) (*ProofResult, error)
	// OutputByRoot fetches the output pre-image with the given root.
	OutputByRoot(ctx context.Context, root common.Hash) (eth.Output, error)
}

// ProofResult is the subset of an eth_getProof response the host stores.
type ProofResult struct {
	AccountProof []hexutil.Bytes
	StorageProof [][]hexutil.Bytes
}

// L2Sources routes by chain ID, for interop proofs with multiple chains.
type L2Sources func(chainID uint64) (L2Source, error)

// Prefetcher fetches the pre-images a hint advertises and stores them in the
// KV store, so the subsequent pre-image requests can be served.
type Prefetcher struct {
	logger        log.Logger
	l1Fetcher     L1Source
	l1BlobFetcher L1BlobSource
	l2Sources     L2Sources
	lastHint      string
	kvStore       kvstore.KV
}

func NewPrefetcher(logger log.Logger, l1Fetcher L1Source, l1BlobFetcher L1BlobSource, l2Sources L2Sources, kvStore kvstore.KV) *Prefetcher {
	return &Prefetcher{
		logger:        logger,
		l1Fetcher:     NewRetryingL1Source(logger, l1Fetcher),
		l1BlobFetcher: NewRetryingL1BlobSource(logger, l1BlobFetcher),
		l2Sources:     l2Sources,
		kvStore:       kvStore,
	}
}

func (p *Prefetcher) Hint(hint string) error {
	p.logger.Trace("Received hint", "hint", hint)
	p.lastHint = hint
	return nil
}

func (p *Prefetcher) GetPreimage(ctx context.Context, key common.Hash) ([]byte, error) {
	p.logger.Trace("Pre-image requested", "key", key)
	pre, err := p.kvStore.Get(key)
	// Use a loop to keep retrying the prefetch as long as the key is not found
	// This handles the case where the prefetch downloads a preimage, but it is then deleted unexpectedly
	// before we get to read it.
	for errors.Is(err, kvstore.ErrNotFound) && p.lastHint != "" {
		hint := p.lastHint
		if err := p.prefetch(ctx, hint); err != nil {
			return nil, fmt.Errorf("prefetch failed: %w", err)
		}
		pre, err = p.kvStore.Get(key)
		if err != nil {
			p.logger.Error("Fetched pre-images for last hint but did not find required key", "hint", hint, "key", key)
		}
	}
	return pre, err
}

func (p *Prefetcher) prefetch(ctx context.Context, hint string) error {
	hintType, hintBytes, err := parseHint(hint)
	if err != nil {
		return err
	}
	p.logger.Debug("Prefetching", "type", hintType, "bytes", hexutil.Bytes(hintBytes))
	switch hintType {
	case l1.HintL1BlockHeader:
		if len(hintBytes) != 32 {
			return fmt.Errorf("invalid L1 block hint: %x", hint)
		}
		hash := common.Hash(hintBytes)
		header, err := p.l1Fetcher.InfoByHash(ctx, hash)
		if err != nil {
			return fmt.Errorf("failed to fetch L1 block %s header: %w", hash, err)
		}
		data, err := header.HeaderRLP()
		if err != nil {
			return fmt.Errorf("marshall header: %w", err)
		}
		return p.kvStore.Put(preimage.Keccak256Key(hash).PreimageKey(), data)
	case l1.HintL1Transactions:
		if len(hintBytes) != 32 {
			return fmt.Errorf("invalid L1 transactions hint: %x", hint)
		}
		hash := common.Hash(hintBytes)
		_, txs, err := p.l1Fetcher.InfoAndTxsByHash(ctx, hash)
		if err != nil {
			return fmt.Errorf("failed to fetch L1 block %s txs: %w", hash, err)
		}
		return p.storeTransactions(txs)
	case l1.HintL1Receipts:
		if len(hintBytes) != 32 {
			return fmt.Errorf("invalid L1 receipts hint: %x", hint)
		}
		hash := common.Hash(hintBytes)
		_, receipts, err := p.l1Fetcher.FetchReceipts(ctx, hash)
		if err != nil {
			return fmt.Errorf("failed to fetch L1 block %s receipts: %w", hash, err)
		}
		return p.storeReceipts(receipts)
	case l1.HintL1Blob:
		if len(hintBytes) != 48 {
			return fmt.Errorf("invalid blob hint: %x", hint)
		}
		blobVersionHash := common.Hash(hintBytes[:32])
		blobHashIndex := binary.BigEndian.Uint64(hintBytes[32:40])
		refTimestamp := binary.BigEndian.Uint64(hintBytes[40:48])
		return p.prefetchBlob(ctx, blobVersionHash, blobHashIndex, refTimestamp)
	case l1.HintL1Precompile:
		if len(hintBytes) < 20 {
			return fmt.Errorf("invalid precompile hint: %x", hint)
		}
		precompileAddress := common.BytesToAddress(hintBytes[:20])
		input := hintBytes[20:]
		result := runPrecompile(precompileAddress, input)
		inputHash := crypto.Keccak256Hash(hintBytes)
		// Put the input preimage so it can be loaded later
		if err := p.kvStore.Put(preimage.Keccak256Key(inputHash).PreimageKey(), hintBytes); err != nil {
			return err
		}
		return p.kvStore.Put(preimage.PrecompileKey(inputHash).PreimageKey(), result)
	case l2.HintL2BlockHeader, l2.HintL2Transactions:
		hash, chainID, err := splitChainIDSuffix(hintBytes, 32)
		if err != nil {
			return fmt.Errorf("invalid L2 header/transactions hint: %x", hint)
		}
		source, err := p.l2Sources(chainID)
		if err != nil {
			return err
		}
		header, txs, err := source.InfoAndTxsByHash(ctx, common.Hash(hash))
		if err != nil {
			return fmt.Errorf("failed to fetch L2 block %x: %w", hash, err)
		}
		data, err := header.HeaderRLP()
		if err != nil {
			return fmt.Errorf("marshall header: %w", err)
		}
		if err := p.kvStore.Put(preimage.Keccak256Key(common.Hash(hash)).PreimageKey(), data); err != nil {
			return err
		}
		return p.storeTransactions(txs)
	case l2.HintL2Receipts:
		hash, chainID, err := splitChainIDSuffix(hintBytes, 32)
		if err != nil {
			return fmt.Errorf("invalid L2 receipts hint: %x", hint)
		}
		source, err := p.l2Sources(chainID)
		if err != nil {
			return err
		}
		_, receipts, err := source.FetchReceipts(ctx, common.Hash(hash))
		if err != nil {
			return fmt.Errorf("failed to fetch L2 block %x receipts: %w", hash, err)
		}
		return p.storeReceipts(receipts)
	case l2.HintL2StateNode:
		hash, chainID, err := splitChainIDSuffix(hintBytes, 32)
		if err != nil {
			return fmt.Errorf("invalid L2 state node hint: %x", hint)
		}
		source, err := p.l2Sources(chainID)
		if err != nil {
			return err
		}
		node, err := source.NodeByHash(ctx, common.Hash(hash))
		if err != nil {
			return fmt.Errorf("failed to fetch L2 state node %x: %w", hash, err)
		}
		return p.kvStore.Put(preimage.Keccak256Key(common.Hash(hash)).PreimageKey(), node)
	case l2.HintL2Code:
		hash, chainID, err := splitChainIDSuffix(hintBytes, 32)
		if err != nil {
			return fmt.Errorf("invalid L2 code hint: %x", hint)
		}
		source, err := p.l2Sources(chainID)
		if err != nil {
			return err
		}
		code, err := source.CodeByHash(ctx, common.Hash(hash))
		if err != nil {
			return fmt.Errorf("failed to fetch L2 contract code %x: %w", hash, err)
		}
		return p.kvStore.Put(preimage.Keccak256Key(common.Hash(hash)).PreimageKey(), code)
	case l2.HintL2AccountProof:
		payload, chainID, err := splitChainIDSuffix(hintBytes, 32+20)
		if err != nil {
			return fmt.Errorf("invalid L2 account proof hint: %x", hint)
		}
		source, err := p.l2Sources(chainID)
		if err != nil {
			return err
		}
		blockHash := common.Hash(payload[:32])
		address := common.BytesToAddress(payload[32:52])
		proof, err := source.GetProof(ctx, address, nil, blockHash)
		if err != nil {
			return fmt.Errorf("failed to fetch account proof for %s at %s: %w", address, blockHash, err)
		}
		return p.storeProofNodes(proof)
	case l2.HintL2AccountStorageProof:
		payload, chainID, err := splitChainIDSuffix(hintBytes, 32+20+32)
		if err != nil {
			return fmt.Errorf("invalid L2 storage proof hint: %x", hint)
		}
		source, err := p.l2Sources(chainID)
		if err != nil {
			return err
		}
		blockHash := common.Hash(payload[:32])
		address := common.BytesToAddress(payload[32:52])
		slot := common.Hash(payload[52:84])
		proof, err := source.GetProof(ctx, address, []common.Hash{slot}, blockHash)
		if err != nil {
			return fmt.Errorf("failed to fetch storage proof for %s slot %s: %w", address, slot, err)
		}
		return p.storeProofNodes(proof)
	case l2.HintL2Output:
		root, chainID, err := splitChainIDSuffix(hintBytes, 32)
		if err != nil {
			return fmt.Errorf("invalid L2 output hint: %x", hint)
		}
		source, err := p.l2Sources(chainID)
		if err != nil {
			return err
		}
		output, err := source.OutputByRoot(ctx, common.Hash(root))
		if err != nil {
			return fmt.Errorf("failed to fetch L2 output %x: %w", root, err)
		}
		return p.kvStore.Put(preimage.Keccak256Key(common.Hash(root)).PreimageKey(), output.Marshal())
	case l2.HintAgreedPrestate:
		// The agreed pre-state is supplied out-of-band at bootstrap time; the
		// hint only confirms the key the client will request next.
		return nil
	case l2.HintL2BlockData:
		payload, chainID, err := splitChainIDSuffix(hintBytes, 64)
		if err != nil {
			return fmt.Errorf("invalid L2 block data hint: %x", hint)
		}
		source, err := p.l2Sources(chainID)
		if err != nil {
			return err
		}
		blockHash := common.Hash(payload[32:64])
		header, txs, err := source.InfoAndTxsByHash(ctx, blockHash)
		if err != nil {
			return fmt.Errorf("failed to fetch L2 block data %s: %w", blockHash, err)
		}
		data, err := header.HeaderRLP()
		if err != nil {
			return fmt.Errorf("marshall header: %w", err)
		}
		if err := p.kvStore.Put(preimage.Keccak256Key(blockHash).PreimageKey(), data); err != nil {
			return err
		}
		return p.storeTransactions(txs)
	}
	return fmt.Errorf("unknown hint type: %v", hintType)
}

func (p *Prefetcher) storeReceipts(receipts types.Receipts) error {
	opaqueReceipts, err := eth.EncodeReceipts(receipts)
	if err != nil {
		return err
	}
	return p.storeTrieNodes(opaqueReceipts)
}

func (p *Prefetcher) storeTransactions(txs types.Transactions) error {
	opaqueTxs, err := eth.EncodeTransactions(txs)
	if err != nil {
		return err
	}
	return p.storeTrieNodes(opaqueTxs)
}

func (p *Prefetcher) storeTrieNodes(values []hexutil.Bytes) error {
	_, nodes := mpt.WriteTrie(values)
	for _, node := range nodes {
		key := preimage.Keccak256Key(crypto.Keccak256Hash(node)).PreimageKey()
		if err := p.kvStore.Put(key, node); err != nil {
			return fmt.Errorf("failed to store node: %w", err)
		}
	}
	return nil
}

func (p *Prefetcher) storeProofNodes(proof *ProofResult) error {
	for _, node := range proof.AccountProof {
		key := preimage.Keccak256Key(crypto.Keccak256Hash(node)).PreimageKey()
		if err := p.kvStore.Put(key, node); err != nil {
			return fmt.Errorf("failed to store account proof node: %w", err)
		}
	}
	for _, storageProof := range proof.StorageProof {
		for _, node := range storageProof {
			key := preimage.Keccak256Key(crypto.Keccak256Hash(node)).PreimageKey()
			if err := p.kvStore.Put(key, node); err != nil {
				return fmt.Errorf("failed to store storage proof node: %w", err)
			}
		}
	}
	return nil
}

// splitChainIDSuffix splits an L2 hint payload into its fixed-size body and
// the trailing big-endian chain ID.
func splitChainIDSuffix(hintBytes []byte, payloadLen int) ([]byte, uint64, error) {
	if len(hintBytes) != payloadLen+8 {
		return nil, 0, fmt.Errorf("unexpected hint payload length: %d", len(hintBytes))
	}
	return hintBytes[:payloadLen], binary.BigEndian.Uint64(hintBytes[payloadLen:]), nil
}

// parseHint parses a hint string in wire protocol. Returns the hint type, requested hash and error (if any).
func parseHint(hint string) (string, []byte, error) {
	hintType, bytesStr, found := strings.Cut(hint, " ")
	if !found {
		return "", nil, fmt.Errorf("unsupported hint: %s", hint)
	}

	hintBytes, err := hexutil.Decode(bytesStr)
	if err != nil {
		return "", make([]byte, 0), fmt.Errorf("invalid bytes: %s", bytesStr)
	}
	return hintType, hintBytes, nil
}
