package prefetcher

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	gokzg4844 "github.com/crate-crypto/go-kzg-4844"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/preimage"
)

var (
	kzgCtxOnce sync.Once
	kzgCtx     *gokzg4844.Context
)

func kzgContext() *gokzg4844.Context {
	kzgCtxOnce.Do(func() {
		ctx, err := gokzg4844.NewContext4096Secure()
		if err != nil {
			panic(fmt.Errorf("failed to load KZG trusted setup: %w", err))
		}
		kzgCtx = ctx
	})
	return kzgCtx
}

// prefetchBlob fetches a blob sidecar, verifies it against its KZG commitment
// and stores the commitment plus all 4096 field elements.
func (p *Prefetcher) prefetchBlob(ctx context.Context, versionHash common.Hash, index uint64, refTimestamp uint64) error {
	// Fetch the blob sidecar for the indexed blob hash passed in the hint.
	indexedBlobHash := eth.IndexedBlobHash{
		Hash:  versionHash,
		Index: index,
	}
	// The beacon client only needs the timestamp of the L1 block reference,
	// which is part of the hint.
	sidecars, err := p.l1BlobFetcher.GetBlobSidecars(ctx, eth.L1BlockRef{Time: refTimestamp}, []eth.IndexedBlobHash{indexedBlobHash})
	if err != nil || len(sidecars) != 1 {
		return fmt.Errorf("failed to fetch blob sidecars for %s %d: %w", versionHash, index, err)
	}
	sidecar := sidecars[0]

	// An unverified sidecar would let a malicious beacon endpoint poison the
	// proof inputs; check the blob against its commitment and proof first.
	if err := kzgContext().VerifyBlobKZGProof(
		gokzg4844.Blob(sidecar.Blob),
		gokzg4844.KZGCommitment(sidecar.KZGCommitment),
		gokzg4844.KZGProof(sidecar.KZGProof),
	); err != nil {
		return fmt.Errorf("invalid blob sidecar for %s %d: %w", versionHash, index, err)
	}

	// Put the preimage for the versioned hash into the kv store
	if err = p.kvStore.Put(preimage.Sha256Key(versionHash).PreimageKey(), sidecar.KZGCommitment[:]); err != nil {
		return err
	}

	// Put all of the blob's field elements into the kv store. There should be 4096. The preimage oracle key for
	// each field element is the keccak256 hash of `abi.encodePacked(sidecar.KZGCommitment, uint256(i))`
	blobKey := make([]byte, 80)
	copy(blobKey[:48], sidecar.KZGCommitment[:])
	for i := 0; i < eth.FieldElementsPerBlob; i++ {
		binary.BigEndian.PutUint64(blobKey[72:], uint64(i))
		blobKeyHash := crypto.Keccak256Hash(blobKey)
		if err := p.kvStore.Put(preimage.Keccak256Key(blobKeyHash).PreimageKey(), blobKey); err != nil {
			return err
		}
		if err = p.kvStore.Put(preimage.BlobKey(blobKeyHash).PreimageKey(), sidecar.Blob[i<<5:(i+1)<<5]); err != nil {
			return err
		}
	}
	return nil
}
